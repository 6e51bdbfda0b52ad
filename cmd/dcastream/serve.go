package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/dcastream/internal/certs"
	"github.com/zsiec/dcastream/internal/decode"
	"github.com/zsiec/dcastream/internal/distribution"
	"github.com/zsiec/dcastream/internal/ingest"
	srtingest "github.com/zsiec/dcastream/internal/ingest/srt"
	"github.com/zsiec/dcastream/internal/pipeline"
	"github.com/zsiec/dcastream/internal/stream"
)

var serveFlags struct {
	srtAddr     string
	quicAddr    string
	drc         bool
	maxChannels int
	pullAddr    string
	pullKey     string
	pullID      string
	pullDVD     bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the SRT ingest and QUIC distribution server",
	Long: "Accepts DCA streams over SRT, decodes them to PCM, and relays the\n" +
		"decoded audio to QUIC subscribers.",
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.srtAddr, "srt", envOr("SRT_ADDR", ":6000"), "SRT ingest listen address")
	serveCmd.Flags().StringVar(&serveFlags.quicAddr, "quic", envOr("QUIC_ADDR", ":4443"), "QUIC distribution listen address")
	serveCmd.Flags().BoolVar(&serveFlags.drc, "drc", false, "apply dynamic range compression while decoding")
	serveCmd.Flags().IntVar(&serveFlags.maxChannels, "max-channels", 6, "largest channel count to decode to (1-6)")
	serveCmd.Flags().StringVar(&serveFlags.pullAddr, "pull", "", "SRT address to pull a stream from at startup")
	serveCmd.Flags().StringVar(&serveFlags.pullKey, "pull-key", "pulled", "stream key for the pulled stream")
	serveCmd.Flags().StringVar(&serveFlags.pullID, "pull-id", "", "override the streamid sent with the pull request")
	serveCmd.Flags().BoolVar(&serveFlags.pullDVD, "pull-dvd", false, "treat the pulled stream as DVD sub-packets")
}

type app struct {
	mgr      *stream.Manager
	registry *ingest.Registry
	distSrv  *distribution.Server
}

func runServe() error {
	if serveFlags.maxChannels < 1 || serveFlags.maxChannels > 6 {
		return fmt.Errorf("serve: --max-channels must be 1-6, got %d", serveFlags.maxChannels)
	}

	slog.Info("generating self-signed certificate")
	cert, err := certs.Generate(14 * 24 * time.Hour)
	if err != nil {
		return fmt.Errorf("serve: generate cert: %w", err)
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	a := &app{
		mgr: stream.NewManager(nil),
	}

	slog.Info("dcastream starting",
		"version", version,
		"srt", serveFlags.srtAddr,
		"quic", serveFlags.quicAddr,
		"cert_hash", cert.FingerprintBase64(),
	)

	g, ctx := errgroup.WithContext(ctx)

	// Create the registry after the errgroup so the callback captures the
	// errgroup-derived context, ensuring streams shut down when any component
	// fails.
	a.registry = ingest.NewRegistry(func(key string, input io.Reader, format ingest.InputFormat) {
		a.handleNewStream(ctx, key, input, format)
	})

	a.distSrv, err = distribution.NewServer(distribution.ServerConfig{
		Addr: serveFlags.quicAddr,
		Cert: cert,
	})
	if err != nil {
		return fmt.Errorf("serve: create distribution server: %w", err)
	}

	srtSrv := srtingest.NewServer(serveFlags.srtAddr, a.registry, nil)

	g.Go(func() error {
		return srtSrv.Start(ctx)
	})

	g.Go(func() error {
		return a.distSrv.Start(ctx)
	})

	if serveFlags.pullAddr != "" {
		caller := srtingest.NewCaller(a.registry, nil)
		if err := caller.Pull(ctx, srtingest.PullRequest{
			Address:   serveFlags.pullAddr,
			StreamKey: serveFlags.pullKey,
			StreamID:  serveFlags.pullID,
			DVD:       serveFlags.pullDVD,
		}); err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("serve: pull %s: %w", serveFlags.pullAddr, err)
		}
	}

	return g.Wait()
}

func (a *app) handleNewStream(ctx context.Context, key string, input io.Reader, format ingest.InputFormat) {
	slog.Info("new stream from ingest", "key", key, "format", format)

	if _, created := a.mgr.Create(key, "srt"); !created {
		slog.Warn("rejecting duplicate stream connection", "key", key)
		return
	}
	defer a.teardownStream(key)

	relay := a.distSrv.RegisterStream(key)

	p := pipeline.New(key, input, relay,
		pipeline.WithChannelRange(1, serveFlags.maxChannels),
		pipeline.WithDecodeOptions(
			decode.WithDynamicRange(serveFlags.drc),
			decode.WithDVDMode(format == ingest.FormatDVD),
		),
	)
	p.SetProtocol("srt")
	a.distSrv.SetStats(key, p)

	if err := p.Run(ctx); err != nil {
		slog.Error("pipeline error", "stream", key, "error", err)
	}
	slog.Info("stream ended", "key", key)
}

// teardownStream removes all resources for a stream across the distribution
// server and stream manager in a single call.
func (a *app) teardownStream(key string) {
	a.distSrv.UnregisterStream(key)
	a.mgr.Remove(key)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
