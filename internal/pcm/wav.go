package pcm

import (
	"encoding/binary"
	"fmt"
	"io"
)

const wavHeaderSize = 44

// WAVWriter serializes interleaved samples into a RIFF/WAVE container. The
// header carries placeholder sizes until Close, which seeks back and patches
// them, so the destination must support seeking.
type WAVWriter struct {
	w         io.WriteSeeker
	format    Format
	dataBytes uint32
	buf       []byte
}

// NewWAVWriter writes the WAVE header for the given format and returns a
// writer ready to accept samples.
func NewWAVWriter(w io.WriteSeeker, f Format) (*WAVWriter, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("pcm: cannot write WAV for format %s", f)
	}
	ww := &WAVWriter{w: w, format: f}
	if err := ww.writeHeader(); err != nil {
		return nil, fmt.Errorf("pcm: write WAV header: %w", err)
	}
	return ww, nil
}

func (ww *WAVWriter) writeHeader() error {
	var h [wavHeaderSize]byte
	f := ww.format
	byteRate := uint32(f.SampleRate * f.BlockAlign())

	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 36+ww.dataBytes)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], wavFormatTag)
	binary.LittleEndian.PutUint16(h[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(h[28:32], byteRate)
	binary.LittleEndian.PutUint16(h[32:34], uint16(f.BlockAlign()))
	binary.LittleEndian.PutUint16(h[34:36], uint16(BytesPerSample*8))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], ww.dataBytes)

	_, err := ww.w.Write(h[:])
	return err
}

// WriteSamples appends interleaved samples to the data chunk.
func (ww *WAVWriter) WriteSamples(samples []Sample) error {
	ww.buf = AppendSamples(ww.buf[:0], samples)
	n, err := ww.w.Write(ww.buf)
	ww.dataBytes += uint32(n)
	if err != nil {
		return fmt.Errorf("pcm: write WAV data: %w", err)
	}
	return nil
}

// Close patches the RIFF and data chunk sizes. It does not close the
// underlying writer.
func (ww *WAVWriter) Close() error {
	if _, err := ww.w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("pcm: seek WAV header: %w", err)
	}
	if err := ww.writeHeader(); err != nil {
		return fmt.Errorf("pcm: patch WAV header: %w", err)
	}
	if _, err := ww.w.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("pcm: seek WAV end: %w", err)
	}
	return nil
}
