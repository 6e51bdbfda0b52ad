package dvd

import (
	"bytes"
	"errors"
	"testing"

	"github.com/zsiec/dcastream/internal/media"
)

func TestSplitFirstAccessZero(t *testing.T) {
	unit := media.Unit{Data: []byte{0x00, 0x00, 0xaa, 0xbb, 0xcc}, PTS: 90000}
	subs, err := Split(unit)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("got %d sub-units, want 1", len(subs))
	}
	if !bytes.Equal(subs[0].Data, []byte{0xaa, 0xbb, 0xcc}) {
		t.Errorf("payload = %x", subs[0].Data)
	}
	if subs[0].PTS != 90000 {
		t.Errorf("PTS = %d, want 90000", subs[0].PTS)
	}
}

func TestSplitFirstAccessOne(t *testing.T) {
	unit := media.Unit{Data: []byte{0x00, 0x01, 0xaa, 0xbb}, PTS: 1234}
	subs, err := Split(unit)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(subs) != 1 || len(subs[0].Data) != 2 || subs[0].PTS != 1234 {
		t.Errorf("sub-units = %+v", subs)
	}
}

func TestSplitStraddlingFrame(t *testing.T) {
	// 10-byte sub-packet, firstAccess 4: three tail bytes, then a new frame.
	unit := media.Unit{
		Data: []byte{0x00, 0x04, 0x01, 0x02, 0x03, 0x11, 0x12, 0x13, 0x14, 0x15},
		PTS:  555,
	}
	subs, err := Split(unit)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("got %d sub-units, want 2", len(subs))
	}
	if !bytes.Equal(subs[0].Data, []byte{0x01, 0x02, 0x03}) {
		t.Errorf("tail = %x", subs[0].Data)
	}
	if subs[0].HasPTS() {
		t.Error("tail sub-unit must not carry a timestamp")
	}
	if !bytes.Equal(subs[1].Data, []byte{0x11, 0x12, 0x13, 0x14, 0x15}) {
		t.Errorf("new frame = %x", subs[1].Data)
	}
	if subs[1].PTS != 555 {
		t.Errorf("new frame PTS = %d, want 555", subs[1].PTS)
	}
}

func TestSplitTailFillsPacket(t *testing.T) {
	// firstAccess points exactly one past the payload end: tail only.
	unit := media.Unit{Data: []byte{0x00, 0x05, 0x01, 0x02, 0x03, 0x04}, PTS: 7}
	subs, err := Split(unit)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("got %d sub-units, want 1", len(subs))
	}
	if subs[0].HasPTS() {
		t.Error("tail-only sub-unit must not carry a timestamp")
	}
}

func TestSplitErrors(t *testing.T) {
	if _, err := Split(media.Unit{Data: []byte{0x00}}); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("1 byte: err = %v, want ErrInsufficientData", err)
	}
	if _, err := Split(media.Unit{Data: nil}); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("empty: err = %v, want ErrInsufficientData", err)
	}
	// firstAccess beyond the payload.
	if _, err := Split(media.Unit{Data: []byte{0x00, 0x09, 0x01, 0x02}}); !errors.Is(err, ErrBadFirstAccess) {
		t.Errorf("overrun: err = %v, want ErrBadFirstAccess", err)
	}
	if _, err := Split(media.Unit{Data: []byte{0x7f, 0xff, 0x01, 0x02}}); !errors.Is(err, ErrBadFirstAccess) {
		t.Errorf("huge: err = %v, want ErrBadFirstAccess", err)
	}
}

func TestSplitEmptyPayload(t *testing.T) {
	// A bare first-access field forwards an empty unit; the decoder treats it
	// as a no-op.
	subs, err := Split(media.Unit{Data: []byte{0x00, 0x00}, PTS: 42})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(subs) != 1 || len(subs[0].Data) != 0 {
		t.Errorf("sub-units = %+v", subs)
	}
}

func FuzzSplit(f *testing.F) {
	f.Add([]byte{0x00, 0x04, 0x01, 0x02, 0x03, 0x11, 0x12})
	f.Add([]byte{0x00, 0x00})
	f.Add([]byte{})
	f.Fuzz(func(t *testing.T, data []byte) {
		subs, err := Split(media.Unit{Data: data, PTS: 1})
		if err != nil {
			return
		}
		total := 0
		for _, s := range subs {
			total += len(s.Data)
		}
		if total != len(data)-2 {
			t.Errorf("sub-units cover %d bytes of %d byte payload", total, len(data)-2)
		}
	})
}
