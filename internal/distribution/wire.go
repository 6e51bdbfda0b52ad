package distribution

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"

	"github.com/zsiec/dcastream/internal/media"
)

// maxControlMessage bounds varint-prefixed control payloads so a misbehaving
// peer cannot make the server allocate unbounded memory.
const maxControlMessage = 64 * 1024

// maxObjectPayload bounds the sample payload of a data object. The largest
// legal frame is 4096 samples across 7 channels of 8-byte doubles, well
// under this.
const maxObjectPayload = 1 << 20

// Object flag bits.
const (
	objFlagFormat        byte = 0x01 // format descriptor precedes the payload
	objFlagDiscontinuity byte = 0x02
	objFlagHasPTS        byte = 0x04
)

// Object is one framed unit on a data stream: a sequence number, optional
// timestamp, optional inline format descriptor, and the interleaved
// little-endian sample payload.
//
// Wire layout: [sequence varint] [flags byte] [pts varint, when flagged]
// [format length varint + JSON, when flagged] [payload length varint +
// payload bytes].
type Object struct {
	Sequence      uint64
	PTS           int64 // nanoseconds; media.NoPTS when absent
	Discontinuity bool
	Format        *FormatDescriptor // non-nil when the format changed
	Payload       []byte
}

// AppendObject appends the wire encoding of obj to buf and returns the
// extended slice.
func AppendObject(buf []byte, obj *Object) ([]byte, error) {
	var flags byte
	if obj.Format != nil {
		flags |= objFlagFormat
	}
	if obj.Discontinuity {
		flags |= objFlagDiscontinuity
	}
	if obj.PTS != media.NoPTS {
		if obj.PTS < 0 {
			return nil, fmt.Errorf("%w: %d", ErrNegativePTS, obj.PTS)
		}
		flags |= objFlagHasPTS
	}

	buf = quicvarint.Append(buf, obj.Sequence)
	buf = append(buf, flags)
	if flags&objFlagHasPTS != 0 {
		buf = quicvarint.Append(buf, uint64(obj.PTS))
	}
	if obj.Format != nil {
		desc, err := json.Marshal(obj.Format)
		if err != nil {
			return nil, fmt.Errorf("distribution: marshal format: %w", err)
		}
		buf = appendVarIntBytes(buf, desc)
	}
	buf = appendVarIntBytes(buf, obj.Payload)
	return buf, nil
}

// ObjectReader decodes framed objects from a data stream. It buffers
// internally, so it must own the stream for its whole life.
type ObjectReader struct {
	r *bufio.Reader
}

// NewObjectReader wraps a data stream for object decoding.
func NewObjectReader(r io.Reader) *ObjectReader {
	return &ObjectReader{r: bufio.NewReader(r)}
}

// Next reads one object. It returns io.EOF once the stream has been cleanly
// closed at an object boundary.
func (o *ObjectReader) Next() (*Object, error) {
	seq, err := quicvarint.Read(o.r)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("distribution: read sequence: %w", err)
	}

	flags, err := o.r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("distribution: read flags: %w", err)
	}

	obj := &Object{
		Sequence:      seq,
		PTS:           media.NoPTS,
		Discontinuity: flags&objFlagDiscontinuity != 0,
	}

	if flags&objFlagHasPTS != 0 {
		pts, err := quicvarint.Read(o.r)
		if err != nil {
			return nil, fmt.Errorf("distribution: read pts: %w", err)
		}
		obj.PTS = int64(pts)
	}

	if flags&objFlagFormat != 0 {
		desc, err := readVarIntBytes(o.r, maxControlMessage)
		if err != nil {
			return nil, fmt.Errorf("distribution: read format: %w", err)
		}
		var fd FormatDescriptor
		if err := json.Unmarshal(desc, &fd); err != nil {
			return nil, fmt.Errorf("distribution: decode format: %w", err)
		}
		obj.Format = &fd
	}

	payload, err := readVarIntBytes(o.r, maxObjectPayload)
	if err != nil {
		return nil, fmt.Errorf("distribution: read payload: %w", err)
	}
	obj.Payload = payload

	return obj, nil
}

// WriteJSON writes a varint length-prefixed JSON message as a single Write
// call, keeping the message atomic on the stream without external locking.
func WriteJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("distribution: marshal message: %w", err)
	}
	buf := quicvarint.Append(nil, uint64(len(data)))
	buf = append(buf, data...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("distribution: write message: %w", err)
	}
	return nil
}

// ReadJSON reads a varint length-prefixed JSON message into v. Callers
// reading several messages from one stream must pass the same buffered
// reader each time.
func ReadJSON(r io.Reader, v any) error {
	data, err := readVarIntBytes(asByteReader(r), maxControlMessage)
	if err != nil {
		return fmt.Errorf("distribution: read message: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("distribution: decode message: %w", err)
	}
	return nil
}

// byteReader combines the byte-oriented reads quicvarint needs with the bulk
// reads used for payloads.
type byteReader interface {
	io.Reader
	io.ByteReader
}

func asByteReader(r io.Reader) byteReader {
	if br, ok := r.(byteReader); ok {
		return br
	}
	return bufio.NewReader(r)
}

func readVarIntBytes(r byteReader, max uint64) ([]byte, error) {
	length, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	if length > max {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrMessageTooLarge, length, max)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// appendVarIntBytes appends a varint length-prefixed byte string to buf.
func appendVarIntBytes(buf []byte, data []byte) []byte {
	buf = quicvarint.Append(buf, uint64(len(data)))
	buf = append(buf, data...)
	return buf
}
