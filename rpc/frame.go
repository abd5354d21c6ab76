package rpc

import (
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/wippyai/drawbridge/errors"
)

// Frame layout: [4 len][1 type][4 request id][payload]. len counts
// everything after itself. The high bit of type marks a zstd payload.

type frameType uint8

const (
	frameRequest  frameType = 0x01
	frameResponse frameType = 0x02
	frameNotify   frameType = 0x03

	frameCompressed frameType = 0x80
)

const (
	headerSize = 4 + 1 + 4

	// MaxFrameSize bounds a single frame after compression
	MaxFrameSize = 256 << 20

	// DefaultCompressThreshold is the payload size above which frames are
	// compressed
	DefaultCompressThreshold = 64 << 10
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxFrameSize))
)

type frame struct {
	payload []byte
	id      uint32
	typ     frameType
}

// writeFrame encodes one frame. threshold <= 0 disables compression.
func writeFrame(w io.Writer, typ frameType, id uint32, payload []byte, threshold int) error {
	if threshold > 0 && len(payload) > threshold {
		payload = encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
		typ |= frameCompressed
	}
	if len(payload) > MaxFrameSize {
		return errors.New(errors.PhaseTransport, errors.KindProtocol).
			Detail("frame of %d bytes exceeds %d", len(payload), MaxFrameSize).
			Build()
	}

	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(1+4+len(payload)))
	buf[4] = byte(typ)
	binary.BigEndian.PutUint32(buf[5:9], id)
	copy(buf[headerSize:], payload)

	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) (frame, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return frame{}, readErr(err, "frame header", true)
	}
	n := binary.BigEndian.Uint32(header[0:4])
	if n < 5 || n > MaxFrameSize+5 {
		return frame{}, errors.New(errors.PhaseTransport, errors.KindProtocol).
			Detail("bad frame length %d", n).
			Build()
	}

	f := frame{typ: frameType(header[4]), id: binary.BigEndian.Uint32(header[5:9])}
	f.payload = make([]byte, n-5)
	if _, err := io.ReadFull(r, f.payload); err != nil {
		return frame{}, readErr(err, "frame payload", false)
	}

	if f.typ&frameCompressed != 0 {
		f.typ &^= frameCompressed
		data, err := decoder.DecodeAll(f.payload, nil)
		if err != nil {
			return frame{}, errors.Wrap(errors.PhaseTransport, errors.KindProtocol, err, "decompress frame")
		}
		f.payload = data
	}
	return f, nil
}

// readErr classifies a failed read. EOF between frames means the peer closed
// the connection; EOF inside a frame is a truncated frame.
func readErr(err error, what string, boundary bool) error {
	switch {
	case boundary && errors.Is(err, io.EOF):
		return errors.Wrap(errors.PhaseTransport, errors.KindClosed, err, "connection closed")
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return errors.Wrap(errors.PhaseTransport, errors.KindProtocol, err, "short "+what)
	}
	return errors.Wrap(errors.PhaseTransport, errors.KindClosed, err, "read "+what)
}
