package rpc

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/wippyai/drawbridge/errors"
)

// request is the wire envelope (name, args, kwargs)
type request struct {
	Kwargs map[string]any       `msgpack:"kwargs,omitempty"`
	Name   string               `msgpack:"name"`
	Args   []msgpack.RawMessage `msgpack:"args"`
}

type response struct {
	Error  *RemoteError       `msgpack:"error,omitempty"`
	Result msgpack.RawMessage `msgpack:"result"`
}

// RemoteError is an error raised by a handler on the peer. Clients rebuild
// it as an *errors.Error with the same phase and kind.
type RemoteError = errors.Wire

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, errors.Wrap(errors.PhaseTransport, errors.KindProtocol, err, "encode payload")
	}
	return buf.Bytes(), nil
}

// unmarshal decodes with numbers in interface values widened to int64,
// uint64 and float64
func unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(errors.PhaseTransport, errors.KindProtocol, err, "decode payload")
	}
	return nil
}

// Args holds the still encoded arguments of a request
type Args []msgpack.RawMessage

// Len returns the number of arguments
func (a Args) Len() int { return len(a) }

// Decode decodes argument i into v
func (a Args) Decode(i int, v any) error {
	if i >= len(a) {
		return errors.ArgCount(errors.PhaseTransport, len(a), i+1)
	}
	return unmarshal(a[i], v)
}

// String decodes argument i as a string
func (a Args) String(i int) (string, error) {
	var s string
	err := a.Decode(i, &s)
	return s, err
}

func encodeArgs(args []any) ([]msgpack.RawMessage, error) {
	out := make([]msgpack.RawMessage, len(args))
	for i, a := range args {
		b, err := marshal(a)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}
