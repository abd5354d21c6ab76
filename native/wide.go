package native

import (
	"fmt"

	"github.com/wippyai/drawbridge"
	"github.com/wippyai/drawbridge/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
)

// MaxStringSize bounds terminator scans over foreign memory
const MaxStringSize = 16 << 20

func wideEncoding(width uint32) (encoding.Encoding, error) {
	switch width {
	case 2:
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), nil
	case 4:
		return utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM), nil
	}
	return nil, errors.Unsupported(errors.PhaseMemory, fmt.Sprintf("wide char width %d", width))
}

// EncodeWide encodes s as little-endian wide characters of the given width
func EncodeWide(s string, width uint32) ([]byte, error) {
	enc, err := wideEncoding(width)
	if err != nil {
		return nil, err
	}
	return enc.NewEncoder().Bytes([]byte(s))
}

// DecodeWide decodes little-endian wide characters of the given width.
// Decoding stops at the first zero character.
func DecodeWide(b []byte, width uint32) (string, error) {
	enc, err := wideEncoding(width)
	if err != nil {
		return "", err
	}
	n := len(b) - len(b)%int(width)
	for i := 0; i < n; i += int(width) {
		if isZero(b[i : i+int(width)]) {
			n = i
			break
		}
	}
	out, err := enc.NewDecoder().Bytes(b[:n])
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// ReadCString reads a NUL-terminated string at addr
func ReadCString(mem drawbridge.Memory, addr uint64) (string, error) {
	b, err := scan(mem, addr, 1)
	return string(b), err
}

// ReadWString reads a zero-terminated wide string at addr
func ReadWString(mem drawbridge.Memory, addr uint64, width uint32) (string, error) {
	b, err := scan(mem, addr, width)
	if err != nil {
		return "", err
	}
	return DecodeWide(b, width)
}

// TerminatedLength returns the number of units before the first zero unit
func TerminatedLength(mem drawbridge.Memory, addr uint64, width uint32) (int, error) {
	b, err := scan(mem, addr, width)
	return len(b) / int(width), err
}

func scan(mem drawbridge.Memory, addr uint64, width uint32) ([]byte, error) {
	var out []byte
	for off := uint64(0); off < MaxStringSize; off += uint64(width) {
		unit, err := mem.Read(addr+off, width)
		if err != nil {
			return nil, err
		}
		if isZero(unit) {
			return out, nil
		}
		out = append(out, unit...)
	}
	return nil, errors.InvalidInput(errors.PhaseMemory, "unterminated string")
}

// WriteCString copies s plus a terminator into freshly allocated memory
func WriteCString(space drawbridge.Space, s string, allocs *Allocations) (Address, error) {
	return writeTerminated(space, []byte(s), 1, allocs)
}

// WriteWString encodes s as wide characters plus a terminator in freshly
// allocated memory.
func WriteWString(space drawbridge.Space, s string, width uint32, allocs *Allocations) (Address, error) {
	b, err := EncodeWide(s, width)
	if err != nil {
		return 0, err
	}
	return writeTerminated(space, b, width, allocs)
}

func writeTerminated(space drawbridge.Space, b []byte, width uint32, allocs *Allocations) (Address, error) {
	buf := make([]byte, len(b)+int(width))
	copy(buf, b)
	addr, err := allocs.alloc(space, uint32(len(buf)), width)
	if err != nil {
		return 0, err
	}
	if err := space.Write(addr, buf); err != nil {
		return 0, err
	}
	return Address(addr), nil
}
