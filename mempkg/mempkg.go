// Package mempkg defines the memory package: one synchronized block of
// pointer memory in transit between the two sides of a bridge.
package mempkg

import (
	"fmt"

	"github.com/wippyai/drawbridge"
)

// Mempkg is a block of memory captured on one side for shipment to the
// other. Addresses are relative to the side holding the package: LocalAddr
// is where the block lives here, RemoteAddr where it lives on the peer.
// A nil address means the block has no counterpart on that side yet.
type Mempkg struct {
	LocalAddr  *uint64
	RemoteAddr *uint64
	Data       []byte
	Length     int
	// WChar is the wide character size the data is encoded with, or 0 when
	// the block is not a wide string.
	WChar uint32
}

// Null returns an empty package for a null pointer
func Null(wchar uint32) *Mempkg {
	return &Mempkg{Data: []byte{}, WChar: wchar}
}

// FromAddress captures length bytes at addr
func FromAddress(mem drawbridge.Memory, addr uint64, length int, wchar uint32) (*Mempkg, error) {
	data := []byte{}
	if length > 0 {
		var err error
		data, err = mem.Read(addr, uint32(length))
		if err != nil {
			return nil, err
		}
	}
	return &Mempkg{Data: data, Length: length, LocalAddr: &addr, WChar: wchar}, nil
}

func (m *Mempkg) String() string {
	return fmt.Sprintf("<Mempkg length=%d local_addr=%s remote_addr=%s>", m.Length, hex(m.LocalAddr), hex(m.RemoteAddr))
}

func hex(p *uint64) string {
	if p == nil {
		return "nil"
	}
	return fmt.Sprintf("0x%x", *p)
}

// Materialize allocates a local block holding the package's data, records
// its address as LocalAddr and returns it.
func (m *Mempkg) Materialize(space drawbridge.Space) (uint64, error) {
	size := uint32(len(m.Data))
	addr, err := space.Alloc(max(size, 1), 8)
	if err != nil {
		return 0, err
	}
	if size > 0 {
		if err := space.Write(addr, m.Data); err != nil {
			space.Free(addr, size, 8)
			return 0, err
		}
	}
	m.LocalAddr = &addr
	return addr, nil
}

// Overwrite writes the package's data to LocalAddr
func (m *Mempkg) Overwrite(mem drawbridge.Memory) error {
	if m.LocalAddr == nil || len(m.Data) == 0 {
		return nil
	}
	return mem.Write(*m.LocalAddr, m.Data)
}

// Refresh re-reads Length bytes from LocalAddr
func (m *Mempkg) Refresh(mem drawbridge.Memory) error {
	if m.LocalAddr == nil || m.Length == 0 {
		return nil
	}
	data, err := mem.Read(*m.LocalAddr, uint32(m.Length))
	if err != nil {
		return err
	}
	m.Data = data
	return nil
}

// Replace copies every field of other into m
func (m *Mempkg) Replace(other *Mempkg) {
	*m = *other
}

// Wire is the shipped form of a Mempkg
type Wire struct {
	LocalAddr  *uint64 `msgpack:"l"`
	RemoteAddr *uint64 `msgpack:"r"`
	Data       []byte  `msgpack:"d"`
	Length     int     `msgpack:"n"`
	WChar      uint32  `msgpack:"w,omitempty"`
}

// Packed returns the wire form of m
func (m *Mempkg) Packed() *Wire {
	return &Wire{
		Data:       m.Data,
		Length:     m.Length,
		LocalAddr:  m.LocalAddr,
		RemoteAddr: m.RemoteAddr,
		WChar:      m.WChar,
	}
}

// FromPacked rebuilds a package received from the peer. The peer's local
// address becomes the remote one and vice versa. Wide string data is
// re-strided when the peer's wide character size differs from localWChar.
func FromPacked(w *Wire, localWChar uint32) *Mempkg {
	m := &Mempkg{
		Data:       w.Data,
		Length:     w.Length,
		LocalAddr:  w.RemoteAddr,
		RemoteAddr: w.LocalAddr,
		WChar:      w.WChar,
	}
	if m.Data == nil {
		m.Data = []byte{}
	}
	if m.WChar != 0 && localWChar != 0 && m.WChar != localWChar {
		m.restride(localWChar)
	}
	return m
}

// restride re-encodes wide characters of m.WChar bytes as newWidth bytes,
// keeping the low-order bytes of each character.
func (m *Mempkg) restride(newWidth uint32) {
	oldWidth := int(m.WChar)
	width := int(newWidth)
	out := make([]byte, m.Length*width/oldWidth)

	for i := 0; i < min(oldWidth, width); i++ {
		for src, dst := i, i; src < len(m.Data) && dst < len(out); src, dst = src+oldWidth, dst+width {
			out[dst] = m.Data[src]
		}
	}

	m.Data = out
	m.Length = len(out)
	m.WChar = newWidth
}
