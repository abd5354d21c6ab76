package definition

import "github.com/wippyai/drawbridge/ctype"

// Wire is the shipped form of a Definition
type Wire struct {
	Result   *Wire            `msgpack:"_restype_,omitempty"`
	Group    Group            `msgpack:"g"`
	Field    string           `msgpack:"n,omitempty"`
	Type     string           `msgpack:"t,omitempty"`
	Flags    []int            `msgpack:"f,omitempty"`
	Fields   []*Wire          `msgpack:"_fields_,omitempty"`
	Args     []*Wire          `msgpack:"_argtypes_,omitempty"`
	Memsyncs []*MemsyncWire   `msgpack:"_memsync_,omitempty"`
	Hash     uint64           `msgpack:"h,omitempty"`
	Conv     ctype.Convention `msgpack:"_conv_,omitempty"`
}

// MemsyncWire is the shipped form of a Memsync
type MemsyncWire struct {
	Elem    *Wire   `msgpack:"t"`
	Pointer []any   `msgpack:"p"`
	Length  []any   `msgpack:"l,omitempty"`
	Lengths [][]any `msgpack:"ls,omitempty"`
	Func    string  `msgpack:"fn,omitempty"`
	Null    bool    `msgpack:"n,omitempty"`
	Unicode bool    `msgpack:"w,omitempty"`
}

func (d *Simple) Wire() *Wire {
	return &Wire{Group: GroupSimple, Flags: d.flags, Field: d.field, Type: d.typeName}
}

func (d *Struct) Wire() *Wire {
	fields := make([]*Wire, len(d.Fields))
	for i, f := range d.Fields {
		fields[i] = f.Wire()
	}
	return &Wire{Group: GroupStruct, Flags: d.flags, Field: d.field, Type: d.typeName, Hash: d.Hash, Fields: fields}
}

func (d *Func) Wire() *Wire {
	return &Wire{
		Group:    GroupFunc,
		Flags:    d.flags,
		Field:    d.field,
		Type:     d.typeName,
		Hash:     d.Hash,
		Args:     Wires(d.Args),
		Result:   wireOf(d.Result),
		Memsyncs: MemsyncWires(d.Memsyncs),
		Conv:     d.Convention,
	}
}

func (d *Custom) Wire() *Wire {
	return &Wire{Group: GroupCustom, Field: d.field, Type: d.typeName}
}

func (d *Void) Wire() *Wire {
	return &Wire{Group: GroupVoid, Field: d.field}
}

// Wires serializes a list of definitions
func Wires(defs []Definition) []*Wire {
	out := make([]*Wire, len(defs))
	for i, d := range defs {
		out[i] = d.Wire()
	}
	return out
}

// MemsyncWires serializes a list of memsyncs
func MemsyncWires(ms []*Memsync) []*MemsyncWire {
	if len(ms) == 0 {
		return nil
	}
	out := make([]*MemsyncWire, len(ms))
	for i, m := range ms {
		out[i] = m.Wire()
	}
	return out
}

func wireOf(d Definition) *Wire {
	if d == nil {
		return nil
	}
	return d.Wire()
}
