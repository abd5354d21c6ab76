package codec

import (
	"github.com/wippyai/drawbridge/definition"
	"github.com/wippyai/drawbridge/native"
)

// SyncArgs writes values received after a call into the caller's own
// argument objects. Cells, arrays and structs are updated in place, which
// is what makes by-reference arguments work across the boundary.
func (c *Codec) SyncArgs(old, updated []any, sig *Signature) {
	if !sig.Typed {
		return
	}
	for i := range min(len(old), len(updated), len(sig.Args)) {
		def := sig.Args[i]
		old[i] = syncItem(old[i], updated[i], def, def.Flags())
	}
}

// syncItem merges updated into old and returns the value the parent should
// hold afterwards
func syncItem(old, updated any, def definition.Definition, flags definition.Flags) any {
	switch def.Group() {
	case definition.GroupVoid, definition.GroupFunc:
		return old
	}

	if len(flags) == 0 {
		os, ok := old.(*native.Struct)
		us, uok := updated.(*native.Struct)
		st, isStruct := def.(*definition.Struct)
		if !ok || !uok || !isStruct || os == nil || us == nil {
			return updated
		}
		for _, f := range st.Fields {
			ov, _ := os.Get(f.FieldName())
			uv, _ := us.Get(f.FieldName())
			os.Set(f.FieldName(), syncItem(ov, uv, f, f.Flags()))
		}
		return os
	}

	if flags[0] == definition.FlagPointer {
		oc, ok := old.(*native.Cell)
		if !ok || oc == nil {
			return old
		}
		uc, _ := updated.(*native.Cell)
		if uc == nil {
			return old
		}
		oc.Value = syncItem(oc.Value, uc.Value, def, flags[1:])
		return oc
	}

	ol, ok := native.Deref(old).([]any)
	ul, uok := updated.([]any)
	if !ok || !uok {
		return old
	}
	for i := range min(len(ol), len(ul)) {
		ol[i] = syncItem(ol[i], ul[i], def, flags[1:])
	}
	return old
}
