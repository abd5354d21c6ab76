package ctype

import (
	"fmt"

	"go.bytecodealliance.org/wit"
)

// FromWIT maps a WIT type onto the native type a wasm32 C toolchain uses
// for it in a core function signature.
func FromWIT(t wit.Type) (Type, error) {
	switch typ := t.(type) {
	case wit.Bool:
		return Bool, nil
	case wit.S8:
		return Int8, nil
	case wit.U8:
		return UInt8, nil
	case wit.S16:
		return Int16, nil
	case wit.U16:
		return UInt16, nil
	case wit.S32:
		return Int32, nil
	case wit.U32:
		return UInt32, nil
	case wit.S64:
		return Int64, nil
	case wit.U64:
		return UInt64, nil
	case wit.F32:
		return Float, nil
	case wit.F64:
		return Double, nil
	case wit.Char:
		return WChar, nil
	case wit.String:
		return CharP, nil
	case *wit.TypeDef:
		return fromWITDef(typ)
	}
	return nil, fmt.Errorf("WIT type %T has no native equivalent", t)
}

func fromWITDef(t *wit.TypeDef) (Type, error) {
	switch kind := t.Kind.(type) {
	case *wit.List:
		elem, err := FromWIT(kind.Type)
		if err != nil {
			return nil, err
		}
		return PointerTo(elem), nil
	case *wit.Tuple:
		fields := make([]Field, len(kind.Types))
		for i, et := range kind.Types {
			ft, err := FromWIT(et)
			if err != nil {
				return nil, err
			}
			fields[i] = Field{Name: fmt.Sprintf("f%d", i), Type: ft}
		}
		return NewStruct("", fields...), nil
	case *wit.Record:
		fields := make([]Field, len(kind.Fields))
		for i, f := range kind.Fields {
			ft, err := FromWIT(f.Type)
			if err != nil {
				return nil, err
			}
			fields[i] = Field{Name: f.Name, Type: ft}
		}
		return NewStruct("", fields...), nil
	case wit.Type:
		return FromWIT(kind)
	}
	return nil, fmt.Errorf("WIT type definition %T has no native equivalent", t.Kind)
}
