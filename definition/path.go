package definition

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/drawbridge/errors"
	"github.com/wippyai/drawbridge/native"
)

// SegmentKind is the kind of one memsync path step
type SegmentKind uint8

const (
	SegArg SegmentKind = iota + 1
	SegReturn
	SegField
	SegElem
	SegDeref
)

// ReturnMarker is the raw path segment selecting the return value
const ReturnMarker = "r"

// Segment is one step of a Path
type Segment struct {
	Name  string
	Index int
	Kind  SegmentKind
}

// Path locates a value within call arguments or the return value. The first
// segment is an argument or the return value; later segments select struct
// fields, array elements or dereference a pointer.
type Path []Segment

// ParsePath converts a raw path of ints and strings
func ParsePath(raw []any) (Path, error) {
	if len(raw) == 0 {
		return nil, errors.BadPath(nil, "empty path")
	}
	p := make(Path, len(raw))
	for i, r := range raw {
		if s, ok := r.(string); ok {
			switch {
			case i == 0 && s == ReturnMarker:
				p[i] = Segment{Kind: SegReturn}
			case i == 0:
				return nil, errors.BadPath(nil, fmt.Sprintf("path[0] is neither return value (%q) nor argument index: %q", ReturnMarker, s))
			default:
				p[i] = Segment{Kind: SegField, Name: s}
			}
			continue
		}
		n, ok := native.Int64(r)
		if !ok {
			return nil, errors.BadPath(nil, fmt.Sprintf("segment %d has type %T", i, r))
		}
		switch {
		case i == 0 && n < 0:
			return nil, errors.BadPath(nil, fmt.Sprintf("negative argument index %d", n))
		case i == 0:
			p[i] = Segment{Kind: SegArg, Index: int(n)}
		case n == FlagPointer:
			p[i] = Segment{Kind: SegDeref}
		case n < 0:
			return nil, errors.BadPath(nil, fmt.Sprintf("unknown negative segment %d", n))
		default:
			p[i] = Segment{Kind: SegElem, Index: int(n)}
		}
	}
	return p, nil
}

// Raw converts the path back to ints and strings
func (p Path) Raw() []any {
	out := make([]any, len(p))
	for i, s := range p {
		switch s.Kind {
		case SegArg, SegElem:
			out[i] = s.Index
		case SegReturn:
			out[i] = ReturnMarker
		case SegField:
			out[i] = s.Name
		case SegDeref:
			out[i] = FlagPointer
		}
	}
	return out
}

func (p Path) String() string {
	parts := p.strings()
	return strings.Join(parts, ".")
}

func (p Path) strings() []string {
	parts := make([]string, len(p))
	for i, s := range p {
		switch s.Kind {
		case SegArg, SegElem:
			parts[i] = strconv.Itoa(s.Index)
		case SegReturn:
			parts[i] = ReturnMarker
		case SegField:
			parts[i] = s.Name
		case SegDeref:
			parts[i] = "*"
		}
	}
	return parts
}

// IsReturn reports whether the path starts at the return value
func (p Path) IsReturn() bool {
	return len(p) > 0 && p[0].Kind == SegReturn
}

// DerefTail reports whether the path ends by dereferencing a pointer
func (p Path) DerefTail() bool {
	return len(p) > 0 && p[len(p)-1].Kind == SegDeref
}

// Short drops array and dereference segments, leaving the steps that name
// definitions: the argument or return value and struct fields.
func (p Path) Short() Path {
	out := make(Path, 0, len(p))
	for i, s := range p {
		if i == 0 || s.Kind == SegField {
			out = append(out, s)
		}
	}
	return out
}

// Get resolves the path against argument values and a return value
func (p Path) Get(args []any, retval any) (any, error) {
	var el any
	for i, s := range p {
		switch s.Kind {
		case SegArg:
			if s.Index >= len(args) {
				return nil, p.fail(i, fmt.Sprintf("argument %d of %d", s.Index, len(args)))
			}
			el = args[s.Index]
		case SegReturn:
			el = retval
		case SegDeref:
			el = native.Deref(el)
		case SegField:
			st, ok := native.Deref(el).(*native.Struct)
			if !ok {
				if el == nil {
					return nil, nil
				}
				return nil, p.fail(i, fmt.Sprintf("%T is not a struct", el))
			}
			v, ok := st.Get(s.Name)
			if !ok {
				return nil, p.fail(i, "no field "+s.Name)
			}
			el = v
		case SegElem:
			arr, ok := native.Deref(el).([]any)
			if !ok || s.Index >= len(arr) {
				return nil, p.fail(i, fmt.Sprintf("element %d of %T", s.Index, el))
			}
			el = arr[s.Index]
		}
		if el == nil {
			return nil, nil
		}
	}
	return el, nil
}

// Set replaces the value the path points at
func (p Path) Set(args []any, retval *any, v any) error {
	last := p[len(p)-1]
	if len(p) == 1 {
		switch last.Kind {
		case SegArg:
			if last.Index >= len(args) {
				return p.fail(0, fmt.Sprintf("argument %d of %d", last.Index, len(args)))
			}
			args[last.Index] = v
		case SegReturn:
			if retval == nil {
				return p.fail(0, "no return value slot")
			}
			*retval = v
		}
		return nil
	}

	var rv any
	if retval != nil {
		rv = *retval
	}
	parent, err := p[:len(p)-1].Get(args, rv)
	if err != nil {
		return err
	}

	switch last.Kind {
	case SegDeref:
		c, ok := parent.(*native.Cell)
		if !ok {
			return p.fail(len(p)-1, fmt.Sprintf("%T is not a pointer", parent))
		}
		c.Value = v
	case SegField:
		st, ok := native.Deref(parent).(*native.Struct)
		if !ok {
			return p.fail(len(p)-1, fmt.Sprintf("%T is not a struct", parent))
		}
		st.Set(last.Name, v)
	case SegElem:
		arr, ok := native.Deref(parent).([]any)
		if !ok || last.Index >= len(arr) {
			return p.fail(len(p)-1, fmt.Sprintf("element %d of %T", last.Index, parent))
		}
		arr[last.Index] = v
	}
	return nil
}

func (p Path) fail(at int, detail string) error {
	return errors.BadPath(p[:at+1].strings(), detail)
}
