package ctype

import "sort"

// Class describes how a scalar's bits are interpreted
type Class uint8

const (
	ClassBool Class = iota + 1
	ClassSigned
	ClassUnsigned
	ClassFloat
	ClassChar
	ClassWChar
	ClassString
	ClassWString
	ClassAddress
)

// width names a platform-variable size resolved by an ABI
type width uint8

const (
	widthFixed width = iota
	widthShort
	widthInt
	widthLong
	widthLongLong
	widthPointer
	widthWChar
)

// Scalar is a fundamental native type. Scalars are singletons looked up by name.
type Scalar struct {
	name  string
	class Class
	size  uint32
	width width
}

func (s *Scalar) Kind() Kind     { return KindScalar }
func (s *Scalar) String() string { return s.name }

// Name returns the scalar's type name
func (s *Scalar) Name() string { return s.name }

// Class returns how the scalar's bits are interpreted
func (s *Scalar) Class() Class { return s.class }

// PlatformVariable reports whether the scalar's width depends on the ABI
// in a way that callers may declare inconsistently across platforms.
func (s *Scalar) PlatformVariable() bool {
	switch s.width {
	case widthShort, widthInt, widthLong, widthLongLong:
		return true
	}
	return false
}

// PointerSized reports whether the scalar is as wide as a pointer
func (s *Scalar) PointerSized() bool {
	return s.width == widthPointer
}

var (
	Bool  = scalar("bool", ClassBool, 1)
	Char  = scalar("char", ClassChar, 1)
	WChar = &Scalar{name: "wchar", class: ClassWChar, width: widthWChar}

	Byte      = scalar("byte", ClassSigned, 1)
	UByte     = scalar("ubyte", ClassUnsigned, 1)
	Short     = &Scalar{name: "short", class: ClassSigned, width: widthShort}
	UShort    = &Scalar{name: "ushort", class: ClassUnsigned, width: widthShort}
	Int       = &Scalar{name: "int", class: ClassSigned, width: widthInt}
	UInt      = &Scalar{name: "uint", class: ClassUnsigned, width: widthInt}
	Long      = &Scalar{name: "long", class: ClassSigned, width: widthLong}
	ULong     = &Scalar{name: "ulong", class: ClassUnsigned, width: widthLong}
	LongLong  = &Scalar{name: "longlong", class: ClassSigned, width: widthLongLong}
	ULongLong = &Scalar{name: "ulonglong", class: ClassUnsigned, width: widthLongLong}

	Int8   = scalar("int8", ClassSigned, 1)
	Int16  = scalar("int16", ClassSigned, 2)
	Int32  = scalar("int32", ClassSigned, 4)
	Int64  = scalar("int64", ClassSigned, 8)
	UInt8  = scalar("uint8", ClassUnsigned, 1)
	UInt16 = scalar("uint16", ClassUnsigned, 2)
	UInt32 = scalar("uint32", ClassUnsigned, 4)
	UInt64 = scalar("uint64", ClassUnsigned, 8)

	SizeT  = &Scalar{name: "size_t", class: ClassUnsigned, width: widthPointer}
	SSizeT = &Scalar{name: "ssize_t", class: ClassSigned, width: widthPointer}

	Float  = scalar("float", ClassFloat, 4)
	Double = scalar("double", ClassFloat, 8)

	CharP  = &Scalar{name: "char_p", class: ClassString, width: widthPointer}
	WCharP = &Scalar{name: "wchar_p", class: ClassWString, width: widthPointer}
	VoidP  = &Scalar{name: "void_p", class: ClassAddress, width: widthPointer}

	HResult = scalar("hresult", ClassSigned, 4)
)

var scalars = map[string]*Scalar{}

func init() {
	for _, s := range []*Scalar{
		Bool, Char, WChar,
		Byte, UByte, Short, UShort, Int, UInt, Long, ULong, LongLong, ULongLong,
		Int8, Int16, Int32, Int64, UInt8, UInt16, UInt32, UInt64,
		SizeT, SSizeT, Float, Double, CharP, WCharP, VoidP, HResult,
	} {
		scalars[s.name] = s
	}
}

func scalar(name string, class Class, size uint32) *Scalar {
	return &Scalar{name: name, class: class, size: size}
}

// ScalarByName looks up a scalar type by name
func ScalarByName(name string) (*Scalar, bool) {
	s, ok := scalars[name]
	return s, ok
}

// ScalarNames returns all scalar type names, sorted
func ScalarNames() []string {
	names := make([]string, 0, len(scalars))
	for name := range scalars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
