package definition

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/wippyai/drawbridge/ctype"
)

// Structural hashes identify struct and function types by layout rather
// than by declared name, so independently built equivalent types resolve to
// the same cache entry on both sides.

func (d *Simple) canonical() string { return d.flags.String() + d.typeName }
func (d *Struct) canonical() string { return fmt.Sprintf("%sstruct#%x", d.flags, d.Hash) }
func (d *Func) canonical() string   { return fmt.Sprintf("%sfunc#%x", d.flags, d.Hash) }
func (d *Custom) canonical() string { return "custom:" + d.typeName }
func (d *Void) canonical() string   { return "void" }

func canonicalOf(d Definition) string {
	if d == nil {
		return "void"
	}
	return d.canonical()
}

func structHash(fields []Definition) uint64 {
	var b strings.Builder
	b.WriteString("struct{")
	for _, f := range fields {
		b.WriteString(f.FieldName())
		b.WriteByte(':')
		b.WriteString(f.canonical())
		b.WriteByte(';')
	}
	b.WriteByte('}')
	return xxhash.Sum64String(b.String())
}

func funcHash(conv ctype.Convention, args []Definition, result Definition, memsyncs []*Memsync) uint64 {
	var b strings.Builder
	b.WriteString(conv.String())
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(a.canonical())
	}
	b.WriteByte(')')
	b.WriteString(canonicalOf(result))
	for _, m := range memsyncs {
		b.WriteByte('|')
		b.WriteString(m.canonical())
	}
	return xxhash.Sum64String(b.String())
}

func structTypeName(hash uint64) string { return fmt.Sprintf("structtype_%x", hash) }
func funcTypeName(hash uint64) string   { return fmt.Sprintf("functype_%x", hash) }
