package wasm

// Hand-assembled test module. Functions, in index order:
//
//	divide(a, b i32, rem *i32) i32   *rem = a % b; return a / b
//	malloc(n i32) i32                bump allocator, 8 byte aligned
//	free(p i32)                      no-op
//	poke(p *pair, n i32)             p.a = 42; p.b = n
//	fadd(a, b f64) f64
//	strlen(s i32) i32
//	sum_pair(p *pair) i32            p.a + p.b

func uleb(n uint32) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func vec(items ...[]byte) []byte {
	out := uleb(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func section(id byte, payload []byte) []byte {
	out := append([]byte{id}, uleb(uint32(len(payload)))...)
	return append(out, payload...)
}

func name(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func export(n string, kind byte, idx uint32) []byte {
	return append(append(name(n), kind), uleb(idx)...)
}

func body(locals []byte, code ...byte) []byte {
	b := append(locals, code...)
	return append(uleb(uint32(len(b))), b...)
}

func testModule() []byte {
	const (
		i32 = 0x7f
		f64 = 0x7c
	)
	types := vec(
		[]byte{0x60, 3, i32, i32, i32, 1, i32}, // 0: (i32 i32 i32) -> i32
		[]byte{0x60, 1, i32, 1, i32},           // 1: (i32) -> i32
		[]byte{0x60, 1, i32, 0},                // 2: (i32) -> ()
		[]byte{0x60, 2, i32, i32, 0},           // 3: (i32 i32) -> ()
		[]byte{0x60, 2, f64, f64, 1, f64},      // 4: (f64 f64) -> f64
	)
	funcs := vec([]byte{0}, []byte{1}, []byte{2}, []byte{3}, []byte{4}, []byte{1}, []byte{1})
	memory := vec([]byte{0x00, 0x01})
	// heap pointer starts at 1024
	globals := vec([]byte{i32, 0x01, 0x41, 0x80, 0x08, 0x0b})
	exports := vec(
		export("memory", 0x02, 0),
		export("divide", 0x00, 0),
		export("malloc", 0x00, 1),
		export("free", 0x00, 2),
		export("poke", 0x00, 3),
		export("fadd", 0x00, 4),
		export("strlen", 0x00, 5),
		export("sum_pair", 0x00, 6),
	)
	noLocals := []byte{0x00}
	code := vec(
		body(noLocals, 0x20, 0x02, 0x20, 0x00, 0x20, 0x01, 0x6f, 0x36, 0x02, 0x00,
			0x20, 0x00, 0x20, 0x01, 0x6d, 0x0b),
		body(noLocals, 0x23, 0x00, 0x23, 0x00, 0x20, 0x00, 0x6a, 0x41, 0x07, 0x6a,
			0x41, 0x78, 0x71, 0x24, 0x00, 0x0b),
		body(noLocals, 0x0b),
		body(noLocals, 0x20, 0x00, 0x41, 0x2a, 0x36, 0x02, 0x00,
			0x20, 0x00, 0x20, 0x01, 0x36, 0x02, 0x04, 0x0b),
		body(noLocals, 0x20, 0x00, 0x20, 0x01, 0xa0, 0x0b),
		body([]byte{0x01, 0x01, i32},
			0x02, 0x40, 0x03, 0x40,
			0x20, 0x00, 0x20, 0x01, 0x6a, 0x2d, 0x00, 0x00, 0x45, 0x0d, 0x01,
			0x20, 0x01, 0x41, 0x01, 0x6a, 0x21, 0x01, 0x0c, 0x00,
			0x0b, 0x0b, 0x20, 0x01, 0x0b),
		body(noLocals, 0x20, 0x00, 0x28, 0x02, 0x00, 0x20, 0x00, 0x28, 0x02, 0x04, 0x6a, 0x0b),
	)

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = append(out, section(1, types)...)
	out = append(out, section(3, funcs)...)
	out = append(out, section(5, memory)...)
	out = append(out, section(6, globals)...)
	out = append(out, section(7, exports)...)
	out = append(out, section(10, code)...)
	return out
}

const testWIT = `
package test:demo;

world demo {
	export divide: func(a: s32, b: s32, rem: list<s32>) -> s32;
	export fadd: func(a: f64, b: f64) -> f64;
	export strlen: func(s: string) -> u32;
}
`
