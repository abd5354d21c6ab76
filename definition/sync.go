package definition

import (
	"fmt"

	"github.com/wippyai/drawbridge/errors"
	"github.com/wippyai/drawbridge/mempkg"
	"github.com/wippyai/drawbridge/native"
)

// The memsync protocol moves pointee memory across one call:
//
//	caller: Pkg          capture memory behind each pointer
//	callee: UnpkgCallee  materialize it locally and splice pointers in
//	callee: Update       re-read it after the routine ran
//	caller: UnpkgCaller  write it back, or splice peer-allocated memory in

// ResolveLength returns the size in bytes of the pointee. Null-terminated
// lengths include the terminator.
func (m *Memsync) ResolveLength(side *Side, args []any, retval any) (int, error) {
	if m.Null {
		ptr, err := m.Pointer.Get(args, retval)
		if err != nil {
			return 0, err
		}
		addr, ok := native.AddressOf(native.Deref(ptr))
		if !ok || addr == 0 {
			return 0, nil
		}
		width := uint32(1)
		if m.Unicode {
			width = side.ABI().WCharSize
		}
		n, err := native.TerminatedLength(side.Space, uint64(addr), width)
		if err != nil {
			return 0, err
		}
		return (n + 1) * int(width), nil
	}

	var count int64
	if m.Func != nil {
		values := make([]int64, len(m.Lengths))
		for i, p := range m.Lengths {
			v, err := lengthValue(p, args, retval)
			if err != nil {
				return 0, err
			}
			values[i] = v
		}
		count = m.Func(values...)
	} else {
		v, err := lengthValue(m.Length, args, retval)
		if err != nil {
			return 0, err
		}
		count = v
	}
	if count < 0 {
		return 0, errors.New(errors.PhaseMemsync, errors.KindInvalidInput).
			Path(m.Pointer.strings()...).
			Detail("negative length %d", count).
			Build()
	}
	return int(count) * int(m.ElemSize(side)), nil
}

func lengthValue(p Path, args []any, retval any) (int64, error) {
	v, err := p.Get(args, retval)
	if err != nil {
		return 0, err
	}
	n, ok := native.Int64(native.Deref(v))
	if !ok {
		return 0, errors.New(errors.PhaseMemsync, errors.KindTypeMismatch).
			Path(p.strings()...).
			GoType(fmt.Sprintf("%T", v)).
			Detail("length is not an integer").
			Build()
	}
	return n, nil
}

func (m *Memsync) wchar(side *Side) uint32 {
	if m.Unicode {
		return side.ABI().WCharSize
	}
	return 0
}

// Pkg captures the memory behind the pointer on the holding side
func (m *Memsync) Pkg(side *Side, args []any, retval any) (*mempkg.Mempkg, error) {
	ptr, err := m.Pointer.Get(args, retval)
	if err != nil {
		return nil, err
	}
	if m.Custom != nil && ptr != nil {
		if ptr, err = m.Custom.FromParam(ptr); err != nil {
			return nil, errors.Wrap(errors.PhaseMemsync, errors.KindTypeMismatch, err, "custom memsync adapter")
		}
	}

	wchar := m.wchar(side)
	ptr = native.Deref(ptr)
	if native.IsNull(ptr) {
		return mempkg.Null(wchar), nil
	}
	addr, ok := native.AddressOf(ptr)
	if !ok {
		return nil, errors.New(errors.PhaseMemsync, errors.KindTypeMismatch).
			Path(m.Pointer.strings()...).
			GoType(fmt.Sprintf("%T", ptr)).
			Detail("memsync pointer must be an address").
			Build()
	}

	length, err := m.ResolveLength(side, args, retval)
	if err != nil {
		return nil, err
	}
	return mempkg.FromAddress(side.Space, uint64(addr), length, wchar)
}

// UnpkgCallee prepares the callee's arguments before the routine runs.
// Blocks it allocates are recorded in owned and must be released after
// Update.
func (m *Memsync) UnpkgCallee(side *Side, pkg *mempkg.Mempkg, args []any, owned *native.Allocations) error {
	if pkg.RemoteAddr == nil {
		if m.Pointer.IsReturn() {
			return nil
		}
		if m.Pointer.DerefTail() {
			return m.Pointer[:len(m.Pointer)-1].Set(args, nil, native.Ref(nil))
		}
		return m.Pointer.Set(args, nil, nil)
	}

	addr, err := pkg.Materialize(side.Space)
	if err != nil {
		return err
	}
	owned.Add(addr, uint32(max(len(pkg.Data), 1)), 8)
	return m.splice(args, nil, native.Address(addr))
}

// Update refreshes the package after the routine ran. Memory the caller
// could not provide is captured from whatever the routine left behind.
func (m *Memsync) Update(side *Side, pkg *mempkg.Mempkg, args []any, retval any) error {
	if pkg.LocalAddr == nil {
		fresh, err := m.Pkg(side, args, retval)
		if err != nil {
			return err
		}
		pkg.Replace(fresh)
		return nil
	}
	return pkg.Refresh(side.Space)
}

// UnpkgCaller applies the returned package on the caller's side
func (m *Memsync) UnpkgCaller(side *Side, pkg *mempkg.Mempkg, args []any, retval *any) error {
	if pkg.LocalAddr != nil {
		return pkg.Overwrite(side.Space)
	}
	if pkg.RemoteAddr == nil {
		// null on both sides
		return nil
	}
	addr, err := pkg.Materialize(side.Space)
	if err != nil {
		return err
	}
	return m.splice(args, retval, native.Address(addr))
}

// splice stores a pointer to freshly materialized memory at the path.
// A trailing dereference fills an existing pointer-to-pointer cell.
func (m *Memsync) splice(args []any, retval *any, addr native.Address) error {
	if !m.Pointer.DerefTail() {
		return m.Pointer.Set(args, retval, addr)
	}
	parent := m.Pointer[:len(m.Pointer)-1]
	var rv any
	if retval != nil {
		rv = *retval
	}
	holder, err := parent.Get(args, rv)
	if err != nil {
		return err
	}
	if c, ok := holder.(*native.Cell); ok {
		c.Value = addr
		return nil
	}
	return parent.Set(args, retval, native.Ref(addr))
}
