// Package drawbridge forwards calls into foreign libraries that can only be
// loaded by a different, incompatible host process.
//
// The caller process describes routine signatures with native type
// descriptors. The descriptors are turned into Definitions, shipped to a
// companion process that loads the library, and reconstructed there with a
// layout that matches the companion's ABI. Every call then travels as packed
// argument values plus memory packages for pointers whose pointees must be kept
// in sync across the process boundary.
//
// # Architecture Overview
//
//	drawbridge/          Root package with Memory, Allocator and Space interfaces
//	├── ctype/           Native type descriptors, ABIs, raw memsync declarations
//	├── layout/          Size, alignment and field offsets per ABI
//	├── native/          Native value model and the library loader interfaces
//	│   ├── arena/       In-process address space and Go-implemented libraries
//	│   └── wasm/        wazero-backed libraries with WIT signatures
//	├── definition/      Definition model, memsync compiler and protocol steps
//	├── mempkg/          Memory packages exchanged per call
//	├── cache/           Per-session type and callback registries
//	├── codec/           Argument and return value codec, call protocol
//	├── callback/        Function pointers crossing the boundary
//	├── rpc/             Persistent-connection request/response transport
//	├── session/         Session, Library and Routine, plus the companion server
//	├── errors/          Structured error types
//	└── cmd/
//	    ├── companion/   Companion process entry point
//	    └── drawbridge/  CLI and TUI for listing and calling routines
//
// # Quick Start
//
//	cfg := session.DefaultConfig()
//	cfg.Bootstrap = &session.InProcess{Loader: loader}
//
//	sess, err := session.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sess.Close(ctx)
//
//	lib, err := sess.CDLL(ctx, "demo")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	divide, err := lib.Routine(ctx, "divide")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	divide.SetArgTypes(ctype.Int, ctype.Int, ctype.PointerTo(ctype.Int))
//	divide.SetResType(ctype.Int)
//
//	rem := native.Ref(int64(0))
//	quot, err := divide.Call(ctx, int64(11), int64(3), rem)
//	// quot == int64(3), rem.Value == int64(2)
//
// # Thread Safety
//
// Session, Library and Routine are safe for concurrent use. Nested calls (a
// foreign routine invoking a callback that calls back into the library) are
// supported because each direction has its own connection.
package drawbridge
