package main

import (
	"testing"

	"github.com/wippyai/drawbridge/ctype"
	"github.com/wippyai/drawbridge/session"
)

func TestConvertArg(t *testing.T) {
	tests := []struct {
		name  string
		value string
		typ   ctype.Type
		want  any
	}{
		{"signed", "-7", ctype.Int, int64(-7)},
		{"hex", "0x10", ctype.Long, int64(16)},
		{"unsigned", "42", ctype.UInt, uint64(42)},
		{"float", "2.5", ctype.Double, 2.5},
		{"bool", "true", ctype.Bool, true},
		{"string", "abc", ctype.CharP, "abc"},
		{"untyped int", "12", nil, int64(12)},
		{"untyped string", "hi", nil, "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := convertArg(tt.value, tt.typ)
			if err != nil {
				t.Fatalf("convertArg: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}

	if _, err := convertArg("x", ctype.Int); err == nil {
		t.Error("expected parse error")
	}
}

func TestLookupExport(t *testing.T) {
	exports := []session.Export{
		{Name: "divide", Declared: true, Args: []ctype.Type{ctype.Int, ctype.Int}, Result: ctype.Int},
		{Name: "sum"},
	}
	if e := lookupExport(exports, "sum"); e.Name != "sum" {
		t.Errorf("by name: %q", e.Name)
	}
	if e := lookupExport(exports, "1"); e.Name != "divide" {
		t.Errorf("by ordinal: %q", e.Name)
	}
	if e := lookupExport(exports, "missing"); e.Name != "missing" || e.Declared {
		t.Errorf("unknown: %+v", e)
	}
}

func TestOverrideTypes(t *testing.T) {
	e, err := overrideTypes(session.Export{Name: "sum"}, "int, double", "double")
	if err != nil {
		t.Fatal(err)
	}
	if !e.Declared || len(e.Args) != 2 || e.Args[1] != ctype.Double || e.Result != ctype.Double {
		t.Errorf("got %+v", e)
	}
	if got := formatExport(e); got != "sum(int, double) -> double" {
		t.Errorf("formatExport = %q", got)
	}
	if _, err := overrideTypes(session.Export{}, "quad", ""); err == nil {
		t.Error("expected unknown type error")
	}
}
