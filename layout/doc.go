// Package layout computes sizes, alignments and struct field offsets of
// native types under a given ABI.
//
// Both sides of the bridge compute layouts independently: a struct holding a
// pointer is 16 bytes on lp64 and 8 bytes on win32, so element sizes used for
// memory synchronization are always derived from the local ABI.
package layout
