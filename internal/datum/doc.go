// Package datum holds the cell values carried by result sets.
//
// A Value is one of Null, Int, Float, Text, Bytes or Bool. Engines convert
// whatever their driver scans into these types with FromDriver, and command
// arguments go the other way through ToDriver.
//
// MarshalCanonical renders values (and plain maps and slices of them) as
// RFC 8785 canonical JSON so traces and CLI output are byte-stable across
// runs.
package datum
