// Package record defines the documents the allocator persists and their
// canonical JSON encoding.
//
// Two documents exist per series:
//   - SeriesCounter: the high-water mark of committed allocations
//   - Issuance: the write-once witness of one issued designator
//
// Documents are encoded with MarshalCanonical (RFC 8785 ordering, NFC
// strings, no floats) so that identical state always produces identical
// bytes, whichever backend stores them. Store keys use the same encoding.
package record
