package store

import (
	"encoding/binary"
	"errors"
)

// binary encoding for key-value backends: [version:8][data:n]

// MarshalVersioned encodes a record for backends that store raw bytes.
func MarshalVersioned(v Versioned) []byte {
	buf := make([]byte, 8+len(v.Data))
	binary.BigEndian.PutUint64(buf[:8], v.Version)
	copy(buf[8:], v.Data)
	return buf
}

// UnmarshalVersioned decodes a record written by MarshalVersioned. The
// returned data does not alias b.
func UnmarshalVersioned(b []byte) (Versioned, error) {
	if len(b) < 8 {
		return Versioned{}, errors.New("invalid versioned record length")
	}
	v := Versioned{
		Version: binary.BigEndian.Uint64(b[:8]),
		Data:    append([]byte{}, b[8:]...),
	}
	if v.Version == 0 {
		return Versioned{}, errors.New("invalid versioned record: version 0")
	}
	return v, nil
}
