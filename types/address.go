package types

import (
	"encoding/hex"
	"errors"
	"strings"
)

// AddressLength is the byte width of a participant address.
const AddressLength = 16

// Address is a fixed 16-byte identifier for a consensus participant.
// It is stable across network-level churn: reconnects and peer handle
// rotation never change a participant's address. Two addresses compare
// equal iff they denote the same participant.
type Address [AddressLength]byte

// String returns the 0x prefixed hex form.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// IsZero reports whether the address is the zero value.
func (a Address) IsZero() bool {
	return a == Address{}
}

// ParseAddress converts a hex string (with or without 0x prefix) to an Address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != AddressLength*2 {
		return Address{}, errors.New("invalid address length")
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, err
	}
	var addr Address
	copy(addr[:], data)
	return addr, nil
}

// MarshalText implements encoding.TextMarshaler so addresses serialize
// as hex strings in JSON maps and struct fields.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	addr, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}
