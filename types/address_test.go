package types

import (
	"encoding/json"
	"testing"
)

func TestParseAddress(t *testing.T) {
	hex := "0x000102030405060708090a0b0c0d0e0f"
	addr, err := ParseAddress(hex)
	if err != nil {
		t.Fatalf("ParseAddress failed: %v", err)
	}

	if addr.String() != hex {
		t.Errorf("Expected %s, got %s", hex, addr.String())
	}

	// Without 0x prefix
	addr2, err := ParseAddress(hex[2:])
	if err != nil {
		t.Fatalf("ParseAddress without prefix failed: %v", err)
	}
	if addr != addr2 {
		t.Error("Prefixed and unprefixed parses differ")
	}
}

func TestParseAddressInvalid(t *testing.T) {
	cases := []string{
		"",
		"0x1234",
		"0x000102030405060708090a0b0c0d0e0f00", // too long
		"0xzz0102030405060708090a0b0c0d0e0f",   // not hex
	}

	for _, c := range cases {
		if _, err := ParseAddress(c); err == nil {
			t.Errorf("ParseAddress(%q) should fail", c)
		}
	}
}

func TestAddressEquality(t *testing.T) {
	a, _ := ParseAddress("0x000102030405060708090a0b0c0d0e0f")
	b, _ := ParseAddress("0x000102030405060708090a0b0c0d0e0f")
	c, _ := ParseAddress("0x0f0102030405060708090a0b0c0d0e0f")

	if a != b {
		t.Error("Equal addresses compare unequal")
	}
	if a == c {
		t.Error("Distinct addresses compare equal")
	}
}

func TestAddressIsZero(t *testing.T) {
	var zero Address
	if !zero.IsZero() {
		t.Error("Zero value should report IsZero")
	}

	addr, _ := ParseAddress("0x000102030405060708090a0b0c0d0e0f")
	if addr.IsZero() {
		t.Error("Non-zero address reported IsZero")
	}
}

func TestAddressJSON(t *testing.T) {
	addr, _ := ParseAddress("0x000102030405060708090a0b0c0d0e0f")

	data, err := json.Marshal(addr)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `"0x000102030405060708090a0b0c0d0e0f"` {
		t.Errorf("Unexpected JSON form: %s", data)
	}

	var decoded Address
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded != addr {
		t.Error("Address changed across JSON round trip")
	}
}
