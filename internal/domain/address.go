package domain

import "strings"

// NormalizeAddress converts an address to its canonical stored form:
// lowercase hex without a 0x prefix. Every ingress path (chain event decode,
// HTTP handlers, signature verification) normalizes through this single
// function so that ledger, identity, and subject rows always compare equal
// regardless of how the address arrived.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "0x")
	addr = strings.TrimPrefix(addr, "0X")
	return strings.ToLower(addr)
}

// SameAddress reports whether two addresses are equal under normalization.
func SameAddress(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}
