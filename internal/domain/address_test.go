package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase no prefix", "ab12cd", "ab12cd"},
		{"0x prefix stripped", "0xAB12CD", "ab12cd"},
		{"uppercase prefix stripped", "0XAB12CD", "ab12cd"},
		{"checksummed evm address", "0xDc64a140Aa3E981100a9becA4E685f962f0cF6C9", "dc64a140aa3e981100a9beca4e685f962f0cf6c9"},
		{"surrounding whitespace", "  0xab12CD ", "ab12cd"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeAddress(tt.in))
		})
	}
}

func TestNormalizeAddress_Idempotent(t *testing.T) {
	in := "0xDc64a140Aa3E981100a9becA4E685f962f0cF6C9"
	once := NormalizeAddress(in)
	assert.Equal(t, once, NormalizeAddress(once))
}

func TestSameAddress(t *testing.T) {
	assert.True(t, SameAddress("0xAB12", "ab12"))
	assert.True(t, SameAddress("0XAB12", "0xab12"))
	assert.False(t, SameAddress("ab12", "ab13"))
}

func TestTradeEventKey(t *testing.T) {
	ev := TradeEvent{TxID: "0xdeadbeef", EventIndex: 7}
	assert.Equal(t, "0xdeadbeef:7", ev.Key())
}
