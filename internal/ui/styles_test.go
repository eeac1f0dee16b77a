package ui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessagePrefixes(t *testing.T) {
	tests := []struct {
		name   string
		render func(string) string
		prefix string
	}{
		{"success", Success, "✓"},
		{"warn", Warn, "⚠"},
		{"err", Err, "✗"},
		{"info", Info, "ℹ"},
		{"hint", Hint, "💡"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.render("permit consumed")
			assert.Contains(t, out, tt.prefix)
			assert.Contains(t, out, "permit consumed")
			assert.Contains(t, tt.render(""), tt.prefix)
		})
	}
}

func TestPlainFormattersKeepText(t *testing.T) {
	assert.Contains(t, Addr("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	assert.Contains(t, Val("10 UNI-V2"), "10 UNI-V2")
	assert.Contains(t, Meta("chain 31337"), "chain 31337")
	assert.Contains(t, ChainName("localhost"), "localhost")
}

func TestStateKeepsLabel(t *testing.T) {
	for _, s := range []string{"pending", "verified", "consumed", "rejected", "match", "mismatch"} {
		assert.Contains(t, State(s), s)
	}
}

func TestCheck(t *testing.T) {
	assert.Contains(t, Check(true, "DOMAIN_SEPARATOR"), "✓")
	assert.Contains(t, Check(false, "PERMIT_TYPEHASH"), "✗")
}

func TestTruncateAddr(t *testing.T) {
	assert.Equal(t, "0xf39F…2266", TruncateAddr("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"))
	assert.Equal(t, "0x1234", TruncateAddr("0x1234"))
	assert.Equal(t, "", TruncateAddr(""))
}

func TestBanner(t *testing.T) {
	b := Banner("9.9.9")
	assert.Contains(t, b, "EIP-2612")
	assert.Contains(t, b, "v9.9.9")
}

func TestDangerBoxFramesContent(t *testing.T) {
	box := DangerBox("secret")
	assert.Contains(t, box, "secret")
	assert.Greater(t, strings.Count(box, "\n"), 1, "border adds lines")
}
