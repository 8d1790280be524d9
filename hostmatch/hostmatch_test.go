package hostmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsProtected(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		patterns []string
		want     bool
	}{
		{"empty set", "staging.example.com", nil, false},
		{"empty set with empty host", "", []string{}, false},
		{"exact", "staging.example.com", []string{"staging.example.com"}, true},
		{"exact case insensitive", "Staging.Example.COM", []string{"staging.example.com"}, true},
		{"exact with port", "localhost:8080", []string{"localhost:8080"}, true},
		{"port is literal", "localhost:8080", []string{"localhost"}, false},
		{"wildcard deep subdomain", "a.b.example.com", []string{"*.example.com"}, true},
		{"wildcard apex", "example.com", []string{"*.example.com"}, true},
		{"wildcard suffix without dot", "notexample.com", []string{"*.example.com"}, false},
		{"no match", "shop.example.org", []string{"dev.example.com", "*.example.net"}, false},
		{"second pattern matches", "dev.example.org", []string{"dev.example.com", "*.example.org"}, true},
		{"bare wildcard ignored", "example.com", []string{"*."}, false},
		{"glob characters are literal", "xexample.com", []string{"?example.com"}, false},
		{"regex characters are literal", "aexample.com", []string{".example.com"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsProtected(tt.host, tt.patterns))
		})
	}
}

func TestIsProtected_SelfMatch(t *testing.T) {
	for _, h := range []string{"localhost", "dev.shop.test:8443", "EXAMPLE.com"} {
		assert.True(t, IsProtected(h, []string{h}), h)
	}
}

func TestSanitize(t *testing.T) {
	got := Sanitize([]string{
		"  https://Staging.Example.com/checkout/  ",
		"http://localhost:8080",
		"staging.example.com",
		"",
		"   ",
		"HTTPS://*.Dev.Example.com",
		"bad host",
		"dev\x00.example.com",
	})
	assert.Equal(t, []string{"staging.example.com", "localhost:8080", "*.dev.example.com"}, got)
}

func TestParseList(t *testing.T) {
	got := ParseList("dev.example.com\r\nstaging.example.com\n\nlocalhost\ndev.example.com\n")
	assert.Equal(t, []string{"dev.example.com", "staging.example.com", "localhost"}, got)

	got = ParseList("dev.example.com, *.staging.example.com,,")
	assert.Equal(t, []string{"dev.example.com", "*.staging.example.com"}, got)
}
