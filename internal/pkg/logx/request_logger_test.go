package logx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnonymizeIP(t *testing.T) {
	tests := map[string]string{
		"203.0.113.77":              "203.0.113.0",
		"203.0.113.77:51234":        "203.0.113.0",
		"2001:db8:abcd:12:1:2:3:4":  "2001:db8:abcd:12::",
		"[2001:db8:abcd:12::9]:443": "2001:db8:abcd:12::",
		"127.0.0.1:8080":            "127.0.0.1",
		"not-an-ip":                 "unknown_ip",
	}

	for in, want := range tests {
		assert.Equal(t, want, AnonymizeIP(in), in)
	}
}
