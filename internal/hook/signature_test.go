package hook

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerify(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/master"}`)
	v := NewVerifier("s3cret")

	assert.NoError(t, v.Verify(Sign("s3cret", body), body))

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong secret", Sign("other", body)},
		{"too short", Sign("s3cret", body)[:44]},
		{"too long", Sign("s3cret", body) + "0"},
		{"wrong algorithm", "sha2=" + Sign("s3cret", body)[5:]},
		{"not hex", "sha1=" + strings.Repeat("z", 40)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, v.Verify(tt.header, body), ErrSignature)
		})
	}
}

func TestVerify_BodyTampered(t *testing.T) {
	v := NewVerifier("s3cret")
	sig := Sign("s3cret", []byte("payload"))
	assert.ErrorIs(t, v.Verify(sig, []byte("tampered")), ErrSignature)
}

func TestSign_Length(t *testing.T) {
	assert.Len(t, Sign("x", nil), 45)
}
