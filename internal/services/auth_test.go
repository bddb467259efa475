package services

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthenticate_NothingConfigured(t *testing.T) {
	a := NewWebhookAuthenticator(nil, "", "")
	assert.NoError(t, a.Authenticate("", "", "", []byte("{}")))
	assert.NoError(t, a.Authenticate("203.0.113.9", "whatever", "zz", nil))
}

func TestAuthenticate_Allowlist(t *testing.T) {
	a := NewWebhookAuthenticator([]string{"10.0.0.5", " 192.168.1.0/24 ", "not-an-ip"}, "", "")

	tests := []struct {
		ip   string
		want error
	}{
		{"10.0.0.5", nil},
		{"192.168.1.77", nil},
		{"192.168.2.1", ErrIPNotAllowed},
		{"10.0.0.6", ErrIPNotAllowed},
		{"", ErrIPNotAllowed},
		{"garbage", ErrIPNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			err := a.Authenticate(tt.ip, "", "", nil)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAuthenticate_Token(t *testing.T) {
	a := NewWebhookAuthenticator(nil, "s3cret", "")

	assert.NoError(t, a.Authenticate("1.2.3.4", "s3cret", "", nil))
	assert.ErrorIs(t, a.Authenticate("1.2.3.4", "s3cre", "", nil), ErrInvalidToken)
	assert.ErrorIs(t, a.Authenticate("1.2.3.4", "", "", nil), ErrInvalidToken)
}

func TestAuthenticate_Signature(t *testing.T) {
	body := []byte(`{"event":"messages.upsert"}`)
	a := NewWebhookAuthenticator(nil, "", "hmac-key")
	sig := hex.EncodeToString(Sign([]byte("hmac-key"), body))

	assert.NoError(t, a.Authenticate("", "", sig, body))
	assert.NoError(t, a.Authenticate("", "", "sha256="+sig, body))
	assert.ErrorIs(t, a.Authenticate("", "", sig, []byte(`{"event":"x"}`)), ErrInvalidSignature)
	assert.ErrorIs(t, a.Authenticate("", "", "", body), ErrInvalidSignature)
	assert.ErrorIs(t, a.Authenticate("", "", "nothex", body), ErrInvalidSignature)
}

func TestAuthenticate_CheckOrder(t *testing.T) {
	a := NewWebhookAuthenticator([]string{"10.0.0.0/8"}, "tok", "key")

	assert.ErrorIs(t, a.Authenticate("8.8.8.8", "bad", "bad", nil), ErrIPNotAllowed)
	assert.ErrorIs(t, a.Authenticate("10.1.1.1", "bad", "bad", nil), ErrInvalidToken)
	assert.ErrorIs(t, a.Authenticate("10.1.1.1", "tok", "bad", nil), ErrInvalidSignature)
}
