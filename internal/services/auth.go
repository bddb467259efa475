package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net"
	"strings"
)

var (
	ErrIPNotAllowed     = errors.New("source ip is not allowed")
	ErrInvalidToken     = errors.New("invalid webhook token")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// WebhookAuthenticator applies the optional checks configured for the
// inbound webhook. A check with no configuration always passes.
type WebhookAuthenticator struct {
	allow  []*net.IPNet
	ips    map[string]struct{}
	token  string
	secret []byte
}

// NewWebhookAuthenticator accepts plain addresses and CIDR ranges in the
// allowlist. Entries that parse as neither are ignored.
func NewWebhookAuthenticator(allowlist []string, token, signatureSecret string) *WebhookAuthenticator {
	a := &WebhookAuthenticator{ips: make(map[string]struct{}), token: token}
	if signatureSecret != "" {
		a.secret = []byte(signatureSecret)
	}
	for _, entry := range allowlist {
		entry = strings.TrimSpace(entry)
		if _, n, err := net.ParseCIDR(entry); err == nil {
			a.allow = append(a.allow, n)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			a.ips[ip.String()] = struct{}{}
		}
	}
	return a
}

func (a *WebhookAuthenticator) Authenticate(remoteIP, token, signature string, body []byte) error {
	if !a.ipAllowed(remoteIP) {
		return ErrIPNotAllowed
	}
	if a.token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
		return ErrInvalidToken
	}
	if a.secret != nil && !a.validSignature(signature, body) {
		return ErrInvalidSignature
	}
	return nil
}

func (a *WebhookAuthenticator) ipAllowed(remote string) bool {
	if len(a.ips) == 0 && len(a.allow) == 0 {
		return true
	}
	ip := net.ParseIP(strings.TrimSpace(remote))
	if ip == nil {
		return false
	}
	if _, ok := a.ips[ip.String()]; ok {
		return true
	}
	for _, n := range a.allow {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (a *WebhookAuthenticator) validSignature(signature string, body []byte) bool {
	got, err := hex.DecodeString(strings.TrimSpace(strings.TrimPrefix(signature, "sha256=")))
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(got, Sign(a.secret, body))
}

// Sign is the HMAC-SHA256 a sender attaches, before hex encoding.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
