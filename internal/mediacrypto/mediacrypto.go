// Package mediacrypto implements the provider's encrypted-attachment scheme:
// HKDF-SHA256 key expansion, a truncated HMAC-SHA256 tag and AES-256-CBC.
package mediacrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

const (
	expandedKeyLen = 112
	macLen         = 10
)

var (
	ErrMediaAuthentication = errors.New("media authentication failed")
	ErrInvalidKey          = errors.New("invalid media key")
	ErrCiphertextTooShort  = errors.New("ciphertext too short")
	ErrInvalidPadding      = errors.New("invalid padding")
	ErrUnknownMediaType    = errors.New("unknown media type")
)

var appInfo = map[string][]byte{
	"image":    []byte("WhatsApp Image Keys"),
	"sticker":  []byte("WhatsApp Image Keys"),
	"video":    []byte("WhatsApp Video Keys"),
	"audio":    []byte("WhatsApp Audio Keys"),
	"document": []byte("WhatsApp Document Keys"),
}

// Keys is the split expanded key material.
type Keys struct {
	IV     []byte
	Cipher []byte
	MAC    []byte
}

// NormalizeType maps stored media type tags ("image", "imageMessage",
// "stickermessage") onto the scheme's categories.
func NormalizeType(mediaType string) string {
	t := strings.ToLower(strings.TrimSpace(mediaType))
	return strings.TrimSuffix(t, "message")
}

// DeriveKeys expands a base64 media key for the given media type.
func DeriveKeys(base64Key, mediaType string) (*Keys, error) {
	info, ok := appInfo[NormalizeType(mediaType)]
	if !ok {
		return nil, errors.Wrap(ErrUnknownMediaType, mediaType)
	}
	mediaKey, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil || len(mediaKey) == 0 {
		return nil, ErrInvalidKey
	}

	expanded := make([]byte, expandedKeyLen)
	r := hkdf.New(sha256.New, mediaKey, make([]byte, sha256.Size), info)
	if _, err := io.ReadFull(r, expanded); err != nil {
		return nil, errors.Wrap(err, "hkdf expand")
	}

	return &Keys{
		IV:     expanded[0:16],
		Cipher: expanded[16:48],
		MAC:    expanded[48:80],
	}, nil
}

// Decrypt authenticates and decrypts an encrypted attachment. The trailing
// tag is checked before any decryption is attempted.
func Decrypt(data []byte, base64Key, mediaType string) ([]byte, error) {
	keys, err := DeriveKeys(base64Key, mediaType)
	if err != nil {
		return nil, err
	}
	if len(data) <= macLen {
		return nil, ErrCiphertextTooShort
	}

	ciphertext, tag := data[:len(data)-macLen], data[len(data)-macLen:]
	if !hmac.Equal(sign(keys, ciphertext), tag) {
		return nil, ErrMediaAuthentication
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrCiphertextTooShort
	}

	block, err := aes.NewCipher(keys.Cipher)
	if err != nil {
		return nil, errors.Wrap(err, "aes")
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, keys.IV).CryptBlocks(plain, ciphertext)

	return unpad(plain)
}

// Encrypt produces the provider layout (ciphertext || tag). It is used by the
// provider simulator and tests.
func Encrypt(plain []byte, base64Key, mediaType string) ([]byte, error) {
	keys, err := DeriveKeys(base64Key, mediaType)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(keys.Cipher)
	if err != nil {
		return nil, errors.Wrap(err, "aes")
	}

	padded := pad(plain)
	out := make([]byte, len(padded), len(padded)+macLen)
	cipher.NewCBCEncrypter(block, keys.IV).CryptBlocks(out, padded)
	return append(out, sign(keys, out)...), nil
}

// NewMediaKey returns a random base64 media key.
func NewMediaKey() (string, error) {
	k := make([]byte, 32)
	if _, err := rand.Read(k); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(k), nil
}

func sign(keys *Keys, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, keys.MAC)
	mac.Write(keys.IV)
	mac.Write(ciphertext)
	return mac.Sum(nil)[:macLen]
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(append([]byte(nil), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrInvalidPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, ErrInvalidPadding
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, ErrInvalidPadding
		}
	}
	return b[:len(b)-n], nil
}
