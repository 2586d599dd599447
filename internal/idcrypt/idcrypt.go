// Package idcrypt produces and reads the encrypted doctor identifiers the
// booking site expects in its links.
//
// The format is the one used by the site's framework: a base64 JSON envelope
// of {iv, value, mac} where value is AES-256-CBC with PKCS#7 padding and mac is
// the hex HMAC-SHA256 of iv+value.
package idcrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrInvalidKey     = errors.New("idcrypt: key must be 32 bytes")
	ErrInvalidPayload = errors.New("idcrypt: invalid payload")
	ErrInvalidMAC     = errors.New("idcrypt: mac mismatch")
)

type payload struct {
	IV    string `json:"iv"`
	Value string `json:"value"`
	MAC   string `json:"mac"`
	Tag   string `json:"tag"`
}

// Cipher encrypts identifiers with a fixed application key.
type Cipher struct {
	key  []byte
	rand io.Reader
}

// New creates a Cipher from an application key. Keys prefixed with "base64:"
// are decoded first.
func New(appKey string) (*Cipher, error) {
	key := []byte(appKey)
	if rest, ok := strings.CutPrefix(appKey, "base64:"); ok {
		decoded, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return nil, fmt.Errorf("idcrypt: decode key: %w", err)
		}
		key = decoded
	}
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	return &Cipher{key: key, rand: rand.Reader}, nil
}

// Encrypt returns the encrypted envelope for plain.
func (c *Cipher) Encrypt(plain string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return "", fmt.Errorf("idcrypt: read iv: %w", err)
	}
	padded := pad([]byte(plain), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	p := payload{
		IV:    base64.StdEncoding.EncodeToString(iv),
		Value: base64.StdEncoding.EncodeToString(out),
	}
	p.MAC = c.mac(p.IV, p.Value)
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decrypt reverses Encrypt after checking the MAC.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidPayload
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", ErrInvalidPayload
	}
	want, err := hex.DecodeString(p.MAC)
	if err != nil || !hmac.Equal(want, c.macBytes(p.IV, p.Value)) {
		return "", ErrInvalidMAC
	}
	iv, err := base64.StdEncoding.DecodeString(p.IV)
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrInvalidPayload
	}
	value, err := base64.StdEncoding.DecodeString(p.Value)
	if err != nil || len(value) == 0 || len(value)%aes.BlockSize != 0 {
		return "", ErrInvalidPayload
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(value))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, value)
	plain, err := unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (c *Cipher) mac(iv, value string) string {
	return hex.EncodeToString(c.macBytes(iv, value))
}

func (c *Cipher) macBytes(iv, value string) []byte {
	h := hmac.New(sha256.New, c.key)
	h.Write([]byte(iv + value))
	return h.Sum(nil)
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append([]byte(nil), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrInvalidPayload
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, ErrInvalidPayload
		}
	}
	return b[:len(b)-n], nil
}
