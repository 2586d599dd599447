package idcrypt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

var testKey = "base64:" + base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))

func TestNew(t *testing.T) {
	if _, err := New(testKey); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := New(strings.Repeat("k", 32)); err != nil {
		t.Errorf("raw 32-byte key must be accepted: %v", err)
	}
	if _, err := New("short"); err != ErrInvalidKey {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := New("base64:!!!"); err == nil {
		t.Error("expected decode error")
	}
}

func TestEncryptRoundTrip(t *testing.T) {
	c, _ := New(testKey)
	for _, id := range []string{"1", "117", "a-longer-identifier-spanning-blocks", ""} {
		enc, err := c.Encrypt(id)
		if err != nil {
			t.Fatalf("Encrypt(%q) failed: %v", id, err)
		}
		got, err := c.Decrypt(enc)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if got != id {
			t.Errorf("round trip = %q, want %q", got, id)
		}
	}
}

func TestEncryptEnvelopeShape(t *testing.T) {
	c, _ := New(testKey)
	enc, _ := c.Encrypt("42")
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		t.Fatalf("envelope is not base64: %v", err)
	}
	var p map[string]string
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("envelope is not JSON: %v", err)
	}
	if p["iv"] == "" || p["value"] == "" || len(p["mac"]) != 64 {
		t.Errorf("unexpected envelope %v", p)
	}

	again, _ := c.Encrypt("42")
	if again == enc {
		t.Error("random IV must make ciphertexts differ")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	c, _ := New(testKey)
	enc, _ := c.Encrypt("42")
	raw, _ := base64.StdEncoding.DecodeString(enc)
	var p payload
	json.Unmarshal(raw, &p)
	p.MAC = strings.Repeat("0", 64)
	data, _ := json.Marshal(p)
	if _, err := c.Decrypt(base64.StdEncoding.EncodeToString(data)); err != ErrInvalidMAC {
		t.Errorf("expected ErrInvalidMAC, got %v", err)
	}

	other, _ := New(strings.Repeat("x", 32))
	if _, err := other.Decrypt(enc); err != ErrInvalidMAC {
		t.Errorf("foreign key must fail MAC check, got %v", err)
	}
	if _, err := c.Decrypt("not base64"); err != ErrInvalidPayload {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}
