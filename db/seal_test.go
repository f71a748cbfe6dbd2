package db

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func testKey(b byte) []byte { return bytes.Repeat([]byte{b}, 32) }

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer(testKey(1))
	if err != nil {
		t.Fatal(err)
	}
	for _, plain := range []string{"", "oauth:abc123", "ünïcödé token"} {
		sealed, err := s.Seal(plain)
		if err != nil {
			t.Fatalf("Seal(%q) error = %v", plain, err)
		}
		if plain != "" && sealed == plain {
			t.Errorf("Seal(%q) returned plaintext", plain)
		}
		got, err := s.Open(sealed)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if got != plain {
			t.Errorf("Open(Seal(%q)) = %q", plain, got)
		}
	}
}

func TestSealerNonceIsRandom(t *testing.T) {
	s, _ := NewSealer(testKey(2))
	a, _ := s.Seal("same")
	b, _ := s.Seal("same")
	if a == b {
		t.Error("two seals of the same plaintext are identical")
	}
}

func TestSealerRejects(t *testing.T) {
	if _, err := NewSealer([]byte("short")); err == nil {
		t.Error("NewSealer accepted a short key")
	}

	s, _ := NewSealer(testKey(3))
	other, _ := NewSealer(testKey(4))
	sealed, _ := s.Seal("secret")

	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name  string
		input string
		with  *Sealer
	}{
		{"wrong key", sealed, other},
		{"tampered", tampered, s},
		{"not base64", "%%%", s},
		{"too short", base64.StdEncoding.EncodeToString([]byte("abc")), s},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.with.Open(tt.input); err == nil {
				t.Error("Open() succeeded")
			}
		})
	}
}

func TestNewTokenStoreKey(t *testing.T) {
	ts, err := NewTokenStore(nil, nil)
	if err != nil || ts.sealer != nil {
		t.Errorf("NewTokenStore(nil key) = %v, %v; want plaintext store", ts, err)
	}
	if _, err := NewTokenStore(nil, []byte("bad")); err == nil {
		t.Error("NewTokenStore accepted a bad key")
	}
}
