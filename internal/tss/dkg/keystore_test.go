package dkg

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func sampleShare(i uint16) KeyShare {
	return KeyShare{SessionID: "s1", Index: i, Threshold: 1, Share: bytesOf(byte(i), 32), PKShare: bytesOf(0xaa, 48), Qualified: []uint16{0, 1}}
}

func bytesOf(v byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = v
	}
	return b
}

func TestKeyStore_SaveLoad_OK(t *testing.T) {
	s := NewKeyStore(filepath.Join(t.TempDir(), "dkg_keyshare.dat"))
	want := sampleShare(3)
	if err := s.SaveKeyShare(context.Background(), want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.LoadKeyShare(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Index != want.Index || got.SessionID != want.SessionID || hex.EncodeToString(got.Share) != hex.EncodeToString(want.Share) || len(got.Qualified) != 2 {
		t.Fatalf("mismatch: got=%+v want=%+v", got, want)
	}
}

func TestKeyStore_Load_Fallback_OnCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dkg_keyshare.dat")
	s := NewKeyStore(path)
	if err := s.SaveKeyShare(context.Background(), sampleShare(1)); err != nil {
		t.Fatalf("save1: %v", err)
	}
	if err := s.SaveKeyShare(context.Background(), sampleShare(2)); err != nil {
		t.Fatalf("save2: %v", err)
	}
	if err := os.Truncate(path, 8); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	got, err := s.LoadKeyShare(context.Background())
	if err != nil {
		t.Fatalf("load after corrupt: %v", err)
	}
	if got.Index != 1 {
		t.Fatalf("fallback mismatch: got=%+v want Index=1", got)
	}
}

func TestKeyStore_NotFound(t *testing.T) {
	s := NewKeyStore(filepath.Join(t.TempDir(), "missing.dat"))
	if _, err := s.LoadKeyShare(context.Background()); err != ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func encrypted(t *testing.T, path string, key []byte, zeroize bool) *KeyStore {
	t.Helper()
	ks, err := NewKeyStoreEncrypted(path, key, zeroize)
	if err != nil {
		t.Fatalf("encrypted store: %v", err)
	}
	return ks
}

func TestKeyStore_EncryptRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dkg_keyshare.dat")
	ks := encrypted(t, path, bytesOf(0x42, 32), true)
	if !ks.Encrypted() {
		t.Fatalf("expected encrypted store")
	}
	if err := ks.SaveKeyShare(context.Background(), sampleShare(7)); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if contains(raw, []byte(`"session_id"`)) {
		t.Fatalf("plaintext json on disk")
	}
	got, err := ks.LoadKeyShare(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Index != 7 {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestKeyStore_EncryptedFileWithoutKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dkg_keyshare.dat")
	enc := encrypted(t, path, bytesOf(0xab, 32), false)
	if err := enc.SaveKeyShare(context.Background(), sampleShare(1)); err != nil {
		t.Fatalf("save enc: %v", err)
	}
	if _, err := NewKeyStore(path).LoadKeyShare(context.Background()); err == nil {
		t.Fatalf("expected error without key")
	}
	wrong := encrypted(t, path, bytesOf(0xac, 32), false)
	if _, err := wrong.LoadKeyShare(context.Background()); err == nil {
		t.Fatalf("expected error with wrong key")
	}
}

func TestKeyStore_FromEnv_HexKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dkg_keyshare.dat")
	t.Setenv("AEQUA_DKG_KEYSTORE_ENCRYPT", "1")
	t.Setenv("AEQUA_DKG_KEYSTORE_KEY", hex.EncodeToString(bytesOf(0xcd, 32)))
	t.Setenv("AEQUA_DKG_ZEROIZE", "1")

	ks, err := NewKeyStoreFromEnv(path)
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if !ks.Encrypted() {
		t.Fatalf("env did not enable encryption")
	}
	if err := ks.SaveKeyShare(context.Background(), sampleShare(9)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := ks.LoadKeyShare(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestKeyStore_FromEnv_KeyFile(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key")
	if err := os.WriteFile(keyFile, bytesOf(0x01, 32), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	t.Setenv("AEQUA_DKG_KEYSTORE_ENCRYPT", "1")
	t.Setenv("AEQUA_DKG_KEYSTORE_KEY_FILE", keyFile)
	ks, err := NewKeyStoreFromEnv(filepath.Join(dir, "ks.dat"))
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if !ks.Encrypted() {
		t.Fatalf("key file did not enable encryption")
	}
}

func TestKeyStore_FromEnv_BadKeyRefused(t *testing.T) {
	dir := t.TempDir()
	shortFile := filepath.Join(dir, "short")
	if err := os.WriteFile(shortFile, bytesOf(0x01, 16), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	cases := map[string]map[string]string{
		"short hex":    {"AEQUA_DKG_KEYSTORE_KEY": "abcd"},
		"not hex":      {"AEQUA_DKG_KEYSTORE_KEY": "zz"},
		"missing file": {"AEQUA_DKG_KEYSTORE_KEY_FILE": filepath.Join(dir, "nope")},
		"short file":   {"AEQUA_DKG_KEYSTORE_KEY_FILE": shortFile},
		"no key":       {},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("AEQUA_DKG_KEYSTORE_ENCRYPT", "1")
			t.Setenv("AEQUA_DKG_KEYSTORE_KEY", "")
			t.Setenv("AEQUA_DKG_KEYSTORE_KEY_FILE", "")
			for k, v := range env {
				t.Setenv(k, v)
			}
			path := filepath.Join(t.TempDir(), "ks.dat")
			if _, err := NewKeyStoreFromEnv(path); !errors.Is(err, ErrKeystoreKey) {
				t.Fatalf("want ErrKeystoreKey, got %v", err)
			}
			_, err := NewParticipant(Config{SessionID: "s", Address: "a", SecretKey: bytesOf(0x05, 32), KeySharePath: path})
			if !errors.Is(err, ErrKeystoreKey) {
				t.Fatalf("participant: want ErrKeystoreKey, got %v", err)
			}
			if _, err := os.Stat(path); !os.IsNotExist(err) {
				t.Fatalf("nothing may be written: %v", err)
			}
		})
	}
}

func TestKeyStore_ZeroizeKeySlice(t *testing.T) {
	key := bytesOf(0x11, 32)
	_ = encrypted(t, filepath.Join(t.TempDir(), "x"), key, true)
	for _, b := range key {
		if b != 0 {
			t.Fatalf("key not zeroized")
		}
	}
}

func TestSessionStore_Fallback_OnCorruption(t *testing.T) {
	dir := t.TempDir()
	s := NewSessionStore(dir)
	if err := s.save("sess", dealState{Threshold: 1, Coeffs: [][]byte{{1}}}); err != nil {
		t.Fatalf("save1: %v", err)
	}
	if err := s.save("sess", dealState{Threshold: 2, Coeffs: [][]byte{{2}}}); err != nil {
		t.Fatalf("save2: %v", err)
	}
	if err := os.Truncate(filepath.Join(dir, "dkg_deal_sess.dat"), 8); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	got, err := s.load("sess")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Threshold != 1 {
		t.Fatalf("unexpected threshold: got=%d want=1", got.Threshold)
	}
	if _, err := s.load("missing"); err != ErrSessionNotFound {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
}

func contains(haystack, needle []byte) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if string(haystack[i:i+len(needle)]) == string(needle) {
			return true
		}
	}
	return false
}
