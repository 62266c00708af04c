package dkg

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/zmlAEQ/Aequa-dkg/pkg/logger"
	"github.com/zmlAEQ/Aequa-dkg/pkg/metrics"
)

// KeyShare is a member's output of a completed DKG epoch.
type KeyShare struct {
	SessionID   string   `json:"session_id"`
	Index       uint16   `json:"index"`
	Threshold   uint16   `json:"threshold"`
	Share       []byte   `json:"share"`
	PKShare     []byte   `json:"pk_share"`
	GroupPubKey []byte   `json:"group_pubkey"`
	Qualified   []uint16 `json:"qualified"`
}

const magicKeyShare uint32 = 0x444b4753 // 'DKGS'

var ErrNotFound = errors.New("not found")

// KeyStore persists the KeyShare with atomic writes and a .bak fallback.
// Bodies are optionally sealed with AES-256-GCM.
type KeyStore struct {
	mu      sync.Mutex
	path    string
	aead    cipher.AEAD
	zeroize bool
}

func NewKeyStore(path string) *KeyStore { return &KeyStore{path: path} }

// ErrKeystoreKey is returned when encryption is requested without a usable
// 32-byte key.
var ErrKeystoreKey = errors.New("keystore: invalid encryption key")

// NewKeyStoreEncrypted seals the share with key, which must be 32 bytes.
// key is cleared on return.
func NewKeyStoreEncrypted(path string, key []byte, zeroize bool) (*KeyStore, error) {
	defer zero(key)
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrKeystoreKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	a, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &KeyStore{path: path, aead: a, zeroize: zeroize}, nil
}

// NewKeyStoreFromEnv enables encryption when AEQUA_DKG_KEYSTORE_ENCRYPT=1.
// The key comes from AEQUA_DKG_KEYSTORE_KEY (64 hex chars) or
// AEQUA_DKG_KEYSTORE_KEY_FILE (32 raw bytes); AEQUA_DKG_ZEROIZE=1 clears
// plaintext buffers after use. Requesting encryption without a valid key is
// an error.
func NewKeyStoreFromEnv(path string) (*KeyStore, error) {
	if os.Getenv("AEQUA_DKG_KEYSTORE_ENCRYPT") != "1" {
		return NewKeyStore(path), nil
	}
	var key []byte
	if h := os.Getenv("AEQUA_DKG_KEYSTORE_KEY"); h != "" {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("%w: AEQUA_DKG_KEYSTORE_KEY is not hex", ErrKeystoreKey)
		}
		key = b
	} else if f := os.Getenv("AEQUA_DKG_KEYSTORE_KEY_FILE"); f != "" {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeystoreKey, err)
		}
		key = b
	} else {
		return nil, fmt.Errorf("%w: no key configured", ErrKeystoreKey)
	}
	return NewKeyStoreEncrypted(path, key, os.Getenv("AEQUA_DKG_ZEROIZE") == "1")
}

func (s *KeyStore) Encrypted() bool { return s.aead != nil }

func (s *KeyStore) write(ks KeyShare) error {
	payload, err := json.Marshal(ks)
	if err != nil {
		return err
	}
	if s.aead == nil {
		return writeFrame(s.path, magicKeyShare, 0, payload)
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		zero(payload)
		return err
	}
	body := s.aead.Seal(nonce, nonce, payload, nil)
	if s.zeroize {
		zero(payload)
	}
	return writeFrame(s.path, magicKeyShare, flagEncrypt, body)
}

func (s *KeyStore) read(path string) (KeyShare, error) {
	flags, body, err := readFrame(path, magicKeyShare)
	if err != nil {
		return KeyShare{}, err
	}
	plain := body
	if flags&flagEncrypt != 0 {
		if s.aead == nil {
			return KeyShare{}, errors.New("encrypted but no key")
		}
		ns := s.aead.NonceSize()
		if len(body) < ns {
			return KeyShare{}, errors.New("bad nonce")
		}
		if plain, err = s.aead.Open(nil, body[:ns], body[ns:], nil); err != nil {
			return KeyShare{}, err
		}
	}
	var ks KeyShare
	err = json.Unmarshal(plain, &ks)
	if s.zeroize {
		zero(plain)
	}
	return ks, err
}

func (s *KeyStore) SaveKeyShare(_ context.Context, ks KeyShare) error {
	begin := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(ks); err != nil {
		metrics.Inc("dkg_persist_errors_total", nil)
		logger.ErrorJ("dkg_storage", map[string]any{"op": "persist", "result": "error", "err": err.Error()})
		return err
	}
	ms := float64(time.Since(begin).Milliseconds())
	metrics.ObserveSummary("dkg_persist_ms", nil, ms)
	logger.InfoJ("dkg_storage", map[string]any{"op": "persist", "result": "ok", "latency_ms": ms, "encrypted": s.aead != nil})
	return nil
}

// LoadKeyShare reads the share, falling back to the .bak copy when the main
// file is missing or corrupt.
func (s *KeyStore) LoadKeyShare(_ context.Context) (KeyShare, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ks, err := s.read(s.path); err == nil {
		metrics.Inc("dkg_recovery_total", map[string]string{"result": "ok"})
		return ks, nil
	}
	if ks, err := s.read(s.path + ".bak"); err == nil {
		metrics.Inc("dkg_recovery_total", map[string]string{"result": "fallback"})
		logger.WarnJ("dkg_storage", map[string]any{"op": "recovery", "result": "fallback", "path": s.path})
		return ks, nil
	}
	metrics.Inc("dkg_recovery_total", map[string]string{"result": "miss"})
	return KeyShare{}, ErrNotFound
}
