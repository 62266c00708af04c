package dkg

import (
	"encoding/json"
	"errors"
	"os"

	bls381 "github.com/zmlAEQ/Aequa-dkg/internal/tss/core/bls381"
)

// Config is the participant's local configuration.
type Config struct {
	SessionID string `json:"session_id"`
	Address   string `json:"address"`
	// SecretKey is the member's BLS12-381 secret scalar (32B big-endian).
	SecretKey []byte `json:"secret_key"`

	KeySharePath string `json:"keyshare_path,omitempty"` // default: dkg_keyshare.dat
	SessionDir   string `json:"session_dir,omitempty"`   // optional; enables re-dealing the same polynomial

	// Endpoint is the node API used by dkgctl.
	Endpoint string `json:"endpoint,omitempty"`
}

const defaultKeySharePath = "dkg_keyshare.dat"

func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.SessionID == "" {
		return errors.New("missing session_id")
	}
	if c.Address == "" {
		return errors.New("missing address")
	}
	if _, err := bls381.ScalarFromBytes(c.SecretKey); err != nil {
		return errors.New("invalid secret_key")
	}
	return nil
}
