package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/zmlAEQ/Aequa-dkg/internal/contract"
)

// nodeConfig is the TOML node configuration. Flags override file values.
type nodeConfig struct {
	API        string `toml:"api"`
	Monitoring string `toml:"monitoring"`
	// DB is the bbolt file; empty keeps state in memory.
	DB      string `toml:"db"`
	Genesis string `toml:"genesis"`
	BusSize int    `toml:"bus_size"`
}

func defaultConfig() nodeConfig {
	return nodeConfig{
		API:        "127.0.0.1:4700",
		Monitoring: "127.0.0.1:4720",
		DB:         "dkg.db",
		BusSize:    256,
	}
}

func loadConfig(path string) (nodeConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	return cfg, cfg.validate()
}

func (c nodeConfig) validate() error {
	if c.API == "" {
		return errors.New("missing api address")
	}
	if c.BusSize < 0 {
		return errors.New("invalid bus_size")
	}
	return nil
}

// genesis is the Init call applied on first start.
type genesis struct {
	Sender string           `json:"sender"`
	Msg    contract.InitMsg `json:"msg"`
}

func loadGenesis(path string) (genesis, error) {
	var g genesis
	b, err := os.ReadFile(path)
	if err != nil {
		return g, err
	}
	if err := json.Unmarshal(b, &g); err != nil {
		return g, fmt.Errorf("genesis %s: %w", path, err)
	}
	if g.Sender == "" {
		return g, fmt.Errorf("genesis %s: missing sender", path)
	}
	return g, nil
}
