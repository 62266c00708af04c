package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/zmlAEQ/Aequa-dkg/internal/api"
	"github.com/zmlAEQ/Aequa-dkg/internal/contract"
	"github.com/zmlAEQ/Aequa-dkg/internal/monitoring"
	"github.com/zmlAEQ/Aequa-dkg/internal/state"
	"github.com/zmlAEQ/Aequa-dkg/pkg/bus"
	"github.com/zmlAEQ/Aequa-dkg/pkg/lifecycle"
	"github.com/zmlAEQ/Aequa-dkg/pkg/logger"
)

// storeService closes the state store after the API has stopped.
type storeService struct{ store state.Store }

func (s storeService) Name() string                { return "state" }
func (s storeService) Start(context.Context) error { return nil }
func (s storeService) Stop(context.Context) error  { return s.store.Close() }

func main() {
	var (
		cfgPath string
		apiAddr string
		monAddr string
		dbPath  string
		genPath string
	)
	flag.StringVar(&cfgPath, "config", "", "TOML node config file")
	flag.StringVar(&apiAddr, "api", "", "API listen address (overrides config)")
	flag.StringVar(&monAddr, "monitoring", "", "Monitoring listen address (overrides config)")
	flag.StringVar(&dbPath, "db", "", "bbolt state file, or :memory: (overrides config)")
	flag.StringVar(&genPath, "genesis", "", "JSON Init message applied when the store is empty")
	flag.Parse()

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(2)
	}
	for dst, v := range map[*string]string{&cfg.API: apiAddr, &cfg.Monitoring: monAddr, &cfg.DB: dbPath, &cfg.Genesis: genPath} {
		if v != "" {
			*dst = v
		}
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(cfg.DB)
	if err != nil {
		logger.ErrorJ("dkg_node", map[string]any{"op": "open_store", "db": cfg.DB, "err": err.Error()})
		os.Exit(1)
	}
	b := bus.New(cfg.BusSize)
	c := contract.New(store, contract.WithBus(b))

	if cfg.Genesis != "" {
		if err := applyGenesis(ctx, c, cfg.Genesis); err != nil {
			logger.ErrorJ("dkg_node", map[string]any{"op": "genesis", "err": err.Error()})
			_ = store.Close()
			os.Exit(1)
		}
	}

	m := lifecycle.New()
	m.Add(storeService{store: store})
	if cfg.Monitoring != "" {
		m.Add(monitoring.New(cfg.Monitoring))
	}
	m.Add(api.New(cfg.API, c, b))

	if err := m.StartAll(ctx); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	<-ctx.Done()
	if err := m.StopAll(context.Background()); err != nil {
		logger.Error(err.Error())
	}
}

func openStore(path string) (state.Store, error) {
	if path == "" || path == ":memory:" {
		return state.NewMemoryStore(), nil
	}
	return state.OpenBolt(path)
}

func applyGenesis(ctx context.Context, c *contract.Contract, path string) error {
	g, err := loadGenesis(path)
	if err != nil {
		return err
	}
	resp, err := c.Instantiate(ctx, g.Sender, g.Msg)
	if errors.Is(err, contract.ErrAlreadyInitialized) {
		logger.InfoJ("dkg_node", map[string]any{"op": "genesis", "result": "skip"})
		return nil
	}
	if err != nil {
		return err
	}
	logger.InfoJ("dkg_node", map[string]any{"op": "genesis", "result": "ok", "attributes": len(resp.Attributes)})
	return nil
}
