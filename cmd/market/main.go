package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/opinionmarket/config"
	"github.com/alejandrodnm/opinionmarket/internal/adapters/httpapi"
	"github.com/alejandrodnm/opinionmarket/internal/adapters/notify"
	"github.com/alejandrodnm/opinionmarket/internal/adapters/redisbus"
	"github.com/alejandrodnm/opinionmarket/internal/adapters/storage"
	"github.com/alejandrodnm/opinionmarket/internal/domain"
	"github.com/alejandrodnm/opinionmarket/internal/market"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	serve := flag.Bool("serve", false, "run the HTTP API until interrupted")
	report := flag.Bool("report", false, "print the persisted market state and exit")
	table := flag.Bool("table", false, "print events as tables (default: compact 1-line)")
	quiet := flag.Bool("quiet", false, "do not echo events to the console")
	token := flag.String("token", "", "print a bearer token for this address and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of tokens printed by -token")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	if *token != "" {
		if err := printToken(cfg.API, *token, *tokenTTL); err != nil {
			slog.Error("failed to sign token", "err", err)
			os.Exit(1)
		}
		return
	}

	if !*serve && !*report {
		fmt.Fprintln(os.Stderr, "nothing to do: pass -serve, -report or -token")
		flag.Usage()
		os.Exit(2)
	}

	params, err := cfg.Market.Params()
	if err != nil {
		slog.Error("invalid market parameters", "err", err)
		os.Exit(1)
	}

	slog.Info("opinion market starting",
		"config", *configPath,
		"dsn", cfg.Storage.DSN,
		"serve", *serve,
		"report", *report,
		"redis", cfg.Redis.Enabled,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	console := notify.NewConsole(*table)
	opts := []market.Option{market.WithStorage(store)}
	if *serve && !*quiet {
		opts = append(opts, market.WithPublisher(console))
	}

	if *serve && cfg.Redis.Enabled {
		bus, err := redisbus.Dial(ctx, redisbus.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Stream:     cfg.Redis.Stream,
			MaxLen:     cfg.Redis.MaxLen,
		})
		if err != nil {
			slog.Error("failed to connect to redis", "err", err, "addr", cfg.Redis.Addr)
			os.Exit(1)
		}
		defer bus.Close()
		opts = append(opts, market.WithPublisher(bus))
		slog.Info("publishing events to redis", "stream", bus.Stream())
	}

	m, err := market.New(params, opts...)
	if err != nil {
		slog.Error("failed to build market", "err", err)
		os.Exit(1)
	}
	if err := m.Restore(ctx); err != nil {
		slog.Error("failed to restore market", "err", err)
		os.Exit(1)
	}
	if err := bootstrapRoles(ctx, m, cfg.Market); err != nil {
		slog.Error("invalid role configuration", "err", err)
		os.Exit(1)
	}

	if *report {
		console.PrintReport(notify.ReportInput{
			Opinions: m.Opinions(),
			Pools:    m.Pools(),
			Accounts: m.Accounts(),
			Supply:   m.Supply(),
			Seq:      m.Seq(),
		})
		if !*serve {
			return
		}
	}

	if cfg.API.JWTSecret == "" {
		slog.Error("api.jwt_secret (or JWT_SECRET) is required to serve")
		os.Exit(1)
	}

	srv := httpapi.New(m, httpapi.Config{
		Addr:          cfg.API.Addr,
		JWTSecret:     []byte(cfg.API.JWTSecret),
		RatePerSecond: cfg.API.RatePerSecond,
		Burst:         cfg.API.Burst,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return expireLoop(gctx, m) })

	if err := g.Wait(); err != nil {
		slog.Error("market exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("opinion market stopped cleanly", "seq", m.Seq())
}

// bootstrapRoles concede los permisos del fichero de config. Es idempotente
// frente a lo ya restaurado del storage.
func bootstrapRoles(ctx context.Context, m *market.Market, cfg config.MarketConfig) error {
	roles, err := cfg.Roles()
	if err != nil {
		return err
	}
	for c, ids := range roles {
		for _, id := range ids {
			m.BootstrapRole(ctx, id, c)
		}
	}
	if len(m.Roles()[domain.CapAdmin]) == 0 {
		slog.Warn("no admin configured: parameters and roles cannot be changed at runtime")
	}
	return nil
}

// expireLoop marca como expirados los pools vencidos, así los contribuyentes
// pueden retirar sin que nadie llame a expire a mano.
func expireLoop(ctx context.Context, m *market.Market) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.ExpireDuePools(ctx); n > 0 {
				slog.Info("pools expired", "count", n)
			}
		}
	}
}

func printToken(cfg config.APIConfig, addr string, ttl time.Duration) error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("api.jwt_secret (or JWT_SECRET) is not set")
	}
	id, err := domain.ParseIdentity(addr)
	if err != nil {
		return err
	}
	tok, err := httpapi.SignToken([]byte(cfg.JWTSecret), id, ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
