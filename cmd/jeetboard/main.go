package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fumbled/jeetboard/internal/app"
	"github.com/fumbled/jeetboard/internal/auth"
	"github.com/fumbled/jeetboard/internal/cache"
	"github.com/fumbled/jeetboard/internal/config"
	"github.com/fumbled/jeetboard/internal/fumbles"
	"github.com/fumbled/jeetboard/internal/infrastructure/providers"
	httpapi "github.com/fumbled/jeetboard/internal/interfaces/http"
	"github.com/fumbled/jeetboard/internal/interfaces/ws"
	"github.com/fumbled/jeetboard/internal/leaderboard"
	"github.com/fumbled/jeetboard/internal/models"
	"github.com/fumbled/jeetboard/internal/net/ratelimit"
	"github.com/fumbled/jeetboard/internal/persistence/postgres"
	"github.com/fumbled/jeetboard/internal/persistence/redisstore"
	"github.com/fumbled/jeetboard/internal/prices"
	"github.com/fumbled/jeetboard/internal/telemetry/metrics"
)

const (
	appName = "jeetboard"
	version = "v1.2.0"
)

var configPath string

// addConfigFlag registers the shared --config flag on a flag set.
func addConfigFlag(fs *pflag.FlagSet) {
	fs.StringVarP(&configPath, "config", "c", "", "path to YAML config file")
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	// Secrets for local development; absent file is fine.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env")
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Paper-hands leaderboard service",
		Long:    "jeetboard analyzes wallet sale history against later price rallies,\nscores the missed gains and serves a cross-user leaderboard.",
		Version: version,
	}
	addConfigFlag(rootCmd.PersistentFlags())

	rootCmd.AddCommand(serveCmd(), leaderboardCmd(), fumblesCmd(), tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func leaderboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard [timeframe]",
		Short: "Compute a leaderboard snapshot and print it as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tfArg := string(models.TimeframeWeekly)
			if len(args) == 1 {
				tfArg = args[0]
			}
			tf, err := models.ParseTimeframe(tfArg)
			if err != nil {
				return err
			}

			deps, err := buildDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.close()

			snap, err := deps.service.ComputeLeaderboard(cmd.Context(), tf)
			if err != nil {
				return err
			}
			return printJSON(snap)
		},
	}
}

func fumblesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fumbles <address> [timeframe]",
		Short: "Analyze one wallet and print the result as JSON",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tfArg := string(models.TimeframeMonthly)
			if len(args) == 2 {
				tfArg = args[1]
			}
			tf, err := models.ParseTimeframe(tfArg)
			if err != nil {
				return err
			}

			deps, err := buildDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.close()

			result, err := deps.service.ComputeFumbles(cmd.Context(), args[0], tf)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Sign a bearer token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.Secret == "" {
				return fmt.Errorf("auth secret is not configured (set JWT_SECRET)")
			}

			signer := auth.JWT{Secret: []byte(cfg.Auth.Secret), TokenTTL: ttl}
			token, expiresAt, err := signer.Sign(auth.Claims{UserID: args[0]})
			if err != nil {
				return err
			}
			fmt.Println(token)
			log.Info().Time("expires_at", expiresAt).Msg("Token signed")
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

// deps is the wired object graph shared by the server and the one-shot
// commands.
type deps struct {
	cfg      config.Config
	service  *app.Service
	cacheSvc *cache.Service
	users    *postgres.UsersRepo
	wallets  *postgres.WalletsRepo
	prom     *metrics.Registry
	hub      *ws.Hub
	store    *redisstore.Store
	closeFns []func()
}

func (d *deps) close() {
	for i := len(d.closeFns) - 1; i >= 0; i-- {
		d.closeFns[i]()
	}
}

func buildDeps(ctx context.Context) (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	prom := metrics.NewRegistry()
	cacheSvc := cache.New(cfg.Cache.MaxEntries)
	respCache := cache.NewByteStoreAuto(cfg.Redis.Addr)

	cgLimiter := ratelimit.NewLimiter(cfg.Providers.CoinGecko.RPS, cfg.Providers.CoinGecko.Burst)
	zapLimiter := ratelimit.NewLimiter(cfg.Providers.Zapper.RPS, cfg.Providers.Zapper.Burst)

	priceSource := providers.NewCoinGeckoProvider(providers.CoinGeckoConfig{
		BaseURL:  cfg.Providers.CoinGecko.BaseURL,
		APIKey:   cfg.Providers.CoinGecko.APIKey,
		RPMLimit: cfg.Providers.CoinGecko.RPMBudget,
	}, cgLimiter, respCache, prom)

	txSource := providers.NewZapperProvider(providers.ZapperConfig{
		BaseURL: cfg.Providers.Zapper.BaseURL,
		APIKey:  cfg.Providers.Zapper.APIKey,
	}, zapLimiter, prom)

	resolver := prices.NewResolver(priceSource, cacheSvc, prices.Config{})
	detector := fumbles.NewDetector(txSource, resolver, fumbles.Config{
		Window:          cfg.DetectionWindow(),
		RallyMultiplier: cfg.Detection.RallyMultiplier,
		MaxConcurrency:  cfg.Detection.MaxConcurrency,
	})

	db, err := postgres.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	dbTimeout := time.Duration(cfg.Postgres.TimeoutSecs) * time.Second
	users := postgres.NewUsersRepo(db, dbTimeout)
	wallets := postgres.NewWalletsRepo(db, dbTimeout)

	var store *redisstore.Store
	if cfg.Redis.Addr != "" {
		store, err = redisstore.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, 24*time.Hour)
		if err != nil {
			log.Warn().Err(err).Msg("Snapshot store unavailable, continuing without persistence")
			store = nil
		}
	}

	hub := ws.NewHub(auth.JWT{Secret: []byte(cfg.Auth.Secret)})

	var snapStore app.SnapshotStore
	var broadcaster app.Broadcaster
	if store != nil {
		snapStore = store
	}
	broadcaster = hub

	service := app.NewService(detector, users, leaderboard.Config{}, cacheSvc, snapStore, broadcaster, prom, app.Config{
		WalletTTL:   cfg.WalletTTL(),
		SnapshotTTL: cfg.SnapshotTTL(),
	})

	d := &deps{
		cfg:      cfg,
		service:  service,
		cacheSvc: cacheSvc,
		users:    users,
		wallets:  wallets,
		prom:     prom,
		hub:      hub,
		store:    store,
	}
	d.closeFns = append(d.closeFns, cacheSvc.Stop, priceSource.Stop, func() { db.Close() })
	if store != nil {
		d.closeFns = append(d.closeFns, func() { store.Close() })
	}
	return d, nil
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.close()

	handlers := httpapi.NewHandlers(deps.service, deps.users, deps.wallets)
	jwt := auth.JWT{
		Secret:   []byte(deps.cfg.Auth.Secret),
		TokenTTL: time.Duration(deps.cfg.Auth.TokenTTLMins) * time.Minute,
	}

	serverCfg := httpapi.DefaultServerConfig()
	serverCfg.Host = deps.cfg.Server.Host
	serverCfg.Port = deps.cfg.Server.Port
	serverCfg.RequestTimeout = time.Duration(deps.cfg.Server.RequestTimeout) * time.Second

	server, err := httpapi.NewServer(serverCfg, handlers, jwt, deps.prom, deps.hub)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	log.Info().Str("version", version).Str("addr", server.GetAddress()).Msg("jeetboard started")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
