package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/tradegate/pkg/alerting"
	"github.com/Mindburn-Labs/tradegate/pkg/api"
	"github.com/Mindburn-Labs/tradegate/pkg/approval"
	"github.com/Mindburn-Labs/tradegate/pkg/audit"
	"github.com/Mindburn-Labs/tradegate/pkg/broker"
	"github.com/Mindburn-Labs/tradegate/pkg/broker/alpaca"
	"github.com/Mindburn-Labs/tradegate/pkg/broker/sim"
	"github.com/Mindburn-Labs/tradegate/pkg/config"
	"github.com/Mindburn-Labs/tradegate/pkg/connection"
	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
	"github.com/Mindburn-Labs/tradegate/pkg/flags"
	"github.com/Mindburn-Labs/tradegate/pkg/killswitch"
	"github.com/Mindburn-Labs/tradegate/pkg/marketdata"
	"github.com/Mindburn-Labs/tradegate/pkg/observability"
	"github.com/Mindburn-Labs/tradegate/pkg/reconcile"
	"github.com/Mindburn-Labs/tradegate/pkg/safety"
	"github.com/Mindburn-Labs/tradegate/pkg/stats"
	"github.com/Mindburn-Labs/tradegate/pkg/submission"
	"github.com/Mindburn-Labs/tradegate/pkg/volatility"
)

//nolint:gocognit,gocyclo
func runServer() {
	fmt.Fprintf(os.Stdout, "%stradegate starting...%s\n", ColorBold+ColorBlue, ColorReset)
	_ = godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(os.Getenv("TRADEGATE_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	setupLogging(cfg.Server.LogLevel)
	log.Printf("[tradegate] broker target: %s", cfg.Connection.ConnectionString())

	fl := flags.Load(os.Getenv("TRADEGATE_FLAGS_FILE"))
	ks := killswitch.New(os.Getenv("KILL_SWITCH_STATE_FILE"))
	if ks.IsEnabled() {
		fmt.Fprintf(os.Stdout, "%sKILL SWITCH ACTIVE%s - trading is halted: %s\n",
			ColorBold+ColorRed, ColorReset, ks.GetState().Reason)
	}

	// Audit trail: Postgres when DATABASE_URL is set, otherwise Lite Mode
	// with scheduled local backups.
	store, db, lite, err := openAuditStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open audit store: %v", err)
	}
	log.Println("[tradegate] audit store: ready")

	if lite {
		bm, err := audit.NewBackupManager(db, audit.BackupConfig{
			BackupDir:     cfg.Audit.BackupDir,
			RetentionDays: cfg.Audit.RetentionDays,
		})
		if err != nil {
			log.Fatalf("Failed to init audit backups: %v", err)
		}
		remote, err := audit.NewRemoteFromEnv(ctx)
		if err != nil {
			log.Fatalf("Failed to configure remote backups: %v", err)
		}
		if remote != nil {
			bm = bm.WithRemote(remote)
			log.Println("[tradegate] audit backups: off-host upload enabled")
		}
		go bm.Run(ctx, 24*time.Hour)
		log.Println("[tradegate] audit backups: scheduled")
	}

	venue, err := buildVenue(cfg, fl, ks, store)
	if err != nil {
		log.Fatalf("Broker selection failed: %v", err)
	}

	conn := connection.NewManager(venue, cfg.Connection.ManagerConfig()).WithRecorder(store)
	if err := conn.Connect(ctx); err != nil {
		// The manager keeps the circuit breaker state; the API reports
		// degraded health until an operator forces a reconnect.
		log.Printf("[tradegate] broker connect failed, continuing degraded: %v", err)
	}

	approvals := approval.NewService(approval.NewStore(), store).
		WithManualOnly(cfg.Connection.IsLive() && cfg.Live.RequireManualApproval)
	policyChecker, err := loadPolicyChecker(os.Getenv("TRADEGATE_POLICY_FILE"))
	if err != nil {
		log.Fatalf("Invalid auto-approval policy: %v", err)
	}
	log.Println("[tradegate] approval service: ready")

	collector := stats.NewCollector().WithStorage(statsPath())

	obs, err := observability.New(metricsConfig())
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}

	alerter := buildAlerter(cfg, obs)

	cache := marketdata.NewCache()
	md := marketdata.NewService(venue).WithCache(cache)
	if err := obs.ObserveCache("marketdata", func() (int64, int64) {
		s := cache.Stats()
		return s.Hits, s.Misses
	}); err != nil {
		log.Printf("[tradegate] cache metrics registration failed: %v", err)
	}
	vol := volatility.NewService(volatility.NewHistorical(md)).
		WithFallback(volatility.NewStatic())

	account := accountID()
	ledger := newGatewayLedger(approvals.Store(), venue, account)
	if conn.IsConnected() {
		if err := ledger.Prime(ctx); err != nil {
			log.Printf("[tradegate] ledger prime failed: %v", err)
		}
	}
	approvals.WithNAVSource(ledger.NAV)
	loop := reconcile.NewLoop(reconcile.NewReconciler(venue), ledger.Snapshot, account, reconcileInterval()).
		WithRecorder(store).
		WithAlerter(alerter).
		WithStats(collector).
		WithOnReport(func(r *reconcile.Report) {
			obs.RecordDiscrepancies(context.Background(), account, r.Count())
		})
	go func() { _ = loop.Run(ctx) }()
	log.Println("[tradegate] reconciliation loop: running")

	checker := safety.NewChecker().
		WithBackupDir(cfg.Audit.BackupDir).
		WithAlerting(cfg.Alerting.AlerterConfig()).
		WithReconciler(loop).
		WithKillSwitch(ks).
		WithFlags(fl).
		WithStats(collector)

	sub := submission.NewSubmitter(approvals, venue, store, collector).
		WithGuards(
			func() error { return ks.Check("order submission") },
			func() error {
				if !conn.IsConnected() {
					return broker.ErrNotConnected
				}
				return nil
			},
		).
		WithOnOutcome(func(symbol, result string, latency time.Duration) {
			obs.RecordSubmission(context.Background(), symbol, result)
			if latency > 0 {
				obs.RecordSubmissionLatency(context.Background(), latency)
			}
		}).
		WithOnFill(func(symbol string) {
			obs.RecordFill(context.Background(), symbol)
		})
	if cfg.Connection.IsLive() {
		sub = sub.WithOrderGuards(liveOrderGuard(cfg.Live, fl))
	}

	server := api.NewServer(approvals, ks).
		WithFlags(fl).
		WithPolicy(policyChecker).
		WithMarketData(md).
		WithVolatility(vol).
		WithSubmitter(sub).
		WithReconcile(loop).
		WithSafety(checker).
		WithRecorder(store).
		WithAlerter(alerter).
		WithConnection(conn)
	if secret := os.Getenv("TRADEGATE_API_SECRET"); secret != "" {
		server.WithAuthSecret([]byte(secret))
		log.Println("[tradegate] api auth: bearer tokens required")
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[tradegate] api: %s", cfg.Server.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	log.Println("[tradegate] ready")
	log.Println("[tradegate] press ctrl+c to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[tradegate] shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	cancel()
	_ = conn.Disconnect(shutdownCtx)
	_ = obs.Shutdown(shutdownCtx)
	_ = store.Close()
}

// setupLogging installs the process-wide slog handler at the configured
// level.
func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

// openAuditStore connects the audit trail. DATABASE_URL selects Postgres;
// without it the store runs in Lite Mode on a local SQLite file. The third
// return reports Lite Mode, which is what enables local backups.
func openAuditStore(ctx context.Context, cfg *config.Config) (audit.Store, *sql.DB, bool, error) {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			return nil, nil, false, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, false, fmt.Errorf("postgres ping: %w", err)
		}
		store := audit.NewPostgresStore(db)
		if err := store.Init(ctx); err != nil {
			_ = db.Close()
			return nil, nil, false, fmt.Errorf("init audit schema: %w", err)
		}
		log.Println("[tradegate] postgres: connected")
		return store, db, false, nil
	}

	fmt.Fprintf(os.Stdout, "DATABASE_URL not set. Falling back to %sLite Mode%s (SQLite).\n",
		ColorBold+ColorCyan, ColorReset)
	if dir := filepath.Dir(cfg.Audit.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, false, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.Audit.DBPath)
	if err != nil {
		return nil, nil, false, fmt.Errorf("open sqlite: %w", err)
	}
	store, err := audit.NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, false, fmt.Errorf("init audit schema: %w", err)
	}
	return store, db, true, nil
}

// buildVenue selects the broker venue for the configured mode. Live mode
// requires Alpaca credentials and passes the kill switch and the
// live_trading_mode flag before a live venue is ever handed out.
func buildVenue(cfg *config.Config, fl flags.Flags, ks *killswitch.Switch, recorder audit.Recorder) (broker.Broker, error) {
	opts := broker.Options{
		Mode:      broker.Mode(cfg.Connection.Mode),
		AccountID: accountID(),
		ReadOnly:  cfg.Connection.ReadonlyMode,
		Recorder:  recorder,
	}
	if cfg.Connection.IsLive() {
		opts.Alpaca = &alpaca.Config{
			APIKey:    os.Getenv("APCA_API_KEY_ID"),
			APISecret: os.Getenv("APCA_API_SECRET_KEY"),
			BaseURL:   os.Getenv("APCA_API_BASE_URL"),
		}
		opts.LiveCheck = func() error {
			if err := ks.Check("live venue selection"); err != nil {
				return err
			}
			if !fl.LiveTradingMode {
				return fmt.Errorf("live_trading_mode flag is off")
			}
			if cfg.Live.RequireSafetyChecks {
				report := safety.NewChecker().
					WithBackupDir(cfg.Audit.BackupDir).
					WithAlerting(cfg.Alerting.AlerterConfig()).
					WithKillSwitch(ks).
					WithFlags(fl).
					WithStats(stats.NewCollector().WithStorage(statsPath())).
					RunAllChecks()
				if !report.ReadyForLive {
					return fmt.Errorf("safety checks failed: %s", strings.Join(report.BlockingIssues, "; "))
				}
			}
			return nil
		}
	}
	return broker.New(opts)
}

// liveOrderGuard applies the per-order live guardrails (symbol whitelist,
// size and notional caps) before the token is consumed. Notional comes
// from the simulation oracle, falling back to quantity times limit price;
// a live order whose notional cannot be established is refused.
func liveOrderGuard(live config.LiveConfig, fl flags.Flags) submission.OrderGuard {
	return func(p contracts.OrderProposal, intent contracts.OrderIntent) error {
		notional, err := approval.GrossNotional(p.SimulationJSON)
		if err != nil || notional <= 0 {
			notional = 0
			if intent.LimitPrice != nil {
				notional = intent.Quantity * *intent.LimitPrice
			}
		}
		if notional <= 0 {
			return errors.New("Order notional unavailable for live validation")
		}
		ok, reason := live.CanSubmitLiveOrder(fl.LiveTradingMode,
			intent.Instrument.Symbol,
			int(math.Ceil(intent.Quantity)),
			decimal.NewFromFloat(notional))
		if !ok {
			return errors.New(reason)
		}
		return nil
	}
}

// loadPolicyChecker reads the auto-approval policy YAML, or uses the stock
// policy when no file is configured.
func loadPolicyChecker(path string) (*approval.PolicyChecker, error) {
	policy := approval.DefaultPolicy()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read policy: %w", err)
		}
		if err := yaml.Unmarshal(data, &policy); err != nil {
			return nil, fmt.Errorf("parse policy: %w", err)
		}
	}
	return approval.NewPolicyChecker(policy)
}

// buildAlerter assembles alerting from the config, swapping in the Redis
// rate gate when REDIS_ADDR is set so the limit holds across instances.
func buildAlerter(cfg *config.Config, obs *observability.Provider) *alerting.Alerter {
	a := alerting.NewAlerter(cfg.Alerting.AlerterConfig())
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		window := time.Duration(cfg.Alerting.RateLimitSeconds) * time.Second
		a = a.WithGate(alerting.NewRedisGate(addr, os.Getenv("REDIS_PASSWORD"), 0, window))
		log.Println("[tradegate] alert rate gate: redis")
	}
	return a.WithOnSend(func(alert alerting.Alert, delivered bool) {
		obs.RecordAlert(context.Background(), alert.Type, string(alert.Severity), delivered)
	})
}

func metricsConfig() *observability.Config {
	cfg := observability.DefaultConfig()
	switch strings.ToLower(os.Getenv("METRICS_ENABLED")) {
	case "true", "1", "yes", "on":
		cfg.Enabled = true
	}
	if env := os.Getenv("TRADEGATE_ENV"); env != "" {
		cfg.Environment = env
	}
	return cfg
}

func accountID() string {
	if v := os.Getenv("TRADEGATE_ACCOUNT_ID"); v != "" {
		return v
	}
	return sim.DefaultAccountID
}

func reconcileInterval() time.Duration {
	if v := os.Getenv("RECONCILE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		log.Printf("[tradegate] invalid RECONCILE_INTERVAL %q, using default", v)
	}
	return 24 * time.Hour
}

func statsPath() string {
	if v := os.Getenv("STATS_FILE"); v != "" {
		return v
	}
	return "data/go_live_stats.json"
}
