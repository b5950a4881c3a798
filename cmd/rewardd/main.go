package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/l1jgo/rewards/internal/config"
	"github.com/l1jgo/rewards/internal/data"
	"github.com/l1jgo/rewards/internal/metrics"
	"github.com/l1jgo/rewards/internal/persist"
	"github.com/l1jgo/rewards/internal/redisvar"
	"github.com/l1jgo/rewards/internal/reward"
	"github.com/l1jgo/rewards/internal/scripting"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, serverID int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m           rewardd  v0.1.0                 \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m      天堂 線上獎勵 · Go 排程引擎          \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1m伺服器:\033[0m %s \033[90m(編號: %d)\033[0m\n\n", serverName, serverID)
}

func printSection(title string) {
	// Use rune count for CJK width calculation (each CJK char = 2 columns)
	displayWidth := 0
	for _, r := range title {
		if r > 0x7F {
			displayWidth += 2
		} else {
			displayWidth++
		}
	}
	lineLen := 46 - displayWidth - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	displayWidth := 0
	for _, r := range label {
		if r > 0x7F {
			displayWidth += 2
		} else {
			displayWidth++
		}
	}
	dotsLen := 42 - displayWidth - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main daemon logic ──────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/rewardd.toml"
	if p := os.Getenv("REWARDD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.ID)

	// 3. Connect to PostgreSQL and run migrations
	printSection("資料庫")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := persist.NewDB(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	printOK("PostgreSQL 連線成功")

	if err := persist.RunMigrations(ctx, db.Pool); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	printOK("資料庫遷移完成")
	fmt.Println()

	// 4. Load item catalog
	printSection("資料載入")

	itemTable, err := data.LoadItemTable("data/yaml/reward_item_list.yaml")
	if err != nil {
		return fmt.Errorf("load item table: %w", err)
	}
	printStat("道具模板", itemTable.Count())

	// 5. Lua payout hooks (optional)
	var hook reward.PayoutHook
	if cfg.Reward.ScriptsDir != "" {
		luaEngine, err := scripting.NewEngine(cfg.Reward.ScriptsDir, log)
		if err != nil {
			return fmt.Errorf("lua engine: %w", err)
		}
		defer luaEngine.Close()
		hook = luaEngine
		printOK("Lua 腳本載入完成")
	}

	// 6. Variable store backend
	rewardRepo := persist.NewRewardRepo(db)
	playerRepo := persist.NewPlayerRepo(db, log)

	var vars reward.VariableStore
	switch cfg.Variables.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		defer rdb.Close()
		vars = redisvar.NewStore(rdb)
		printOK("Redis 變數存儲就緒")
	case "postgres", "":
		vars = persist.NewVariableRepo(db)
		printOK("PostgreSQL 變數存儲就緒")
	default:
		return fmt.Errorf("unknown variables backend %q", cfg.Variables.Backend)
	}

	// 7. Reward group source
	var store reward.ConfigStore
	switch cfg.Groups.Source {
	case "yaml":
		store = data.NewFileStore(cfg.Groups.GroupsFile, cfg.Groups.EventsFile)
		printOK("獎勵設定來源: YAML")
	case "postgres", "":
		store = rewardRepo
		printOK("獎勵設定來源: PostgreSQL")
	default:
		return fmt.Errorf("unknown groups source %q", cfg.Groups.Source)
	}
	fmt.Println()

	// 8. Metrics (optional)
	var counters reward.Counters
	var metricsSrv *metrics.Metrics
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.New(cfg.Metrics.Addr, cfg.Metrics.Endpoint, log)
		metricsSrv.Start()
		counters = metricsSrv
	}

	// 9. Build and start the scheduler
	sched := reward.NewScheduler(reward.Deps{
		Log:       log,
		Players:   playerRepo,
		Inventory: playerRepo,
		Notifier:  playerRepo,
		Variables: vars,
		Store:     store,
		Stats:     persist.NewStatsRepo(db),
		Items:     itemTable,
		ProgStore: rewardRepo,
		Hook:      hook,
		Metrics:   counters,
	}, reward.Options{
		SweepInterval:   cfg.Reward.SweepInterval,
		ReloadInterval:  cfg.Reward.ReloadInterval,
		AFKPollInterval: cfg.Reward.AFKPollInterval,
		AFKTimeout:      cfg.Reward.AFKTimeout,
		ProgressiveStep: cfg.Reward.ProgressiveStep,
		ProgressiveMax:  cfg.Reward.ProgressiveMax,
	})
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	printSection("伺服器就緒")
	printReady(fmt.Sprintf("登入輪詢間隔 %s", cfg.Reward.LoginPollInterval))
	if cfg.Metrics.Enabled {
		printReady(fmt.Sprintf("Metrics %s%s", cfg.Metrics.Addr, cfg.Metrics.Endpoint))
	}
	fmt.Println()

	// 10. Login watch loop: diff the online set to drive sessions
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Reward.LoginPollInterval)
	defer ticker.Stop()

	known := make(map[int64]bool)
	for {
		select {
		case <-ticker.C:
			pollOnline(sched, playerRepo, known, log)
		case sig := <-shutdownCh:
			log.Info("收到關閉信號", zap.String("signal", sig.String()))
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
			sched.Shutdown(shutdownCtx)
			if metricsSrv != nil {
				if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
					log.Warn("metrics伺服器關閉失敗", zap.Error(err))
				}
			}
			cancelShutdown()
			log.Info("伺服器已停止")
			return nil
		}
	}
}

// pollOnline syncs the scheduler's sessions with the online flag in the
// shared database. known is the previous snapshot, mutated in place.
func pollOnline(sched *reward.Scheduler, players *persist.PlayerRepo, known map[int64]bool, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ids, err := players.ListOnline(ctx)
	if err != nil {
		log.Warn("查詢在線玩家失敗", zap.Error(err))
		return
	}

	current := make(map[int64]bool, len(ids))
	for _, id := range ids {
		current[id] = true
		if known[id] {
			continue
		}
		if err := sched.OnLogin(ctx, id); err != nil && !errors.Is(err, reward.ErrSessionActive) {
			log.Warn("建立獎勵排程失敗", zap.Int64("player", id), zap.Error(err))
			continue
		}
		known[id] = true
	}
	for id := range known {
		if !current[id] {
			sched.OnLogout(id)
			delete(known, id)
		}
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
