package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/rostersync/internal/config"
	"github.com/hitoshi/rostersync/internal/database"
	"github.com/hitoshi/rostersync/internal/directory"
	"github.com/hitoshi/rostersync/internal/downstream"
	"github.com/hitoshi/rostersync/internal/logger"
	"github.com/hitoshi/rostersync/internal/metrics"
	"github.com/hitoshi/rostersync/internal/report"
	"github.com/hitoshi/rostersync/internal/security"
	"github.com/hitoshi/rostersync/internal/tracker"
	"github.com/hitoshi/rostersync/internal/worker/reconcile"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// LOG_PATHが指定された場合はファイルに、それ以外はlogOutに出力する。
// 返り値のcloseはログファイルを閉じるために呼び出す。
func Init(logOut io.Writer, cmd Command) (*config.Config, func() error, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(logOut, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	var (
		cfg *config.Config
		err error
	)
	switch cmd {
	case CommandReport, CommandMigrate:
		cfg, err = config.LoadForReport()
	default:
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に従ってログ出力先とレベルを切り替える
	out, closeLog, err := logger.OpenOutput(cfg.LogPath, logOut)
	if err != nil {
		return nil, nil, err
	}
	logger.SetupDefault(out, logger.ParseLevel(cfg.LogLevel))

	return cfg, closeLog, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。reportの出力はstdoutに、ログはLOG_PATH未指定時にstderrに書き込む。
func Run(stdout, stderr io.Writer, args []string) error {
	cmd := ParseCommand(args)

	cfg, closeLog, err := Init(stderr, cmd)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer closeLog()

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("tracker_backend", string(cfg.TrackerBackend)),
	)

	switch cmd {
	case CommandReport:
		return runReport(cfg, stdout)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runSync(cfg)
	}
}

// runSync は同期バッチを実行する。
// 全依存関係をワイヤリングし、SIGINTまたはSIGTERMを受信すると
// 処理中のレコードを完了させてから終了する。
func runSync(cfg *config.Config) error {
	log := slog.Default()

	// 1. トラッカーの初期化
	persister, closePersister, err := openPersister(cfg)
	if err != nil {
		return err
	}
	defer closePersister()
	store := tracker.NewStore(persister, log)

	// 2. ディレクトリ解決の初期化
	client, err := newDirectoryClient(cfg, log)
	if err != nil {
		return err
	}
	resolver := directory.NewResolver(client, directory.NewClassifier(log), log)

	// 3. ダウンストリーム反映の初期化
	updater := downstream.NewClient(
		&http.Client{Timeout: cfg.DownstreamTimeout},
		cfg.DownstreamURL,
		cfg.DownstreamAPIKey,
		cfg.DownstreamRateLimit,
		log,
	)
	applier := downstream.NewApplier(updater, security.NewMessageSanitizer(), log)

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	if cfg.MetricsAddr != "" {
		shutdown := startMetricsServer(cfg.MetricsAddr, registry, log)
		defer shutdown()
	}

	// 5. シグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	go func() {
		select {
		case sig := <-stop:
			slog.Info("signal received, finishing current record...",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
		}
	}()

	// 6. バッチの実行
	driver := reconcile.NewDriver(store, resolver, applier, collector, log, reconcile.Config{
		BuildTracker:      cfg.BuildTracker,
		RosterPath:        cfg.RosterPath,
		MaxRecords:        cfg.MaxRecords,
		RecordInterval:    cfg.RecordInterval,
		ResolveRetryDelay: cfg.ResolveRetryDelay,
	})

	summary, err := driver.Run(ctx)
	if err != nil {
		var fatal *reconcile.FatalError
		if errors.As(err, &fatal) {
			slog.Error("sync aborted",
				slog.String("run_id", summary.RunID),
				slog.String("identity", fatal.Identity),
				slog.Int("processed", summary.Processed),
			)
		}
		return fmt.Errorf("sync failed: %w", err)
	}

	slog.Info("sync finished",
		slog.String("run_id", summary.RunID),
		slog.String("reason", string(summary.Reason)),
		slog.Int("processed", summary.Processed),
		slog.Int("pending", summary.Pending),
	)
	return nil
}

// runReport はトラッカーを読み込み、更新結果の集計を出力する。
func runReport(cfg *config.Config, w io.Writer) error {
	persister, closePersister, err := openPersister(cfg)
	if err != nil {
		return err
	}
	defer closePersister()

	store := tracker.NewStore(persister, slog.Default())
	if err := store.Load(context.Background()); err != nil {
		return fmt.Errorf("report failed: %w", err)
	}
	snapshot, err := store.Snapshot()
	if err != nil {
		return fmt.Errorf("report failed: %w", err)
	}

	return report.Write(w, report.Build(snapshot))
}

// runMigrate はトラッカー用データベースのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.TrackerBackend != config.TrackerBackendPostgres {
		return fmt.Errorf("migrate requires TRACKER_BACKEND=%s", config.TrackerBackendPostgres)
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
	return nil
}

// openPersister は設定されたバックエンドのPersisterを開く。
func openPersister(cfg *config.Config) (tracker.Persister, func() error, error) {
	switch cfg.TrackerBackend {
	case config.TrackerBackendPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := pingDB(db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")
		return tracker.NewPostgresPersister(db, cfg.TrackerName), db.Close, nil
	default:
		return tracker.NewFilePersister(cfg.TrackerPath), func() error { return nil }, nil
	}
}

func pingDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// newDirectoryClient はDIRECTORY_COMMANDが指定されていればコマンド実行、
// それ以外はHTTPのディレクトリクライアントを生成する。
func newDirectoryClient(cfg *config.Config, log *slog.Logger) (directory.Client, error) {
	if cfg.DirectoryCommand != "" {
		client, err := directory.NewCommandClient(cfg.DirectoryCommand, cfg.DirectoryTimeout, log)
		if err != nil {
			return nil, fmt.Errorf("invalid DIRECTORY_COMMAND: %w", err)
		}
		return client, nil
	}
	return directory.NewHTTPClient(&http.Client{Timeout: cfg.DirectoryTimeout}, cfg.DirectoryURL, log), nil
}

// startMetricsServer はメトリクス用HTTPサーバーをバックグラウンドで起動し、
// 停止用の関数を返す。
func startMetricsServer(addr string, registry *prometheus.Registry, log *slog.Logger) func() {
	server := &http.Server{
		Addr:              addr,
		Handler:           metrics.NewRouter(registry, log),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("metrics server starting", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error("metrics server shutdown failed", slog.String("error", err.Error()))
		}
	}
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
