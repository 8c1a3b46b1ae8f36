package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"crawlpool/internal/app"
	"crawlpool/internal/crawl"
	"crawlpool/internal/shared/config"
	"crawlpool/internal/shared/logger"

	"github.com/joho/godotenv"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	refresh := flag.Bool("refresh", false, "Ignore the proxy cache and revalidate")
	clearCache := flag.Bool("clear-cache", false, "Delete the proxy cache before running")
	seed := flag.String("seed", "", "Override the seed URL")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "crawler.ini")

	// 1. .env 中的变量作为环境变量覆盖 ini（文件不存在时忽略）
	_ = godotenv.Load(filepath.Join(*configDir, ".env"), ".env")

	// 2. 加载 .ini 行为配置
	cfg := config.Default()
	if err := config.LoadIni(cfg, iniPath); err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}
	if *seed != "" {
		cfg.CrawlerConf.SeedURL = *seed
	}

	// 2.1 初始化日志系统
	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// 3. 组装并运行
	a, err := app.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize crawler")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := a.Run(ctx, app.RunOptions{ForceRefresh: *refresh, ClearCache: *clearCache})
	if cerr := a.Close(); cerr != nil {
		logger.Warn().Err(cerr).Msg("Error during shutdown")
	}
	if err != nil {
		logger.Error().Err(err).Msg("Crawl did not start")
		os.Exit(1)
	}

	logger.Info().
		Str("run_id", result.Stats.RunID).
		Str("reason", string(result.Reason)).
		Int("novel", result.Stats.NovelRecords).
		Int("duplicates", result.Stats.DuplicateRecords).
		Int("inserted", result.Stats.IngestInserted).
		Int("proxy_validated", result.Stats.ProxyValidated).
		Int("proxy_failed", result.Stats.ProxyFailed).
		Msg("Final stats")

	if result.Reason == crawl.ReasonFetchFailed {
		os.Exit(1)
	}
}
