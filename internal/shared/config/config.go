package config

import (
	"os"
	"strconv"

	"crawlpool/internal/shared/types"

	"gopkg.in/ini.v1"
)

// Default 返回一份带有全部默认值的配置。
// LoadIni 会在这份默认值之上覆盖 ini 文件中出现的键。
func Default() *types.Config {
	return &types.Config{
		LogConf: types.LogConf{Level: "info"},
		ProxyPoolConf: types.ProxyPoolConf{
			Enabled:                true,
			FeedTimeoutSeconds:     20,
			CacheFile:              "working_proxies.json",
			CacheTTLSeconds:        3600,
			ValidateConcurrency:    20,
			ValidateSample:         100,
			ProbeTimeoutSeconds:    8,
			ProbeURL:               "http://httpbin.org/ip",
			RefreshIntervalMinutes: 60,
		},
		CrawlerConf: types.CrawlerConf{
			MaxRetries:             10,
			RetryBackoffMs:         2000,
			RetryHTTPCodes:         []int{500, 502, 503, 504, 522, 524, 408, 429},
			FetchTimeoutSeconds:    60,
			LoadMoreTimeoutSeconds: 15,
			SettleMs:               2000,
			NoProgressLimit:        3,
			RequestDelayMs:         2000,
			RespectRobots:          true,
		},
		BrowserConf: types.BrowserConf{
			Engine:   "rod",
			Headless: true,
		},
		SinkConf: types.SinkConf{
			Driver: "sqlite",
			DSN:    "crawl.db",
			Table:  "cards",
		},
	}
}

// LoadIni 加载 crawler.ini 行为配置文件，并应用环境变量覆盖。
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}
	ApplyEnv(cfg)
	return nil
}

// ApplyEnv 用环境变量覆盖配置中的敏感或常变项。
func ApplyEnv(cfg *types.Config) {
	overrideFromEnvString(&cfg.SinkConf.DSN, "SINK_DSN")
	overrideFromEnvString(&cfg.SinkConf.Driver, "SINK_DRIVER")
	overrideFromEnvString(&cfg.CrawlerConf.SeedURL, "CRAWL_SEED_URL")
	overrideFromEnvString(&cfg.LogConf.Level, "LOG_LEVEL")
	overrideFromEnvBool(&cfg.ProxyPoolConf.Enabled, "PROXY_ROTATION_ENABLED")
	overrideFromEnvInt(&cfg.WebConf.Port, "WEB_PORT")
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}

func overrideFromEnvBool(target *bool, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if boolValue, err := strconv.ParseBool(envValue); err == nil {
			*target = boolValue
		}
	}
}
