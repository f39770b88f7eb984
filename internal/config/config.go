package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "VAULTSCOPE"

// Common holds the settings shared by every command.
type Common struct {
	RPCURL      string
	Registry    string
	Account     string
	Vaults      []string
	PGDSN       string
	MetricsAddr string
	LogLevel    string
	// MaxGas caps each aggregate eth_call; 0 leaves the node default.
	MaxGas uint64
}

// PortfolioConfig configures the aggregation loop.
type PortfolioConfig struct {
	Common
	Interval         time.Duration
	Once             bool
	Out              string
	MaxCallsPerChunk int
	MaxChunkBytes    int
	Concurrency      int
	RetryBackoff     time.Duration
}

// HistoryConfig configures a transaction history run.
type HistoryConfig struct {
	Common
	ExplorerURL   string
	ExplorerKey   string
	PageSize      int
	StartBlock    uint64
	Out           string
	StateFile     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PriceTTL      time.Duration
}

// LoadPortfolio merges config file, environment variables, and flags into PortfolioConfig.
func LoadPortfolio(cfgFile string, flags *pflag.FlagSet) (PortfolioConfig, error) {
	v, err := load(cfgFile, flags, map[string]any{
		"interval":            30 * time.Second,
		"out":                 "./data/portfolio.jsonl",
		"max-calls-per-chunk": 500,
		"max-chunk-bytes":     128 * 1024,
		"concurrency":         4,
		"retry-backoff":       200 * time.Millisecond,
	})
	if err != nil {
		return PortfolioConfig{}, err
	}

	cfg := PortfolioConfig{
		Common:           commonFrom(v),
		Interval:         v.GetDuration("interval"),
		Once:             v.GetBool("once"),
		Out:              v.GetString("out"),
		MaxCallsPerChunk: v.GetInt("max-calls-per-chunk"),
		MaxChunkBytes:    v.GetInt("max-chunk-bytes"),
		Concurrency:      v.GetInt("concurrency"),
		RetryBackoff:     v.GetDuration("retry-backoff"),
	}
	if err := cfg.Common.validate(); err != nil {
		return PortfolioConfig{}, err
	}
	if !cfg.Once && cfg.Interval <= 0 {
		return PortfolioConfig{}, fmt.Errorf("interval must be positive")
	}
	return cfg, nil
}

// LoadHistory merges config file, environment variables, and flags into HistoryConfig.
func LoadHistory(cfgFile string, flags *pflag.FlagSet) (HistoryConfig, error) {
	v, err := load(cfgFile, flags, map[string]any{
		"explorer-url": "https://api.etherscan.io/v2/api",
		"page-size":    1000,
		"out":          "./data/history.jsonl",
		"price-ttl":    time.Duration(0),
	})
	if err != nil {
		return HistoryConfig{}, err
	}

	cfg := HistoryConfig{
		Common:        commonFrom(v),
		ExplorerURL:   v.GetString("explorer-url"),
		ExplorerKey:   v.GetString("explorer-key"),
		PageSize:      v.GetInt("page-size"),
		StartBlock:    v.GetUint64("start-block"),
		Out:           v.GetString("out"),
		StateFile:     v.GetString("state-file"),
		RedisAddr:     v.GetString("redis-addr"),
		RedisPassword: v.GetString("redis-password"),
		RedisDB:       v.GetInt("redis-db"),
		PriceTTL:      v.GetDuration("price-ttl"),
	}
	if err := cfg.Common.validate(); err != nil {
		return HistoryConfig{}, err
	}
	if cfg.ExplorerURL == "" {
		return HistoryConfig{}, fmt.Errorf("explorer url is required")
	}
	return cfg, nil
}

func load(cfgFile string, flags *pflag.FlagSet, defaults map[string]any) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("max-gas", uint64(0))
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func commonFrom(v *viper.Viper) Common {
	return Common{
		RPCURL:      v.GetString("rpc"),
		Registry:    v.GetString("registry"),
		Account:     v.GetString("account"),
		Vaults:      getStringSlice(v, "vault"),
		PGDSN:       v.GetString("pg-dsn"),
		MetricsAddr: v.GetString("metrics-addr"),
		LogLevel:    v.GetString("log-level"),
		MaxGas:      v.GetUint64("max-gas"),
	}
}

func (c Common) validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.Registry == "" {
		return fmt.Errorf("registry path is required")
	}
	if !common.IsHexAddress(c.Account) {
		return fmt.Errorf("invalid account: %q", c.Account)
	}
	if _, err := ParseAddresses(c.Vaults); err != nil {
		return err
	}
	return nil
}

// ParseAddresses converts string addresses into common.Address.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !common.IsHexAddress(input) {
			return nil, fmt.Errorf("invalid address: %s", input)
		}
		addresses = append(addresses, common.HexToAddress(input))
	}
	return addresses, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
