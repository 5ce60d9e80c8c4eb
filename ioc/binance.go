package ioc

import (
	"time"

	"github.com/KNICEX/volume-agent/internal/service/price"
	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

func InitBinanceCli() *binance.Client {
	type Config struct {
		ApiKey    string `mapstructure:"api_key"`
		ApiSecret string `mapstructure:"api_secret"`
	}

	var cfg Config
	if err := viper.UnmarshalKey("cex.binance", &cfg); err != nil {
		panic(err)
	}

	return binance.NewClient(cfg.ApiKey, cfg.ApiSecret)
}

// InitPriceFeed 原生币美元价格, source 为 static 时不访问交易所
func InitPriceFeed() price.Feed {
	type Config struct {
		Source string        `mapstructure:"source"`
		Symbol string        `mapstructure:"symbol"`
		TTL    time.Duration `mapstructure:"ttl"`
		Static float64       `mapstructure:"static"`
	}

	viper.SetDefault("price.source", "binance")
	viper.SetDefault("price.symbol", "SOLUSDT")
	viper.SetDefault("price.ttl", time.Minute)

	var cfg Config
	if err := viper.UnmarshalKey("price", &cfg); err != nil {
		panic(err)
	}

	if cfg.Source == "static" {
		return price.Static{Price: decimal.NewFromFloat(cfg.Static)}
	}
	return price.NewCached(price.NewBinanceFeed(InitBinanceCli(), cfg.Symbol), cfg.TTL)
}
