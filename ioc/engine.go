package ioc

import (
	"context"
	"log/slog"
	"time"

	"github.com/KNICEX/volume-agent/internal/repo"
	"github.com/KNICEX/volume-agent/internal/service/analytics"
	"github.com/KNICEX/volume-agent/internal/service/chain"
	"github.com/KNICEX/volume-agent/internal/service/chain/paper"
	"github.com/KNICEX/volume-agent/internal/service/circuit"
	"github.com/KNICEX/volume-agent/internal/service/engine"
	"github.com/KNICEX/volume-agent/internal/service/fee"
	"github.com/KNICEX/volume-agent/internal/service/notification"
	"github.com/KNICEX/volume-agent/internal/service/price"
	"github.com/KNICEX/volume-agent/internal/service/strategy"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

// InitTradingConfig 未配置的字段保留默认值
func InitTradingConfig() strategy.Config {
	cfg := strategy.DefaultConfig()
	if err := viper.UnmarshalKey("trading", &cfg); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func InitFeeConfig() fee.Config {
	// 收款钱包一般放在 .env
	if err := viper.BindEnv("fee.collection_wallet", "FEE_COLLECTION_WALLET"); err != nil {
		panic(err)
	}
	cfg := fee.DefaultConfig()
	if err := viper.UnmarshalKey("fee", &cfg); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func InitBreakerConfig() circuit.Config {
	cfg := circuit.DefaultConfig()
	if err := viper.UnmarshalKey("circuit", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

type paperPool struct {
	Token         string  `mapstructure:"token"`
	NativeReserve float64 `mapstructure:"native_reserve"`
	TokenReserve  float64 `mapstructure:"token_reserve"`
}

type paperConfig struct {
	Latency     time.Duration `mapstructure:"latency"`
	FailureRate float64       `mapstructure:"failure_rate"`
	FailureKind string        `mapstructure:"failure_kind"`
	PoolFeeBps  int           `mapstructure:"pool_fee_bps"`
	Seed        int64         `mapstructure:"seed"`
	Pools       []paperPool   `mapstructure:"pools"`
	// 新钱包的初始资金
	FundNative float64 `mapstructure:"fund_native"`
	FundToken  float64 `mapstructure:"fund_token"`
}

func loadPaperConfig() paperConfig {
	viper.SetDefault("paper.pool_fee_bps", 25)
	viper.SetDefault("paper.fund_native", 1)
	viper.SetDefault("paper.failure_kind", string(chain.KindRPC))

	var cfg paperConfig
	if err := viper.UnmarshalKey("paper", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

// InitPaperChain 内存模拟链, 同时提供钱包, 兑换, 余额, 转账和池子查询
func InitPaperChain() *paper.Chain {
	cfg := loadPaperConfig()
	opts := []paper.Option{paper.WithPoolFee(cfg.PoolFeeBps)}
	if cfg.Latency > 0 {
		opts = append(opts, paper.WithLatency(cfg.Latency))
	}
	if cfg.FailureRate > 0 {
		opts = append(opts, paper.WithFailureRate(cfg.FailureRate, chain.ErrorKind(cfg.FailureKind)))
	}
	if cfg.Seed != 0 {
		opts = append(opts, paper.WithSeed(cfg.Seed))
	}

	c := paper.NewChain(opts...)
	for _, p := range cfg.Pools {
		c.AddPool(p.Token, decimal.NewFromFloat(p.NativeReserve), decimal.NewFromFloat(p.TokenReserve))
		slog.Info("paper pool added", "token", p.Token, "native", p.NativeReserve, "tokens", p.TokenReserve)
	}
	return c
}

// PaperFunder 给新生成的钱包注入模拟资金
func PaperFunder(c *paper.Chain) func(ctx context.Context, wallets []chain.Wallet) error {
	cfg := loadPaperConfig()
	native := decimal.NewFromFloat(cfg.FundNative)
	tokens := decimal.NewFromFloat(cfg.FundToken)
	return func(ctx context.Context, wallets []chain.Wallet) error {
		for _, w := range wallets {
			c.Fund(w.Address, native)
			if tokens.IsPositive() && !w.IsAdmin() {
				for _, p := range cfg.Pools {
					c.FundToken(w.Address, p.Token, tokens)
				}
			}
		}
		return nil
	}
}

func InitFeeLedger(transport chain.Transport, db *gorm.DB) *fee.Ledger {
	return fee.NewLedger(InitFeeConfig(), transport, fee.WithRepo(repo.NewFeeRepo(db)))
}

func InitEngine(c *paper.Chain, fees fee.Service, db *gorm.DB, feed price.Feed,
	exporter *analytics.Exporter, notifier notification.Notifier) *engine.VolumeEngine {
	return engine.NewVolumeEngine(engine.Collaborators{
		Wallets:   c,
		Swaps:     c,
		Balances:  c,
		Transport: c,
		Pools:     c,
	}, fees,
		engine.WithDefaultConfig(InitTradingConfig()),
		engine.WithBreakers(circuit.NewSet(InitBreakerConfig())),
		engine.WithSessionRepo(repo.NewSessionRepo(db)),
		engine.WithTradeRepo(repo.NewTradeRepo(db)),
		engine.WithPriceFeed(feed),
		engine.WithExporter(exporter),
		engine.WithNotifier(notifier),
	)
}
