package strategy

import (
	"errors"
	"fmt"
	"time"
)

type Strategy string

const (
	// VolumeOnly 纯刷量, 每个钱包每轮随机买卖
	VolumeOnly Strategy = "VOLUME_ONLY"
	// MakersVolume 根据钱包余额比例决定方向, 保持买卖两侧都有流动性
	MakersVolume Strategy = "MAKERS_VOLUME"
)

var ErrUnknownStrategy = errors.New("unknown strategy")

func Parse(s string) (Strategy, error) {
	switch Strategy(s) {
	case VolumeOnly, MakersVolume:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

func (s Strategy) ToString() string {
	return string(s)
}

// Schedule 单个策略的调度参数
type Schedule struct {
	Duration        time.Duration `mapstructure:"duration" json:"duration"`
	LoopInterval    time.Duration `mapstructure:"loop_interval" json:"loop_interval"`
	WalletsPerCycle int           `mapstructure:"wallets_per_cycle" json:"wallets_per_cycle"`
}

// MaxCycles 会话最多运行的轮数, 至少 1 轮
func (s Schedule) MaxCycles() int {
	if s.LoopInterval <= 0 {
		return 1
	}
	return max(1, int(s.Duration/s.LoopInterval))
}

type Strategies struct {
	VolumeOnly   Schedule `mapstructure:"volume_only" json:"volume_only"`
	MakersVolume Schedule `mapstructure:"makers_volume" json:"makers_volume"`
}

type RiskConfig struct {
	// 百分比
	MaxSlippage float64 `mapstructure:"max_slippage" json:"max_slippage"`
	MinSlippage float64 `mapstructure:"min_slippage" json:"min_slippage"`
	// 开启后从 MinSlippage 起步, 每次滑点超限放宽 SlippageStep, 直到 MaxSlippage
	DynamicSlippage bool    `mapstructure:"dynamic_slippage" json:"dynamic_slippage"`
	SlippageStep    float64 `mapstructure:"slippage_step" json:"slippage_step"`
}

type WalletConfig struct {
	MaxWallets int `mapstructure:"max_wallets" json:"max_wallets"`
	// 买入时保留的最少原生币
	MinNativeReserve float64 `mapstructure:"min_native_reserve" json:"min_native_reserve"`
}

type Range struct {
	Min float64 `mapstructure:"min" json:"min"`
	Max float64 `mapstructure:"max" json:"max"`
}

type RandomizationConfig struct {
	// 百分比
	BuyAmount  Range `mapstructure:"buy_amount" json:"buy_amount"`
	SellAmount Range `mapstructure:"sell_amount" json:"sell_amount"`
	// 低于该数量的交易直接跳过
	MinTradeNative float64 `mapstructure:"min_trade_native" json:"min_trade_native"`
	MinTradeToken  float64 `mapstructure:"min_trade_token" json:"min_trade_token"`
}

type MakersConfig struct {
	// 代币折算原生币的粗略比例
	TokenValueRatio float64 `mapstructure:"token_value_ratio" json:"token_value_ratio"`
	// 原生币占比超过该值时买入
	NativeDominance float64 `mapstructure:"native_dominance" json:"native_dominance"`
}

// Config 会话交易配置, 创建会话时显式传入
type Config struct {
	Strategies    Strategies          `mapstructure:"strategies" json:"strategies"`
	Risk          RiskConfig          `mapstructure:"risk" json:"risk"`
	Wallets       WalletConfig        `mapstructure:"wallets" json:"wallets"`
	Randomization RandomizationConfig `mapstructure:"randomization" json:"randomization"`
	Makers        MakersConfig        `mapstructure:"makers" json:"makers"`
}

func DefaultConfig() Config {
	return Config{
		Strategies: Strategies{
			VolumeOnly: Schedule{
				Duration:        20 * time.Minute,
				LoopInterval:    8 * time.Second,
				WalletsPerCycle: 5,
			},
			MakersVolume: Schedule{
				Duration:        181 * time.Second,
				LoopInterval:    6 * time.Second,
				WalletsPerCycle: 5,
			},
		},
		Risk: RiskConfig{
			MaxSlippage:     10,
			MinSlippage:     1,
			DynamicSlippage: false,
			SlippageStep:    1,
		},
		Wallets: WalletConfig{
			MaxWallets:       50,
			MinNativeReserve: 0.001,
		},
		Randomization: RandomizationConfig{
			BuyAmount:      Range{Min: 5, Max: 15},
			SellAmount:     Range{Min: 50, Max: 100},
			MinTradeNative: 0.001,
			MinTradeToken:  0,
		},
		Makers: MakersConfig{
			TokenValueRatio: 0.1,
			NativeDominance: 0.6,
		},
	}
}

// Schedule 返回策略对应的调度参数
func (c Config) Schedule(s Strategy) Schedule {
	if s == MakersVolume {
		return c.Strategies.MakersVolume
	}
	return c.Strategies.VolumeOnly
}

func (c Config) Validate() error {
	for name, sc := range map[string]Schedule{
		"volume_only":   c.Strategies.VolumeOnly,
		"makers_volume": c.Strategies.MakersVolume,
	} {
		if sc.LoopInterval <= 0 {
			return fmt.Errorf("%s: loop_interval 必须大于 0", name)
		}
		if sc.Duration <= 0 {
			return fmt.Errorf("%s: duration 必须大于 0", name)
		}
		if sc.WalletsPerCycle <= 0 {
			return fmt.Errorf("%s: wallets_per_cycle 必须大于 0", name)
		}
	}

	if c.Risk.MinSlippage <= 0 || c.Risk.MaxSlippage < c.Risk.MinSlippage || c.Risk.MaxSlippage > 100 {
		return fmt.Errorf("slippage 范围无效: [%f, %f]", c.Risk.MinSlippage, c.Risk.MaxSlippage)
	}
	if c.Risk.SlippageStep < 0 {
		return fmt.Errorf("slippage_step 不能为负数: %f", c.Risk.SlippageStep)
	}

	if c.Wallets.MaxWallets <= 0 {
		return fmt.Errorf("max_wallets 必须大于 0, 当前值: %d", c.Wallets.MaxWallets)
	}
	if c.Wallets.MinNativeReserve < 0 {
		return fmt.Errorf("min_native_reserve 不能为负数: %f", c.Wallets.MinNativeReserve)
	}

	for name, r := range map[string]Range{
		"buy_amount":  c.Randomization.BuyAmount,
		"sell_amount": c.Randomization.SellAmount,
	} {
		if r.Min < 0 || r.Max > 100 || r.Min > r.Max {
			return fmt.Errorf("%s 范围无效: [%f, %f]", name, r.Min, r.Max)
		}
	}
	if c.Randomization.MinTradeNative < 0 || c.Randomization.MinTradeToken < 0 {
		return fmt.Errorf("最小交易数量不能为负数")
	}

	if c.Makers.TokenValueRatio <= 0 {
		return fmt.Errorf("token_value_ratio 必须大于 0")
	}
	if c.Makers.NativeDominance <= 0 || c.Makers.NativeDominance >= 1 {
		return fmt.Errorf("native_dominance 必须在 (0, 1) 之间, 当前值: %f", c.Makers.NativeDominance)
	}
	return nil
}
