package strategy

import (
	"testing"
	"time"

	"github.com/KNICEX/volume-agent/internal/service/chain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(v float64) func() float64 {
	return func() float64 { return v }
}

func TestParse(t *testing.T) {
	s, err := Parse("MAKERS_VOLUME")
	require.NoError(t, err)
	assert.Equal(t, MakersVolume, s)

	_, err = Parse("HODL")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestSchedule_MaxCycles(t *testing.T) {
	testCases := []struct {
		name     string
		schedule Schedule
		want     int
	}{
		{name: "volume only default", schedule: DefaultConfig().Strategies.VolumeOnly, want: 150},
		{name: "makers default", schedule: DefaultConfig().Strategies.MakersVolume, want: 30},
		{name: "duration shorter than interval", schedule: Schedule{Duration: time.Second, LoopInterval: time.Minute}, want: 1},
		{name: "exact", schedule: Schedule{Duration: 16 * time.Second, LoopInterval: 8 * time.Second}, want: 2},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.schedule.MaxCycles())
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "default", mutate: func(c *Config) {}},
		{name: "zero interval", mutate: func(c *Config) { c.Strategies.VolumeOnly.LoopInterval = 0 }, wantErr: true},
		{name: "zero wallets per cycle", mutate: func(c *Config) { c.Strategies.MakersVolume.WalletsPerCycle = 0 }, wantErr: true},
		{name: "min above max slippage", mutate: func(c *Config) { c.Risk.MinSlippage = 20 }, wantErr: true},
		{name: "buy range inverted", mutate: func(c *Config) { c.Randomization.BuyAmount = Range{Min: 20, Max: 10} }, wantErr: true},
		{name: "dominance out of range", mutate: func(c *Config) { c.Makers.NativeDominance = 1 }, wantErr: true},
		{name: "no wallets", mutate: func(c *Config) { c.Wallets.MaxWallets = 0 }, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPlanner_Direction(t *testing.T) {
	testCases := []struct {
		name     string
		strategy Strategy
		random   float64
		balances Balances
		want     chain.Direction
	}{
		{
			name:     "volume only coin flip buy",
			strategy: VolumeOnly,
			random:   0.7,
			want:     chain.Buy,
		},
		{
			name:     "volume only coin flip sell",
			strategy: VolumeOnly,
			random:   0.2,
			want:     chain.Sell,
		},
		{
			// 1 / (1 + 1*0.1) = 0.909 > 0.6
			name:     "makers native dominant",
			strategy: MakersVolume,
			balances: Balances{Native: decimal.NewFromInt(1), Token: decimal.NewFromInt(1)},
			want:     chain.Buy,
		},
		{
			// 1 / (1 + 100*0.1) = 0.09
			name:     "makers token heavy",
			strategy: MakersVolume,
			balances: Balances{Native: decimal.NewFromInt(1), Token: decimal.NewFromInt(100)},
			want:     chain.Sell,
		},
		{
			name:     "makers empty wallet",
			strategy: MakersVolume,
			want:     chain.Buy,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPlanner(DefaultConfig(), WithRandom(fixed(tc.random)))
			assert.Equal(t, tc.want, p.Direction(tc.strategy, tc.balances))
		})
	}
}

func TestPlanner_Size(t *testing.T) {
	testCases := []struct {
		name     string
		dir      chain.Direction
		random   float64
		balances Balances
		want     decimal.Decimal
	}{
		{
			// (1.001 - 0.001) * 5%
			name:     "buy lower bound",
			dir:      chain.Buy,
			random:   0,
			balances: Balances{Native: decimal.NewFromFloat(1.001)},
			want:     decimal.NewFromFloat(0.05),
		},
		{
			name:     "buy upper bound",
			dir:      chain.Buy,
			random:   1,
			balances: Balances{Native: decimal.NewFromFloat(1.001)},
			want:     decimal.NewFromFloat(0.15),
		},
		{
			name:     "buy below reserve",
			dir:      chain.Buy,
			balances: Balances{Native: decimal.NewFromFloat(0.0005)},
			want:     decimal.Zero,
		},
		{
			// 0.011 * 5% < 0.001
			name:     "buy below minimum trade",
			dir:      chain.Buy,
			balances: Balances{Native: decimal.NewFromFloat(0.011)},
			want:     decimal.Zero,
		},
		{
			name:     "sell half",
			dir:      chain.Sell,
			random:   0,
			balances: Balances{Token: decimal.NewFromInt(200)},
			want:     decimal.NewFromInt(100),
		},
		{
			name:     "sell without tokens",
			dir:      chain.Sell,
			balances: Balances{Native: decimal.NewFromInt(5)},
			want:     decimal.Zero,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPlanner(DefaultConfig(), WithRandom(fixed(tc.random)))
			got := p.Size(tc.dir, tc.balances)
			assert.True(t, tc.want.Equal(got), "want %s got %s", tc.want, got)
		})
	}
}

func TestPlanner_PlanSkips(t *testing.T) {
	p := NewPlanner(DefaultConfig(), WithRandom(fixed(0.1)))
	_, ok := p.Plan(VolumeOnly, Balances{Native: decimal.NewFromInt(1)})
	assert.False(t, ok)

	plan, ok := p.Plan(MakersVolume, Balances{Native: decimal.NewFromInt(1)})
	require.True(t, ok)
	assert.Equal(t, chain.Buy, plan.Direction)
	assert.True(t, plan.Amount.IsPositive())
}

func TestSelect(t *testing.T) {
	wallets := []int{1, 2, 3, 4, 5, 6, 7, 8}

	got := Select(wallets, 5)
	assert.Len(t, got, 5)
	seen := map[int]bool{}
	for _, w := range got {
		assert.Contains(t, wallets, w)
		assert.False(t, seen[w], "duplicate wallet %d", w)
		seen[w] = true
	}

	assert.Len(t, Select(wallets[:3], 5), 3)
	assert.Empty(t, Select(wallets, 0))
	assert.Empty(t, Select([]int{}, 5))
}

func TestSlippage(t *testing.T) {
	risk := RiskConfig{MaxSlippage: 3, MinSlippage: 1, SlippageStep: 1.5}
	assert.Equal(t, 300, InitialSlippageBps(risk))
	assert.Equal(t, 300, Relax(300, risk))

	risk.DynamicSlippage = true
	bps := InitialSlippageBps(risk)
	assert.Equal(t, 100, bps)
	bps = Relax(bps, risk)
	assert.Equal(t, 250, bps)
	bps = Relax(bps, risk)
	assert.Equal(t, 300, bps)
}
