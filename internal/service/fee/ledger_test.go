package fee

import (
	"context"
	"errors"
	"testing"

	"github.com/KNICEX/volume-agent/internal/entity"
	"github.com/KNICEX/volume-agent/internal/service/chain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Transfer(ctx context.Context, from chain.Wallet, to string, amount decimal.Decimal) (string, error) {
	args := m.Called(ctx, from, to, amount)
	return args.String(0), args.Error(1)
}

type MockFeeRepo struct {
	mock.Mock
}

func (m *MockFeeRepo) Create(ctx context.Context, collection entity.FeeCollection) (int64, error) {
	args := m.Called(ctx, collection)
	return int64(args.Int(0)), args.Error(1)
}

func (m *MockFeeRepo) FindByUser(ctx context.Context, userID string) ([]entity.FeeCollection, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]entity.FeeCollection), args.Error(1)
}

func amountEq(s string) any {
	want := decimal.RequireFromString(s)
	return mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(want)
	})
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CollectionWallet = "collector"
	return cfg
}

var payer = chain.Wallet{Number: 1, Address: "payer"}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "default", mutate: func(c *Config) {}},
		{name: "no collection wallet", mutate: func(c *Config) { c.CollectionWallet = "" }, wantErr: true},
		{name: "negative fee", mutate: func(c *Config) { c.FeePerTransaction = -1 }, wantErr: true},
		{
			name: "discount decreasing",
			mutate: func(c *Config) {
				c.Discounts = []Tier{{Trades: 100, Discount: 20}, {Trades: 500, Discount: 10}}
			},
			wantErr: true,
		},
		{
			name: "thresholds not increasing",
			mutate: func(c *Config) {
				c.Discounts = []Tier{{Trades: 100, Discount: 10}, {Trades: 100, Discount: 20}}
			},
			wantErr: true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLedger_FreeAllowance(t *testing.T) {
	l := NewLedger(testConfig(), new(MockTransport))

	for i := 1; i <= 10; i++ {
		fee := l.CalculateFee("alice")
		assert.True(t, fee.IsZero(), "call %d", i)
		l.RecordTrade("alice", true)
	}

	fee := l.CalculateFee("alice")
	assert.True(t, fee.IsPositive())
	assert.True(t, fee.Equal(decimal.RequireFromString("0.001")))

	// 其他用户不受影响
	assert.True(t, l.CalculateFee("bob").IsZero())
}

func TestLedger_DiscountMonotonic(t *testing.T) {
	cfg := testConfig()
	cfg.FreeTrades = 0
	l := NewLedger(cfg, new(MockTransport))

	expect := map[int]string{
		0:    "0.001",
		99:   "0.001",
		100:  "0.0009",
		500:  "0.0008",
		1000: "0.0007",
	}

	prev := l.CalculateFee("alice")
	for trades := 0; trades <= 1200; trades++ {
		fee := l.CalculateFee("alice")
		assert.True(t, fee.LessThanOrEqual(prev), "fee increased at %d trades", trades)
		assert.True(t, fee.GreaterThanOrEqual(decimal.NewFromFloat(cfg.MinimumFee)))
		if want, ok := expect[trades]; ok {
			assert.True(t, fee.Equal(decimal.RequireFromString(want)), "trades %d: want %s got %s", trades, want, fee)
		}
		prev = fee
		l.RecordTrade("alice", false)
	}
}

func TestLedger_MinimumFeeFloor(t *testing.T) {
	cfg := testConfig()
	cfg.FreeTrades = 0
	cfg.Discounts = []Tier{{Trades: 1, Discount: 90}}
	l := NewLedger(cfg, new(MockTransport))

	l.RecordTrade("alice", false)
	assert.True(t, l.CalculateFee("alice").Equal(decimal.RequireFromString("0.0005")))
}

func TestLedger_AccrueThenCollect(t *testing.T) {
	cfg := testConfig()
	cfg.FreeTrades = 0
	transport := new(MockTransport)
	feeRepo := new(MockFeeRepo)
	l := NewLedger(cfg, transport, WithRepo(feeRepo))
	ctx := context.Background()

	transport.On("Transfer", mock.Anything, payer, "collector", amountEq("0.005")).Return("tx-1", nil).Once()
	feeRepo.On("Create", mock.Anything, mock.MatchedBy(func(c entity.FeeCollection) bool {
		return c.UserId == "alice" && c.TxId == "tx-1" && c.Status == entity.FeeStatusCollected
	})).Return(1, nil).Once()

	for i := 0; i < 4; i++ {
		charge, err := l.Charge(ctx, "alice", payer)
		require.NoError(t, err)
		assert.True(t, charge.Accrued)
		assert.Empty(t, charge.TxID)
	}
	assert.True(t, l.Pending("alice").Equal(decimal.RequireFromString("0.004")))
	transport.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	_, err := l.Charge(ctx, "alice", payer)
	require.NoError(t, err)
	assert.True(t, l.Pending("alice").IsZero())

	report := l.Report()
	assert.True(t, report.TotalCollected.Equal(decimal.RequireFromString("0.005")))
	assert.Equal(t, 1, report.Collections)
	assert.True(t, report.Pending.IsZero())

	transport.AssertExpectations(t)
	feeRepo.AssertExpectations(t)
}

func TestLedger_FailedCollectionRetainsBalance(t *testing.T) {
	cfg := testConfig()
	cfg.FreeTrades = 0
	cfg.ImmediateThreshold = 1
	transport := new(MockTransport)
	l := NewLedger(cfg, transport)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Charge(ctx, "alice", payer)
		require.NoError(t, err)
	}
	assert.True(t, l.Pending("alice").Equal(decimal.RequireFromString("0.003")))

	transport.On("Transfer", mock.Anything, payer, "collector", amountEq("0.003")).Return("", errors.New("rpc down")).Once()
	collected, err := l.Collect(ctx, "alice", payer)
	assert.Error(t, err)
	assert.True(t, collected.IsZero())
	assert.True(t, l.Pending("alice").Equal(decimal.RequireFromString("0.003")))

	transport.On("Transfer", mock.Anything, payer, "collector", amountEq("0.003")).Return("tx-2", nil).Once()
	collected, err = l.Collect(ctx, "alice", payer)
	require.NoError(t, err)
	assert.True(t, collected.Equal(decimal.RequireFromString("0.003")))
	assert.True(t, l.Pending("alice").IsZero())
	transport.AssertExpectations(t)
}

func TestLedger_CollectBelowMinimum(t *testing.T) {
	cfg := testConfig()
	cfg.FreeTrades = 0
	cfg.FeePerTransaction = 0.0005
	transport := new(MockTransport)
	l := NewLedger(cfg, transport)

	_, err := l.Charge(context.Background(), "alice", payer)
	require.NoError(t, err)

	collected, err := l.Collect(context.Background(), "alice", payer)
	require.NoError(t, err)
	assert.True(t, collected.IsZero())
	transport.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLedger_ImmediateCharge(t *testing.T) {
	cfg := testConfig()
	cfg.FreeTrades = 0
	cfg.FeePerTransaction = 0.01
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		transport := new(MockTransport)
		l := NewLedger(cfg, transport)
		transport.On("Transfer", mock.Anything, payer, "collector", amountEq("0.01")).Return("tx-3", nil).Once()

		charge, err := l.Charge(ctx, "alice", payer)
		require.NoError(t, err)
		assert.Equal(t, "tx-3", charge.TxID)
		assert.False(t, charge.Accrued)
		assert.True(t, l.UserStats("alice").Paid.Equal(decimal.RequireFromString("0.01")))
	})

	t.Run("failure accrues", func(t *testing.T) {
		transport := new(MockTransport)
		l := NewLedger(cfg, transport)
		transport.On("Transfer", mock.Anything, payer, "collector", amountEq("0.01")).Return("", errors.New("boom")).Once()

		charge, err := l.Charge(ctx, "alice", payer)
		assert.Error(t, err)
		assert.True(t, charge.Accrued)
		assert.True(t, l.Pending("alice").Equal(decimal.RequireFromString("0.01")))
	})
}

func TestLedger_UserStats(t *testing.T) {
	l := NewLedger(testConfig(), new(MockTransport))
	for i := 0; i < 12; i++ {
		_, err := l.Charge(context.Background(), "alice", payer)
		require.NoError(t, err)
	}

	stats := l.UserStats("alice")
	assert.Equal(t, 0, stats.FreeTradesRemaining)
	assert.Equal(t, 2, stats.TotalTrades)
	assert.Equal(t, "98 trades until 10% discount", stats.NextDiscount)
	assert.True(t, stats.Accrued.Equal(decimal.RequireFromString("0.002")))

	fresh := l.UserStats("bob")
	assert.Equal(t, 10, fresh.FreeTradesRemaining)
	assert.True(t, fresh.CurrentFee.IsZero())
}

func TestLedger_ReadsDoNotCreateAccounts(t *testing.T) {
	l := NewLedger(testConfig(), new(MockTransport))

	assert.True(t, l.CalculateFee("alice").IsZero())
	assert.True(t, l.Pending("bob").IsZero())
	assert.Equal(t, 10, l.UserStats("carol").FreeTradesRemaining)
	assert.Equal(t, 0, l.Report().Users)

	l.RecordTrade("alice", true)
	assert.Equal(t, 1, l.Report().Users)
	assert.Equal(t, 9, l.UserStats("alice").FreeTradesRemaining)
}

func TestLedger_History(t *testing.T) {
	t.Run("no repo", func(t *testing.T) {
		l := NewLedger(testConfig(), new(MockTransport))
		res, err := l.History(context.Background(), "alice")
		require.NoError(t, err)
		assert.Empty(t, res)
	})

	t.Run("from repo", func(t *testing.T) {
		feeRepo := new(MockFeeRepo)
		feeRepo.On("FindByUser", mock.Anything, "alice").Return([]entity.FeeCollection{
			{UserId: "alice", Amount: "0.005", Status: entity.FeeStatusCollected, TxId: "tx1"},
		}, nil)
		l := NewLedger(testConfig(), new(MockTransport), WithRepo(feeRepo))

		res, err := l.History(context.Background(), "alice")
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "tx1", res[0].TxId)
	})

	t.Run("repo error", func(t *testing.T) {
		feeRepo := new(MockFeeRepo)
		feeRepo.On("FindByUser", mock.Anything, "alice").Return([]entity.FeeCollection(nil), errors.New("db down"))
		l := NewLedger(testConfig(), new(MockTransport), WithRepo(feeRepo))

		_, err := l.History(context.Background(), "alice")
		assert.ErrorContains(t, err, "db down")
	})
}
