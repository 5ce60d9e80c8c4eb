package paper

import (
	"context"
	"testing"

	"github.com/KNICEX/volume-agent/internal/service/chain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "TokenMint111"

func newTestChain(t *testing.T) (*Chain, chain.Wallet, chain.RoutingData) {
	c := NewChain(WithSeed(1))
	c.AddPool(testToken, decimal.NewFromInt(1000), decimal.NewFromInt(1_000_000))

	w, err := c.Create(context.Background())
	require.NoError(t, err)
	c.Fund(w.Address, decimal.NewFromInt(10))

	routing, err := c.Resolve(context.Background(), testToken)
	require.NoError(t, err)
	return c, w, routing
}

func TestChain_WalletExportImport(t *testing.T) {
	c := NewChain()
	w, err := c.Create(context.Background())
	require.NoError(t, err)

	secret, err := c.Export(w)
	require.NoError(t, err)

	imported, err := c.Import(context.Background(), secret)
	require.NoError(t, err)
	assert.Equal(t, w.Address, imported.Address)

	_, err = c.Import(context.Background(), "abc")
	assert.Error(t, err)

	_, err = c.Export(chain.Wallet{Address: "x"})
	assert.Error(t, err)
}

func TestChain_BuyThenSell(t *testing.T) {
	c, w, routing := newTestChain(t)
	ctx := context.Background()

	res, err := c.Submit(ctx, chain.SwapRequest{
		Wallet:      w,
		Token:       testToken,
		Amount:      decimal.NewFromInt(1),
		Direction:   chain.Buy,
		Routing:     routing,
		SlippageBps: 500,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.TxID)
	assert.True(t, res.TokenAmount.IsPositive())
	assert.True(t, res.Slippage.GreaterThanOrEqual(decimal.Zero))

	native, _ := c.Native(ctx, w.Address)
	assert.True(t, native.Equal(decimal.NewFromInt(9)))
	tokens, _ := c.Token(ctx, w.Address, testToken)
	assert.True(t, tokens.Equal(res.TokenAmount))

	sell, err := c.Submit(ctx, chain.SwapRequest{
		Wallet:      w,
		Token:       testToken,
		Amount:      tokens.Div(decimal.NewFromInt(2)),
		Direction:   chain.Sell,
		Routing:     routing,
		SlippageBps: 500,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sell.TxID)

	after, _ := c.Native(ctx, w.Address)
	assert.True(t, after.GreaterThan(native))
}

func TestChain_SubmitErrors(t *testing.T) {
	c, w, routing := newTestChain(t)
	ctx := context.Background()

	testCases := []struct {
		name string
		req  chain.SwapRequest
		kind chain.ErrorKind
	}{
		{
			name: "insufficient native",
			req:  chain.SwapRequest{Wallet: w, Token: testToken, Amount: decimal.NewFromInt(100), Direction: chain.Buy, Routing: routing, SlippageBps: 10000},
			kind: chain.KindInsufficientBalance,
		},
		{
			name: "insufficient token",
			req:  chain.SwapRequest{Wallet: w, Token: testToken, Amount: decimal.NewFromInt(1), Direction: chain.Sell, Routing: routing, SlippageBps: 10000},
			kind: chain.KindInsufficientBalance,
		},
		{
			name: "missing routing",
			req:  chain.SwapRequest{Wallet: w, Token: testToken, Amount: decimal.NewFromInt(1), Direction: chain.Buy, SlippageBps: 500},
			kind: chain.KindPoolNotFound,
		},
		{
			name: "slippage bound",
			req:  chain.SwapRequest{Wallet: w, Token: testToken, Amount: decimal.NewFromInt(9), Direction: chain.Buy, Routing: routing, SlippageBps: 10},
			kind: chain.KindSlippageExceeded,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Submit(ctx, tc.req)
			require.Error(t, err)
			kind, ok := chain.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, tc.kind, kind)
		})
	}

	_, err := c.Resolve(ctx, "unknown")
	kind, _ := chain.KindOf(err)
	assert.Equal(t, chain.KindPoolNotFound, kind)
}

func TestChain_Transfer(t *testing.T) {
	c, w, _ := newTestChain(t)
	ctx := context.Background()

	tx, err := c.Transfer(ctx, w, "collector", decimal.NewFromFloat(0.5))
	require.NoError(t, err)
	assert.NotEmpty(t, tx)

	got, _ := c.Native(ctx, "collector")
	assert.True(t, got.Equal(decimal.NewFromFloat(0.5)))

	_, err = c.Transfer(ctx, w, "collector", decimal.NewFromInt(100))
	kind, _ := chain.KindOf(err)
	assert.Equal(t, chain.KindInsufficientBalance, kind)
}

func TestChain_InjectedFailure(t *testing.T) {
	c := NewChain(WithFailureRate(1, chain.KindRateLimit))
	_, err := c.Transfer(context.Background(), chain.Wallet{Address: "a"}, "b", decimal.NewFromInt(1))
	kind, ok := chain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, chain.KindRateLimit, kind)
}
