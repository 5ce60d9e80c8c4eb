package paper

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/KNICEX/volume-agent/internal/service/chain"
	"github.com/mr-tron/base58"
)

func (c *Chain) Create(ctx context.Context) (chain.Wallet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return chain.Wallet{}, fmt.Errorf("generate key: %w", err)
	}
	return chain.Wallet{
		Address:   base58.Encode(pub),
		Key:       priv,
		CreatedAt: time.Now(),
	}, nil
}

func (c *Chain) Import(ctx context.Context, secret string) (chain.Wallet, error) {
	raw, err := base58.Decode(secret)
	if err != nil {
		return chain.Wallet{}, fmt.Errorf("decode secret: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return chain.Wallet{}, fmt.Errorf("invalid secret length %d", len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	return chain.Wallet{
		Address:   base58.Encode(priv.Public().(ed25519.PublicKey)),
		Key:       priv,
		CreatedAt: time.Now(),
	}, nil
}

func (c *Chain) Export(wallet chain.Wallet) (string, error) {
	priv, ok := wallet.Key.(ed25519.PrivateKey)
	if !ok {
		return "", fmt.Errorf("wallet %s has no paper key", wallet.Address)
	}
	return base58.Encode(priv), nil
}
