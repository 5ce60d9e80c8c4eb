package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/KNICEX/volume-agent/internal/service/chain"
	"github.com/KNICEX/volume-agent/internal/service/session"
	"github.com/KNICEX/volume-agent/internal/service/strategy"
)

const version = 1

var ErrAddressMismatch = errors.New("restored wallet address mismatch")

type WalletRecord struct {
	Number    int       `json:"number"`
	Address   string    `json:"address"`
	Secret    string    `json:"secret"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot 不需要重新生成钱包就能恢复会话的最小信息
type Snapshot struct {
	Version   int              `json:"version"`
	Owner     string           `json:"owner"`
	Admin     WalletRecord     `json:"admin"`
	Wallets   []WalletRecord   `json:"wallets"`
	Token     session.Token    `json:"token"`
	Routing   json.RawMessage  `json:"routing,omitempty"`
	Strategy  string           `json:"strategy"`
	Config    *strategy.Config `json:"config,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

func Export(s session.Session, provider chain.WalletProvider) (Snapshot, error) {
	admin, err := record(s.Admin, provider)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		Version:   version,
		Owner:     s.Owner,
		Admin:     admin,
		Wallets:   make([]WalletRecord, 0, len(s.Wallets)),
		Token:     s.Token,
		Routing:   json.RawMessage(s.Routing),
		Strategy:  s.Strategy.ToString(),
		CreatedAt: s.CreatedAt,
	}
	cfg := s.Config
	snap.Config = &cfg
	for _, w := range s.Wallets {
		r, err := record(w, provider)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Wallets = append(snap.Wallets, r)
	}
	sort.Slice(snap.Wallets, func(i, j int) bool {
		return snap.Wallets[i].Number < snap.Wallets[j].Number
	})
	return snap, nil
}

func record(w chain.Wallet, provider chain.WalletProvider) (WalletRecord, error) {
	secret, err := provider.Export(w)
	if err != nil {
		return WalletRecord{}, fmt.Errorf("export wallet #%d: %w", w.Number, err)
	}
	return WalletRecord{
		Number:    w.Number,
		Address:   w.Address,
		Secret:    secret,
		CreatedAt: w.CreatedAt,
	}, nil
}

// Restore 重新导入私钥并校验地址, 交易钱包按编号升序返回
func (s Snapshot) Restore(ctx context.Context, provider chain.WalletProvider) (chain.Wallet, []chain.Wallet, error) {
	admin, err := restore(ctx, s.Admin, provider)
	if err != nil {
		return chain.Wallet{}, nil, err
	}
	records := append([]WalletRecord(nil), s.Wallets...)
	sort.Slice(records, func(i, j int) bool {
		return records[i].Number < records[j].Number
	})
	wallets := make([]chain.Wallet, 0, len(records))
	for _, r := range records {
		w, err := restore(ctx, r, provider)
		if err != nil {
			return chain.Wallet{}, nil, err
		}
		wallets = append(wallets, w)
	}
	return admin, wallets, nil
}

func restore(ctx context.Context, r WalletRecord, provider chain.WalletProvider) (chain.Wallet, error) {
	w, err := provider.Import(ctx, r.Secret)
	if err != nil {
		return chain.Wallet{}, fmt.Errorf("import wallet #%d: %w", r.Number, err)
	}
	if w.Address != r.Address {
		return chain.Wallet{}, fmt.Errorf("%w: #%d want %s got %s", ErrAddressMismatch, r.Number, r.Address, w.Address)
	}
	w.Number = r.Number
	w.CreatedAt = r.CreatedAt
	return w, nil
}

func Save(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	// 包含私钥, 仅所有者可读
	return os.WriteFile(path, data, 0o600)
}

func Load(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	if snap.Version != version {
		return Snapshot{}, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return snap, nil
}
