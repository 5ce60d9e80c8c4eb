package circuit

import (
	"context"
	"errors"
	"strings"

	"github.com/KNICEX/volume-agent/internal/service/chain"
)

type Kind = chain.ErrorKind

var heuristics = []struct {
	kind     Kind
	keywords []string
}{
	{chain.KindRateLimit, []string{"429", "rate limit", "too many requests"}},
	{chain.KindInsufficientBalance, []string{"insufficient"}},
	{chain.KindSlippageExceeded, []string{"slippage"}},
	{chain.KindPoolNotFound, []string{"pool not found", "no pool", "market not found"}},
	{chain.KindNetwork, []string{"timeout", "connection", "network", "econnreset", "econnrefused"}},
	{chain.KindRPC, []string{"rpc", "502", "503", "blockhash"}},
}

// Classify 把协作方错误归类, 无法识别的统一视为交易失败
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	if kind, ok := chain.KindOf(err); ok {
		return kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return chain.KindNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, h := range heuristics {
		for _, kw := range h.keywords {
			if strings.Contains(msg, kw) {
				return h.kind
			}
		}
	}
	return chain.KindTransactionFailed
}

// Recoverable 余额不足需要人工介入, 其余错误会话可以继续
func Recoverable(kind Kind) bool {
	return kind != chain.KindInsufficientBalance
}
