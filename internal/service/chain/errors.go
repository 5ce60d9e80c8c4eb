package chain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindRPC                 ErrorKind = "RPC_ERROR"
	KindTransactionFailed   ErrorKind = "TRANSACTION_FAILED"
	KindInsufficientBalance ErrorKind = "INSUFFICIENT_BALANCE"
	KindPoolNotFound        ErrorKind = "POOL_NOT_FOUND"
	KindNetwork             ErrorKind = "NETWORK_ERROR"
	KindRateLimit           ErrorKind = "RATE_LIMIT"
	KindSlippageExceeded    ErrorKind = "SLIPPAGE_EXCEEDED"
)

var Kinds = []ErrorKind{
	KindRPC,
	KindTransactionFailed,
	KindInsufficientBalance,
	KindPoolNotFound,
	KindNetwork,
	KindRateLimit,
	KindSlippageExceeded,
}

// Error 协作方返回的可分类错误
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind ErrorKind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf 返回错误链中第一个 *Error 的类型
func KindOf(err error) (ErrorKind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}
