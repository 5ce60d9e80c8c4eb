package decimalx

import "github.com/shopspring/decimal"

func MustFromString(s string) decimal.Decimal {
	res, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return res
}

// FromStringOr 解析失败或为空时返回 def, 用于读取库里的字符串金额
func FromStringOr(s string, def decimal.Decimal) decimal.Decimal {
	if s == "" {
		return def
	}
	res, err := decimal.NewFromString(s)
	if err != nil {
		return def
	}
	return res
}
