package decimalx

import "github.com/shopspring/decimal"

// Avg 算术平均, 空切片返回 0
func Avg(ds []decimal.Decimal) decimal.Decimal {
	if len(ds) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(decimal.Zero, ds...).Div(decimal.NewFromInt(int64(len(ds))))
}

// Between 在 [min, max] 之间按 f(0-1) 线性取值
func Between(min, max decimal.Decimal, f float64) decimal.Decimal {
	if max.LessThan(min) {
		min, max = max, min
	}
	return min.Add(max.Sub(min).Mul(decimal.NewFromFloat(f)))
}

// Percent v * pct / 100
func Percent(v, pct decimal.Decimal) decimal.Decimal {
	return v.Mul(pct).Div(decimal.NewFromInt(100))
}
