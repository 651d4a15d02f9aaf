package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Money 展示用金额（元，保留 2 位小数）。库内金额一律以分存储。
type Money struct {
	decimal.Decimal
}

// NewMoneyFromFen 分转元
func NewMoneyFromFen(fen int64) Money {
	return Money{Decimal: decimal.New(fen, -2)}
}

// Fen 元转分，超出 2 位的小数四舍五入
func (m Money) Fen() int64 {
	return m.Decimal.Round(2).Shift(2).IntPart()
}

// MarshalJSON 统一输出 2 位小数的字符串
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// String 返回 2 位小数格式
func (m Money) String() string {
	return m.Decimal.Round(2).StringFixed(2)
}
