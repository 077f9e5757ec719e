package domain

import "github.com/shopspring/decimal"

// MoneyScale: число знаков после запятой, которое хранилище сохраняет без округления
// (NUMERIC(20,4)).
const MoneyScale = 4

// FitsMoneyScale сообщает, сохранится ли сумма без потери точности.
// "10.00000" подходит, "0.00005" нет.
func FitsMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}
