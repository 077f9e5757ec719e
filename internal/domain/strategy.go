package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ResolveStrategy возвращает стратегию товара и семейство кредитного пула.
// Не имеет побочных эффектов; товар без стратегии считается PLAIN_STOCK.
func ResolveStrategy(item Item) (StrategyKind, string) {
	switch f := item.Fulfillment.(type) {
	case CreditPool:
		return StrategyCreditPool, f.Family
	case CostLot:
		return StrategyCostLot, ""
	case Bundle:
		return StrategyBundle, ""
	default:
		return StrategyPlainStock, ""
	}
}

// FulfillmentRow: плоское представление стратегии с колонкой-дискриминатором,
// в котором товар хранится в базе и передаётся через API.
type FulfillmentRow struct {
	Kind           string
	Family         string
	Stock          int64
	UnitCost       decimal.Decimal
	FaceValue      decimal.NullDecimal
	ExplicitAmount bool
}

// Fulfillment собирает сумму типов из строки. Неизвестный или пустой тег даёт PlainStock,
// поля чужих стратегий отбрасываются.
func (r FulfillmentRow) Fulfillment() Fulfillment {
	switch StrategyKind(strings.ToUpper(strings.TrimSpace(r.Kind))) {
	case StrategyCreditPool:
		return CreditPool{
			Family:         strings.ToUpper(strings.TrimSpace(r.Family)),
			FaceValue:      r.FaceValue,
			ExplicitAmount: r.ExplicitAmount,
		}
	case StrategyCostLot:
		return CostLot{}
	case StrategyBundle:
		return Bundle{}
	default:
		return PlainStock{Stock: r.Stock, UnitCost: r.UnitCost}
	}
}

// RowFromFulfillment раскладывает стратегию в плоскую строку.
func RowFromFulfillment(f Fulfillment) FulfillmentRow {
	switch v := f.(type) {
	case CreditPool:
		return FulfillmentRow{
			Kind:           string(StrategyCreditPool),
			Family:         v.Family,
			FaceValue:      v.FaceValue,
			ExplicitAmount: v.ExplicitAmount,
		}
	case CostLot:
		return FulfillmentRow{Kind: string(StrategyCostLot)}
	case Bundle:
		return FulfillmentRow{Kind: string(StrategyBundle)}
	case PlainStock:
		return FulfillmentRow{Kind: string(StrategyPlainStock), Stock: v.Stock, UnitCost: v.UnitCost}
	default:
		return FulfillmentRow{Kind: string(StrategyPlainStock)}
	}
}
