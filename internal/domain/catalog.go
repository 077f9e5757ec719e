package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// StrategyKind: тег стратегии учёта остатков товара.
type StrategyKind string

const (
	// StrategyPlainStock: простой счётчик остатка.
	StrategyPlainStock StrategyKind = "PLAIN_STOCK"
	// StrategyCreditPool: списание с баланса выбранного кредитного аккаунта.
	StrategyCreditPool StrategyKind = "CREDIT_POOL"
	// StrategyCostLot: партии с себестоимостью, расходуются от дешёвых к дорогим.
	StrategyCostLot StrategyKind = "COST_LOT"
	// StrategyBundle: комплект из других товаров.
	StrategyBundle StrategyKind = "BUNDLE"
)

// UnlimitedStock: значение счётчика для товаров без ограничения остатка.
const UnlimitedStock int64 = -1

// Семейства кредитных пулов.
const (
	FamilyEmail      = "EMAIL"
	FamilyRazer      = "RAZER"
	FamilyOtherEmail = "OTHER_EMAIL"
)

// Fulfillment: закрытая сумма типов стратегий: PlainStock, CreditPool, CostLot, Bundle.
// Реализовать интерфейс вне пакета нельзя.
type Fulfillment interface {
	Kind() StrategyKind
	accept(h StrategyHandler) error
}

// StrategyHandler обрабатывает каждую стратегию отдельным методом.
// Добавление стратегии ломает компиляцию всех обработчиков.
type StrategyHandler interface {
	PlainStock(s PlainStock) error
	CreditPool(s CreditPool) error
	CostLot(s CostLot) error
	Bundle(s Bundle) error
}

// Dispatch вызывает метод обработчика, соответствующий стратегии.
func Dispatch(f Fulfillment, h StrategyHandler) error {
	if f == nil {
		f = PlainStock{}
	}
	return f.accept(h)
}

// PlainStock: счётчик остатка и справочная себестоимость единицы.
type PlainStock struct {
	Stock    int64
	UnitCost decimal.Decimal
}

func (PlainStock) Kind() StrategyKind { return StrategyPlainStock }

func (s PlainStock) accept(h StrategyHandler) error { return h.PlainStock(s) }

// Unlimited сообщает, что остаток не ограничен.
func (s PlainStock) Unlimited() bool { return s.Stock == UnlimitedStock }

// CreditPool: товар, оплачиваемый кредитами аккаунта из семейства Family.
type CreditPool struct {
	Family string
	// FaceValue: номинал единицы. Если не задан, номинал берётся из названия товара.
	FaceValue decimal.NullDecimal
	// ExplicitAmount требует от кассира явную сумму списания.
	ExplicitAmount bool
}

func (CreditPool) Kind() StrategyKind { return StrategyCreditPool }

func (s CreditPool) accept(h StrategyHandler) error { return h.CreditPool(s) }

// RequiresExplicitAmount сообщает, что сумма списания не выводится из цены и количества.
func (s CreditPool) RequiresExplicitAmount() bool {
	return s.ExplicitAmount || strings.EqualFold(s.Family, FamilyRazer)
}

// CostLot: остаток хранится в партиях.
type CostLot struct{}

func (CostLot) Kind() StrategyKind { return StrategyCostLot }

func (s CostLot) accept(h StrategyHandler) error { return h.CostLot(s) }

// Bundle: остаток вычисляется по компонентам.
type Bundle struct{}

func (Bundle) Kind() StrategyKind { return StrategyBundle }

func (s Bundle) accept(h StrategyHandler) error { return h.Bundle(s) }

// Item: продаваемая позиция каталога.
type Item struct {
	ID           string
	Name         string
	Price        decimal.Decimal
	ForeignPrice decimal.NullDecimal
	Fulfillment  Fulfillment
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreditAccount: аккаунт с общим кредитным балансом семейства.
type CreditAccount struct {
	ID        string
	Label     string
	Family    string
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CostLotRecord: партия товара с фиксированной себестоимостью.
type CostLotRecord struct {
	ID        string
	ItemID    string
	UnitCost  decimal.Decimal
	Units     int64
	CreatedAt time.Time
}

// BundleComponent: ребро комплекта: сколько единиц компонента входит в одну единицу комплекта.
type BundleComponent struct {
	BundleID    string
	ComponentID string
	QtyPerUnit  int64
}
