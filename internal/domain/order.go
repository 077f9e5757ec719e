package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order: зафиксированная продажа. После создания не меняется, может быть только удалена.
type Order struct {
	ID            string
	Total         decimal.Decimal
	PaymentAmount decimal.NullDecimal
	PaidAt        *time.Time
	CreatedBy     string
	CreatedAt     time.Time
	Lines         []OrderLine
}

// OrderLine: строка корзины в том виде, в каком она была списана.
type OrderLine struct {
	ID       string
	OrderID  string
	LineNo   int
	ItemID   string
	ItemName string
	Quantity int64
	// UnitPrice: цена единицы на момент продажи.
	UnitPrice decimal.Decimal
	// ForeignAmount: сумма строки в иностранной валюте, если известна.
	ForeignAmount decimal.NullDecimal
	// UnitCost: себестоимость единицы для отчётов о марже.
	UnitCost   decimal.Decimal
	Provenance Provenance
}

// Amount возвращает сумму строки в локальной валюте.
func (l OrderLine) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
}

// CartLine: строка запроса на создание заказа.
type CartLine struct {
	ItemID   string
	Quantity int64
	// AccountID: выбранный кассиром кредитный аккаунт (только для CREDIT_POOL).
	AccountID string
	// CreditAmount: явная сумма списания для семейств, которые её требуют.
	CreditAmount decimal.NullDecimal
}

// CreateOrderRequest: входные данные операции создания заказа.
type CreateOrderRequest struct {
	Lines         []CartLine
	PaymentAmount decimal.NullDecimal
	PaidAt        *time.Time
}

// CreateOrderResult: результат успешного создания заказа.
type CreateOrderResult struct {
	OrderID string
	Total   decimal.Decimal
}

// Actor: вызывающий пользователь. Передаётся в движок явно.
type Actor struct {
	ID    string
	Admin bool
}

// Authenticated сообщает, что пользователь идентифицирован.
func (a Actor) Authenticated() bool {
	return a.ID != ""
}

// RestorationKind: что именно не удалось вернуть при удалении заказа.
type RestorationKind string

const (
	RestorationCredit RestorationKind = "credit"
	RestorationLot    RestorationKind = "lot"
	RestorationStock  RestorationKind = "stock"
)

// OrphanedRestoration: возврат, который некуда применить: аккаунт, партия или товар
// удалены после продажи. Требует ручной сверки.
type OrphanedRestoration struct {
	ID        string
	OrderID   string
	LineID    string
	Kind      RestorationKind
	TargetID  string
	Family    string
	Amount    decimal.Decimal
	Units     int64
	Reason    string
	CreatedAt time.Time
}

// LineRef указывает на строку заказа, для которой выполняется возврат.
type LineRef struct {
	OrderID string
	LineID  string
}

// Orphan создаёт запись о невозможном возврате для этой строки.
func (r LineRef) Orphan(kind RestorationKind, targetID, reason string) OrphanedRestoration {
	return OrphanedRestoration{
		OrderID:  r.OrderID,
		LineID:   r.LineID,
		Kind:     kind,
		TargetID: targetID,
		Reason:   reason,
	}
}
