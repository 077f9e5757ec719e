package fulfillment

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/bundle"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/stock"
)

// cartValidator проверяет строки корзины по порядку, не изменяя данные.
// Учитывает то, что уже зарезервировано предыдущими строками той же корзины:
// единицы по товарам и кредиты по аккаунтам.
type cartValidator struct {
	engine *Engine
	tx     domain.Tx

	pendingUnits  map[string]int64
	pendingCredit map[string]decimal.Decimal

	plans   map[int]bundle.Plan
	credits map[int]creditReservation
}

// creditReservation: аккаунт и сумма, проверенные для строки CREDIT_POOL.
type creditReservation struct {
	AccountID string
	Family    string
	Amount    decimal.Decimal
}

func newCartValidator(e *Engine, tx domain.Tx) *cartValidator {
	return &cartValidator{
		engine:        e,
		tx:            tx,
		pendingUnits:  make(map[string]int64),
		pendingCredit: make(map[string]decimal.Decimal),
		plans:         make(map[int]bundle.Plan),
		credits:       make(map[int]creditReservation),
	}
}

func (v *cartValidator) validateLine(ctx context.Context, idx int, item domain.Item, line domain.CartLine) error {
	return domain.Dispatch(item.Fulfillment, &lineValidator{
		cart: v,
		ctx:  ctx,
		idx:  idx,
		item: item,
		line: line,
	})
}

// Reserve резервирует единицы товара с простым остатком или партиями.
// Используется и для строк корзины, и для компонентов комплектов.
func (v *cartValidator) Reserve(ctx context.Context, tx domain.Tx, item domain.Item, units int64) error {
	reserver := &unitReserver{cart: v, ctx: ctx, tx: tx, item: item, units: units}
	return domain.Dispatch(item.Fulfillment, reserver)
}

// unitReserver проверяет доступность единиц по стратегии товара.
type unitReserver struct {
	cart  *cartValidator
	ctx   context.Context
	tx    domain.Tx
	item  domain.Item
	units int64
}

func (r *unitReserver) PlainStock(domain.PlainStock) error {
	available, unlimited := stock.Available(r.item)
	if unlimited {
		return nil
	}
	return r.reserve(available)
}

func (r *unitReserver) CostLot(domain.CostLot) error {
	available, err := r.cart.engine.lots.TotalAvailable(r.ctx, r.tx, r.item.ID)
	if err != nil {
		return err
	}
	return r.reserve(available)
}

func (r *unitReserver) CreditPool(domain.CreditPool) error {
	return fmt.Errorf("%w: %q is a credit-pool item and cannot be reserved by units", domain.ErrInvalidRequest, r.item.Name)
}

func (r *unitReserver) Bundle(domain.Bundle) error {
	return fmt.Errorf("%w: %q is a bundle and cannot be reserved by units", domain.ErrInvalidRequest, r.item.Name)
}

func (r *unitReserver) reserve(available int64) error {
	remaining := available - r.cart.pendingUnits[r.item.ID]
	if remaining < r.units {
		if remaining < 0 {
			remaining = 0
		}
		return domain.NewShortfall(r.item.Name, remaining, r.units)
	}
	r.cart.pendingUnits[r.item.ID] += r.units
	return nil
}

// lineValidator проверяет одну строку корзины по стратегии её товара.
type lineValidator struct {
	cart *cartValidator
	ctx  context.Context
	idx  int
	item domain.Item
	line domain.CartLine
}

func (l *lineValidator) PlainStock(domain.PlainStock) error {
	return l.cart.Reserve(l.ctx, l.cart.tx, l.item, l.line.Quantity)
}

func (l *lineValidator) CostLot(domain.CostLot) error {
	return l.cart.Reserve(l.ctx, l.cart.tx, l.item, l.line.Quantity)
}

func (l *lineValidator) Bundle(domain.Bundle) error {
	plan, err := l.cart.engine.resolver.ValidateAndReserve(l.ctx, l.cart.tx, l.item, l.line.Quantity, l.cart)
	if err != nil {
		return err
	}
	l.cart.plans[l.idx] = plan
	return nil
}

func (l *lineValidator) CreditPool(pool domain.CreditPool) error {
	accountID := strings.TrimSpace(l.line.AccountID)
	if accountID == "" {
		return domain.MissingParameterError(l.item.Name, "account_id")
	}

	account, err := l.cart.tx.AccountByID(l.ctx, accountID)
	if err != nil {
		return fmt.Errorf("item %q: %w", l.item.Name, err)
	}
	if !strings.EqualFold(account.Family, pool.Family) {
		return fmt.Errorf("%w: account %s belongs to family %s, item %q draws from %s",
			domain.ErrInvalidRequest, account.ID, account.Family, l.item.Name, pool.Family)
	}

	needed, err := l.cart.engine.ledger.CreditNeeded(l.item, pool, l.line.Quantity, l.line.CreditAmount)
	if err != nil {
		return err
	}

	available := account.Balance.Sub(l.cart.pendingCredit[account.ID])
	if available.LessThan(needed) {
		if available.IsNegative() {
			available = decimal.Zero
		}
		return &domain.ShortfallError{
			Item:      fmt.Sprintf("%s (account %s)", l.item.Name, account.ID),
			Available: available.String(),
			Requested: needed.String(),
		}
	}

	l.cart.pendingCredit[account.ID] = l.cart.pendingCredit[account.ID].Add(needed)
	l.cart.credits[l.idx] = creditReservation{
		AccountID: account.ID,
		Family:    account.Family,
		Amount:    needed,
	}
	return nil
}
