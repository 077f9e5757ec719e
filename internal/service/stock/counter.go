// Package stock работает с простыми счётчиками остатка (стратегия PLAIN_STOCK).
package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Counter списывает и возвращает единицы простого остатка.
type Counter struct{}

// NewCounter создаёт Counter.
func NewCounter() *Counter {
	return &Counter{}
}

// Deduct уменьшает остаток товара на units. Неограниченный остаток не меняется.
// Недостаток остатка здесь означает нарушение инварианта: проверка выполнена раньше.
func (c *Counter) Deduct(ctx context.Context, tx domain.Tx, itemID string, units int64) (domain.PlainProvenance, decimal.Decimal, error) {
	if units <= 0 {
		return domain.PlainProvenance{}, decimal.Zero, fmt.Errorf("%w: deduct of %d units from item %s",
			domain.ErrInvariantViolation, units, itemID)
	}
	item, err := tx.ItemByID(ctx, itemID)
	if err != nil {
		return domain.PlainProvenance{}, decimal.Zero, err
	}
	plain, ok := asPlain(item)
	if !ok {
		return domain.PlainProvenance{}, decimal.Zero, fmt.Errorf("%w: item %q is %s, not plain stock",
			domain.ErrInvariantViolation, item.Name, item.Fulfillment.Kind())
	}

	if plain.Unlimited() {
		return domain.PlainProvenance{Units: units, Unlimited: true}, plain.UnitCost, nil
	}
	if plain.Stock < units {
		return domain.PlainProvenance{}, decimal.Zero, fmt.Errorf("%w: item %q has %d units, commit needs %d",
			domain.ErrInvariantViolation, item.Name, plain.Stock, units)
	}
	if err := tx.SetItemStock(ctx, itemID, plain.Stock-units); err != nil {
		return domain.PlainProvenance{}, decimal.Zero, err
	}
	return domain.PlainProvenance{Units: units}, plain.UnitCost, nil
}

// Restore возвращает units на остаток товара. Если товар удалён или сменил стратегию,
// возвращается запись о невозможном возврате.
func (c *Counter) Restore(ctx context.Context, tx domain.Tx, ref domain.LineRef, itemID string, units int64) (*domain.OrphanedRestoration, error) {
	item, err := tx.ItemByID(ctx, itemID)
	if errors.Is(err, domain.ErrNotFound) {
		return orphan(ref, itemID, units, "item no longer exists"), nil
	}
	if err != nil {
		return nil, err
	}

	plain, ok := asPlain(item)
	if !ok {
		return orphan(ref, itemID, units, fmt.Sprintf("item is now %s", item.Fulfillment.Kind())), nil
	}
	if plain.Unlimited() {
		return nil, nil
	}
	if err := tx.SetItemStock(ctx, itemID, plain.Stock+units); err != nil {
		return nil, err
	}
	return nil, nil
}

// Available возвращает остаток и признак неограниченности.
func Available(item domain.Item) (int64, bool) {
	plain, ok := asPlain(item)
	if !ok {
		return 0, false
	}
	if plain.Unlimited() {
		return 0, true
	}
	if plain.Stock < 0 {
		return 0, false
	}
	return plain.Stock, false
}

func asPlain(item domain.Item) (domain.PlainStock, bool) {
	if item.Fulfillment == nil {
		return domain.PlainStock{}, true
	}
	plain, ok := item.Fulfillment.(domain.PlainStock)
	return plain, ok
}

func orphan(ref domain.LineRef, itemID string, units int64, reason string) *domain.OrphanedRestoration {
	o := ref.Orphan(domain.RestorationStock, itemID, reason)
	o.Units = units
	return &o
}
