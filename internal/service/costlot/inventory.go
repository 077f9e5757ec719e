// Package costlot расходует и возвращает партии товара с себестоимостью (стратегия COST_LOT).
package costlot

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Inventory работает с партиями одного товара. Партии расходуются от дешёвых к дорогим.
type Inventory struct{}

// NewInventory создаёт Inventory.
func NewInventory() *Inventory {
	return &Inventory{}
}

// TotalAvailable возвращает сумму остатков по всем партиям товара.
func (inv *Inventory) TotalAvailable(ctx context.Context, tx domain.Tx, itemID string) (int64, error) {
	lots, err := tx.LotsForItem(ctx, itemID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, lot := range lots {
		if lot.Units > 0 {
			total += lot.Units
		}
	}
	return total, nil
}

// Consume списывает qty единиц, обходя партии по возрастанию себестоимости.
// Достаточность остатка проверена раньше, поэтому нехватка здесь означает нарушение инварианта.
func (inv *Inventory) Consume(ctx context.Context, tx domain.Tx, itemID string, qty int64) (domain.LotProvenance, error) {
	if qty <= 0 {
		return domain.LotProvenance{}, fmt.Errorf("%w: consume of %d units of item %s",
			domain.ErrInvariantViolation, qty, itemID)
	}
	lots, err := tx.LotsForItem(ctx, itemID)
	if err != nil {
		return domain.LotProvenance{}, err
	}

	var prov domain.LotProvenance
	remaining := qty
	for _, lot := range lots {
		if remaining == 0 {
			break
		}
		if lot.Units <= 0 {
			continue
		}
		take := lot.Units
		if take > remaining {
			take = remaining
		}
		if err := tx.SetLotUnits(ctx, lot.ID, lot.Units-take); err != nil {
			return domain.LotProvenance{}, err
		}
		if len(prov.Draws) == 0 {
			prov.FirstLotID = lot.ID
			prov.FirstLotCost = lot.UnitCost
		}
		prov.Draws = append(prov.Draws, domain.LotDraw{LotID: lot.ID, UnitCost: lot.UnitCost, Units: take})
		remaining -= take
	}

	if remaining > 0 {
		return domain.LotProvenance{}, fmt.Errorf("%w: lots of item %s are short by %d units",
			domain.ErrInvariantViolation, itemID, remaining)
	}
	return prov, nil
}

// Restore возвращает единицы в партии из provenance. Для удалённых партий
// возвращаются записи о невозможном возврате, остальные партии восстанавливаются.
func (inv *Inventory) Restore(ctx context.Context, tx domain.Tx, ref domain.LineRef, p domain.LotProvenance) ([]domain.OrphanedRestoration, error) {
	var orphans []domain.OrphanedRestoration
	for _, draw := range p.Draws {
		lot, err := tx.LotByID(ctx, draw.LotID)
		if errors.Is(err, domain.ErrNotFound) {
			o := ref.Orphan(domain.RestorationLot, draw.LotID, "cost lot no longer exists")
			o.Units = draw.Units
			o.Amount = draw.UnitCost.Mul(decimal.NewFromInt(draw.Units))
			orphans = append(orphans, o)
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := tx.SetLotUnits(ctx, lot.ID, lot.Units+draw.Units); err != nil {
			return nil, err
		}
	}
	return orphans, nil
}

// WeightedUnitCost возвращает средневзвешенную себестоимость единицы по всем партиям списания.
func WeightedUnitCost(p domain.LotProvenance) decimal.Decimal {
	units := p.TotalUnits()
	if units == 0 {
		return decimal.Zero
	}
	return p.TotalCost().DivRound(decimal.NewFromInt(units), domain.MoneyScale)
}
