// Package bundle раскладывает комплекты на компоненты (стратегия BUNDLE).
package bundle

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/costlot"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/stock"
)

// Reserver проверяет доступность единиц компонента с учётом уже зарезервированного
// предыдущими строками корзины и резервирует их.
type Reserver interface {
	Reserve(ctx context.Context, tx domain.Tx, item domain.Item, units int64) error
}

// ComponentNeed: сколько единиц компонента нужно для строки комплекта.
type ComponentNeed struct {
	ItemID string
	Name   string
	Units  int64
}

// Plan: план списания компонентов для одной строки комплекта.
type Plan struct {
	BundleID   string
	Quantity   int64
	Components []ComponentNeed
}

// Resolver вычисляет доступность комплектов и списывает их компоненты.
type Resolver struct {
	counter *stock.Counter
	lots    *costlot.Inventory
}

// NewResolver создаёт Resolver.
func NewResolver(counter *stock.Counter, lots *costlot.Inventory) *Resolver {
	if counter == nil {
		counter = stock.NewCounter()
	}
	if lots == nil {
		lots = costlot.NewInventory()
	}
	return &Resolver{counter: counter, lots: lots}
}

// EffectiveStock возвращает, сколько комплектов можно собрать из текущих остатков.
// Комплект без компонентов имеет остаток 0; если все компоненты неограничены, возвращается -1.
func (r *Resolver) EffectiveStock(ctx context.Context, tx domain.Tx, bundleID string) (int64, error) {
	edges, err := tx.BundleComponents(ctx, bundleID)
	if err != nil {
		return 0, err
	}
	if len(edges) == 0 {
		return 0, nil
	}

	effective := domain.UnlimitedStock
	for _, edge := range edges {
		item, err := tx.ItemByID(ctx, edge.ComponentID)
		if err != nil {
			return 0, fmt.Errorf("bundle %s component: %w", bundleID, err)
		}
		avail := &availabilityCounter{ctx: ctx, tx: tx, item: item, lots: r.lots}
		if err := domain.Dispatch(item.Fulfillment, avail); err != nil {
			return 0, err
		}
		if avail.unlimited {
			continue
		}
		perUnit := edge.QtyPerUnit
		if perUnit <= 0 {
			perUnit = 1
		}
		sets := avail.units / perUnit
		if effective == domain.UnlimitedStock || sets < effective {
			effective = sets
		}
	}
	return effective, nil
}

// ValidateAndReserve раскладывает строку комплекта на компоненты и резервирует каждый
// через reserver. Ошибка любого компонента отклоняет всю строку.
func (r *Resolver) ValidateAndReserve(ctx context.Context, tx domain.Tx, bundle domain.Item, qty int64, reserver Reserver) (Plan, error) {
	edges, err := tx.BundleComponents(ctx, bundle.ID)
	if err != nil {
		return Plan{}, err
	}
	if len(edges) == 0 {
		return Plan{}, fmt.Errorf("%w: bundle %q has no components", domain.ErrInvalidRequest, bundle.Name)
	}

	plan := Plan{BundleID: bundle.ID, Quantity: qty, Components: make([]ComponentNeed, 0, len(edges))}
	for _, edge := range edges {
		component, err := tx.ItemByID(ctx, edge.ComponentID)
		if err != nil {
			return Plan{}, fmt.Errorf("bundle %q component %s: %w", bundle.Name, edge.ComponentID, err)
		}
		if err := checkComponentKind(component); err != nil {
			return Plan{}, fmt.Errorf("bundle %q: %w", bundle.Name, err)
		}

		if qty <= 0 || edge.QtyPerUnit <= 0 || qty > math.MaxInt64/edge.QtyPerUnit {
			return Plan{}, fmt.Errorf("%w: bundle %q quantity %d of component %q is out of range",
				domain.ErrInvalidRequest, bundle.Name, qty, component.Name)
		}
		units := qty * edge.QtyPerUnit
		if err := reserver.Reserve(ctx, tx, component, units); err != nil {
			return Plan{}, fmt.Errorf("bundle %q: %w", bundle.Name, err)
		}
		plan.Components = append(plan.Components, ComponentNeed{
			ItemID: component.ID,
			Name:   component.Name,
			Units:  units,
		})
	}
	return plan, nil
}

// Commit списывает компоненты по плану и возвращает разбивку для provenance.
func (r *Resolver) Commit(ctx context.Context, tx domain.Tx, plan Plan) (domain.BundleProvenance, error) {
	prov := domain.BundleProvenance{Components: make([]domain.ComponentDraw, 0, len(plan.Components))}
	for _, need := range plan.Components {
		item, err := tx.ItemByID(ctx, need.ItemID)
		if err != nil {
			return domain.BundleProvenance{}, fmt.Errorf("%w: bundle %s component %s: %v",
				domain.ErrInvariantViolation, plan.BundleID, need.ItemID, err)
		}
		committer := &componentCommitter{ctx: ctx, tx: tx, item: item, units: need.Units, counter: r.counter, lots: r.lots}
		if err := domain.Dispatch(item.Fulfillment, committer); err != nil {
			return domain.BundleProvenance{}, err
		}
		prov.Components = append(prov.Components, committer.draw)
	}
	return prov, nil
}

// Restore повторяет записанную разбивку в обратную сторону, не обращаясь к текущему
// составу комплекта.
func (r *Resolver) Restore(ctx context.Context, tx domain.Tx, ref domain.LineRef, p domain.BundleProvenance) ([]domain.OrphanedRestoration, error) {
	var orphans []domain.OrphanedRestoration
	for _, draw := range p.Components {
		switch {
		case draw.Lots != nil:
			lotOrphans, err := r.lots.Restore(ctx, tx, ref, *draw.Lots)
			if err != nil {
				return nil, err
			}
			orphans = append(orphans, lotOrphans...)
		case draw.Unlimited:
			continue
		default:
			orphan, err := r.counter.Restore(ctx, tx, ref, draw.ItemID, draw.Units)
			if err != nil {
				return nil, err
			}
			if orphan != nil {
				orphans = append(orphans, *orphan)
			}
		}
	}
	return orphans, nil
}

// BlendedForeignCost возвращает стоимость одного комплекта в иностранной валюте как сумму
// цен компонентов. Если хотя бы у одного компонента нет такой цены, ok = false.
func (r *Resolver) BlendedForeignCost(ctx context.Context, tx domain.Tx, bundleID string) (decimal.Decimal, bool, error) {
	edges, err := tx.BundleComponents(ctx, bundleID)
	if err != nil {
		return decimal.Zero, false, err
	}
	if len(edges) == 0 {
		return decimal.Zero, false, nil
	}

	total := decimal.Zero
	for _, edge := range edges {
		item, err := tx.ItemByID(ctx, edge.ComponentID)
		if err != nil {
			return decimal.Zero, false, err
		}
		if !item.ForeignPrice.Valid {
			return decimal.Zero, false, nil
		}
		total = total.Add(item.ForeignPrice.Decimal.Mul(decimal.NewFromInt(edge.QtyPerUnit)))
	}
	return total, true, nil
}

// UnitCost возвращает себестоимость одного комплекта по разбивке списания.
func UnitCost(p domain.BundleProvenance, qty int64) decimal.Decimal {
	if qty <= 0 {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, draw := range p.Components {
		if draw.Lots != nil {
			total = total.Add(draw.Lots.TotalCost())
			continue
		}
		total = total.Add(draw.UnitCost.Mul(decimal.NewFromInt(draw.Units)))
	}
	return total.DivRound(decimal.NewFromInt(qty), domain.MoneyScale)
}

func checkComponentKind(item domain.Item) error {
	switch item.Fulfillment.(type) {
	case domain.Bundle:
		return fmt.Errorf("%w: component %q is itself a bundle", domain.ErrInvalidRequest, item.Name)
	case domain.CreditPool:
		return fmt.Errorf("%w: component %q is a credit-pool item", domain.ErrInvalidRequest, item.Name)
	}
	return nil
}

// availabilityCounter считает доступность компонента по его собственной стратегии.
type availabilityCounter struct {
	ctx  context.Context
	tx   domain.Tx
	item domain.Item
	lots *costlot.Inventory

	units     int64
	unlimited bool
}

func (p *availabilityCounter) PlainStock(domain.PlainStock) error {
	p.units, p.unlimited = stock.Available(p.item)
	return nil
}

func (p *availabilityCounter) CostLot(domain.CostLot) error {
	total, err := p.lots.TotalAvailable(p.ctx, p.tx, p.item.ID)
	p.units = total
	return err
}

func (p *availabilityCounter) CreditPool(domain.CreditPool) error {
	return checkComponentKind(p.item)
}

func (p *availabilityCounter) Bundle(domain.Bundle) error {
	return checkComponentKind(p.item)
}

// componentCommitter списывает один компонент по его текущей стратегии.
type componentCommitter struct {
	ctx     context.Context
	tx      domain.Tx
	item    domain.Item
	units   int64
	counter *stock.Counter
	lots    *costlot.Inventory

	draw domain.ComponentDraw
}

func (c *componentCommitter) PlainStock(domain.PlainStock) error {
	prov, unitCost, err := c.counter.Deduct(c.ctx, c.tx, c.item.ID, c.units)
	if err != nil {
		return err
	}
	c.draw = domain.ComponentDraw{
		ItemID:    c.item.ID,
		Name:      c.item.Name,
		Units:     c.units,
		Unlimited: prov.Unlimited,
		UnitCost:  unitCost,
	}
	return nil
}

func (c *componentCommitter) CostLot(domain.CostLot) error {
	prov, err := c.lots.Consume(c.ctx, c.tx, c.item.ID, c.units)
	if err != nil {
		return err
	}
	c.draw = domain.ComponentDraw{
		ItemID:   c.item.ID,
		Name:     c.item.Name,
		Units:    c.units,
		UnitCost: costlot.WeightedUnitCost(prov),
		Lots:     &prov,
	}
	return nil
}

func (c *componentCommitter) CreditPool(domain.CreditPool) error {
	return fmt.Errorf("%w: bundle component %q became a credit-pool item", domain.ErrInvariantViolation, c.item.Name)
}

func (c *componentCommitter) Bundle(domain.Bundle) error {
	return fmt.Errorf("%w: bundle component %q became a bundle", domain.ErrInvariantViolation, c.item.Name)
}
