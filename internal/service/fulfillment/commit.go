package fulfillment

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/bundle"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/costlot"
)

// lineCommitter списывает одну проверенную строку и запоминает provenance и себестоимость.
type lineCommitter struct {
	engine *Engine
	ctx    context.Context
	tx     domain.Tx
	item   domain.Item
	line   domain.CartLine
	plan   bundle.Plan
	credit creditReservation

	provenance domain.Provenance
	unitCost   decimal.Decimal
}

func (c *lineCommitter) PlainStock(domain.PlainStock) error {
	prov, unitCost, err := c.engine.counter.Deduct(c.ctx, c.tx, c.item.ID, c.line.Quantity)
	if err != nil {
		return err
	}
	c.provenance = prov
	c.unitCost = unitCost
	return nil
}

func (c *lineCommitter) CostLot(domain.CostLot) error {
	prov, err := c.engine.lots.Consume(c.ctx, c.tx, c.item.ID, c.line.Quantity)
	if err != nil {
		return err
	}
	c.provenance = prov
	c.unitCost = costlot.WeightedUnitCost(prov)
	return nil
}

func (c *lineCommitter) Bundle(domain.Bundle) error {
	if c.plan.BundleID != c.item.ID {
		return fmt.Errorf("%w: no validated plan for bundle %q", domain.ErrInvariantViolation, c.item.Name)
	}
	prov, err := c.engine.resolver.Commit(c.ctx, c.tx, c.plan)
	if err != nil {
		return err
	}
	c.provenance = prov
	c.unitCost = bundle.UnitCost(prov, c.line.Quantity)
	return nil
}

func (c *lineCommitter) CreditPool(domain.CreditPool) error {
	if c.credit.AccountID == "" {
		return fmt.Errorf("%w: no validated credit reservation for %q", domain.ErrInvariantViolation, c.item.Name)
	}
	if err := c.engine.ledger.Deduct(c.ctx, c.tx, c.credit.AccountID, c.credit.Amount); err != nil {
		return err
	}
	c.provenance = domain.CreditProvenance{
		AccountID: c.credit.AccountID,
		Family:    c.credit.Family,
		Amount:    c.credit.Amount,
	}
	c.unitCost = decimal.Zero
	return nil
}
