package fulfillment

import (
	"context"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// lineRestorer возвращает списанное по provenance строки. Текущая стратегия товара
// не используется: каталог мог измениться после продажи.
type lineRestorer struct {
	engine *Engine
	ctx    context.Context
	tx     domain.Tx
	line   domain.OrderLine
	ref    domain.LineRef

	orphans []domain.OrphanedRestoration
}

func (r *lineRestorer) Plain(p domain.PlainProvenance) error {
	if p.Unlimited {
		return nil
	}
	orphan, err := r.engine.counter.Restore(r.ctx, r.tx, r.ref, r.line.ItemID, p.Units)
	if err != nil {
		return err
	}
	if orphan != nil {
		r.orphans = append(r.orphans, *orphan)
	}
	return nil
}

func (r *lineRestorer) Credit(p domain.CreditProvenance) error {
	orphan, err := r.engine.ledger.Restore(r.ctx, r.tx, r.ref, p)
	if err != nil {
		return err
	}
	if orphan != nil {
		r.orphans = append(r.orphans, *orphan)
	}
	return nil
}

func (r *lineRestorer) Lots(p domain.LotProvenance) error {
	orphans, err := r.engine.lots.Restore(r.ctx, r.tx, r.ref, p)
	if err != nil {
		return err
	}
	r.orphans = append(r.orphans, orphans...)
	return nil
}

func (r *lineRestorer) Bundle(p domain.BundleProvenance) error {
	orphans, err := r.engine.resolver.Restore(r.ctx, r.tx, r.ref, p)
	if err != nil {
		return err
	}
	r.orphans = append(r.orphans, orphans...)
	return nil
}
