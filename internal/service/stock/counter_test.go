package stock

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func seedItem(t *testing.T, store *memory.Store, item domain.Item) {
	t.Helper()
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.PutItem(ctx, item)
	})
	if err != nil {
		t.Fatalf("seed item: %v", err)
	}
}

func stockOf(t *testing.T, store *memory.Store, id string) int64 {
	t.Helper()
	var item domain.Item
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		item, err = tx.ItemByID(ctx, id)
		return err
	})
	if err != nil {
		t.Fatalf("read item: %v", err)
	}
	return item.Fulfillment.(domain.PlainStock).Stock
}

func TestDeduct_DecrementsStock(t *testing.T) {
	store := memory.NewStore()
	seedItem(t, store, domain.Item{ID: "card", Name: "Card", Fulfillment: domain.PlainStock{Stock: 5, UnitCost: decimal.NewFromInt(3)}})
	counter := NewCounter()

	var prov domain.PlainProvenance
	var cost decimal.Decimal
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		prov, cost, err = counter.Deduct(ctx, tx, "card", 3)
		return err
	})
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if prov.Units != 3 || prov.Unlimited {
		t.Fatalf("unexpected provenance: %+v", prov)
	}
	if !cost.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected unit cost 3, got %s", cost)
	}
	if got := stockOf(t, store, "card"); got != 2 {
		t.Fatalf("expected stock 2, got %d", got)
	}
}

func TestDeduct_UnlimitedStockUnchanged(t *testing.T) {
	store := memory.NewStore()
	seedItem(t, store, domain.Item{ID: "svc", Name: "Service", Fulfillment: domain.PlainStock{Stock: domain.UnlimitedStock}})
	counter := NewCounter()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		prov, _, err := counter.Deduct(ctx, tx, "svc", 1000)
		if !prov.Unlimited {
			t.Fatal("expected unlimited provenance")
		}
		return err
	})
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if got := stockOf(t, store, "svc"); got != domain.UnlimitedStock {
		t.Fatalf("unlimited stock must stay -1, got %d", got)
	}
}

func TestDeduct_ShortfallIsInvariantViolation(t *testing.T) {
	store := memory.NewStore()
	seedItem(t, store, domain.Item{ID: "card", Name: "Card", Fulfillment: domain.PlainStock{Stock: 1}})

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, _, err := NewCounter().Deduct(ctx, tx, "card", 2)
		return err
	})
	if !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestDeduct_NonPositiveUnitsRejected(t *testing.T) {
	store := memory.NewStore()
	seedItem(t, store, domain.Item{ID: "card", Name: "Card", Fulfillment: domain.PlainStock{Stock: 10}})

	for _, units := range []int64{0, -8} {
		err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
			_, _, err := NewCounter().Deduct(ctx, tx, "card", units)
			return err
		})
		if !errors.Is(err, domain.ErrInvariantViolation) {
			t.Fatalf("units=%d: expected invariant violation, got %v", units, err)
		}
	}
	if got := stockOf(t, store, "card"); got != 10 {
		t.Fatalf("stock must stay 10, got %d", got)
	}
}

func TestRestore(t *testing.T) {
	store := memory.NewStore()
	seedItem(t, store, domain.Item{ID: "card", Name: "Card", Fulfillment: domain.PlainStock{Stock: 1}})
	seedItem(t, store, domain.Item{ID: "moved", Name: "Moved", Fulfillment: domain.CostLot{}})
	counter := NewCounter()
	ref := domain.LineRef{OrderID: "o", LineID: "l"}

	var orphans []*domain.OrphanedRestoration
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		for _, id := range []string{"card", "moved", "gone"} {
			orphan, err := counter.Restore(ctx, tx, ref, id, 4)
			if err != nil {
				return err
			}
			orphans = append(orphans, orphan)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	if orphans[0] != nil {
		t.Fatalf("existing plain item must be restored, got orphan %+v", orphans[0])
	}
	if got := stockOf(t, store, "card"); got != 5 {
		t.Fatalf("expected stock 5, got %d", got)
	}
	for i, id := range []string{"moved", "gone"} {
		o := orphans[i+1]
		if o == nil || o.Kind != domain.RestorationStock || o.TargetID != id || o.Units != 4 {
			t.Fatalf("expected stock orphan for %s, got %+v", id, o)
		}
	}
}

func TestAvailable(t *testing.T) {
	if n, unlimited := Available(domain.Item{Fulfillment: domain.PlainStock{Stock: 7}}); n != 7 || unlimited {
		t.Fatalf("expected 7 limited, got %d %v", n, unlimited)
	}
	if _, unlimited := Available(domain.Item{Fulfillment: domain.PlainStock{Stock: domain.UnlimitedStock}}); !unlimited {
		t.Fatal("expected unlimited")
	}
	if n, unlimited := Available(domain.Item{Fulfillment: domain.CostLot{}}); n != 0 || unlimited {
		t.Fatalf("non-plain item has no counter, got %d %v", n, unlimited)
	}
}
