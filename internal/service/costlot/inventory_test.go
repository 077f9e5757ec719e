package costlot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func seedLots(t *testing.T, store *memory.Store, itemID string, lots ...domain.CostLotRecord) {
	t.Helper()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if err := tx.PutItem(ctx, domain.Item{ID: itemID, Name: itemID, Fulfillment: domain.CostLot{}}); err != nil {
			return err
		}
		for i, lot := range lots {
			lot.ItemID = itemID
			lot.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			if err := tx.PutLot(ctx, lot); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed lots: %v", err)
	}
}

func unitsOf(t *testing.T, store *memory.Store, lotID string) int64 {
	t.Helper()

	var lot domain.CostLotRecord
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		lot, err = tx.LotByID(ctx, lotID)
		return err
	})
	if err != nil {
		t.Fatalf("read lot %s: %v", lotID, err)
	}
	return lot.Units
}

func TestConsume_CheapestLotFirst(t *testing.T) {
	store := memory.NewStore()
	// Дорогая партия создана раньше, но расходуется второй.
	seedLots(t, store, "key",
		domain.CostLotRecord{ID: "expensive", UnitCost: decimal.NewFromInt(20), Units: 5},
		domain.CostLotRecord{ID: "cheap", UnitCost: decimal.NewFromInt(10), Units: 3},
	)
	inv := NewInventory()

	var prov domain.LotProvenance
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		prov, err = inv.Consume(ctx, tx, "key", 4)
		return err
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	if got := unitsOf(t, store, "cheap"); got != 0 {
		t.Fatalf("expected cheap lot to be empty, got %d", got)
	}
	if got := unitsOf(t, store, "expensive"); got != 4 {
		t.Fatalf("expected expensive lot to keep 4, got %d", got)
	}
	if prov.FirstLotID != "cheap" || !prov.FirstLotCost.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected first lot cheap@10, got %s@%s", prov.FirstLotID, prov.FirstLotCost)
	}
	if len(prov.Draws) != 2 || prov.Draws[0].Units != 3 || prov.Draws[1].Units != 1 {
		t.Fatalf("unexpected draws: %+v", prov.Draws)
	}
	if got := WeightedUnitCost(prov); !got.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("expected weighted cost 12.5, got %s", got)
	}
}

func TestTotalAvailable(t *testing.T) {
	store := memory.NewStore()
	seedLots(t, store, "key",
		domain.CostLotRecord{ID: "a", UnitCost: decimal.NewFromInt(1), Units: 2},
		domain.CostLotRecord{ID: "b", UnitCost: decimal.NewFromInt(2), Units: 0},
		domain.CostLotRecord{ID: "c", UnitCost: decimal.NewFromInt(3), Units: 6},
	)

	var total int64
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		total, err = NewInventory().TotalAvailable(ctx, tx, "key")
		return err
	})
	if err != nil {
		t.Fatalf("total available: %v", err)
	}
	if total != 8 {
		t.Fatalf("expected 8, got %d", total)
	}
}

func TestConsume_ShortfallIsInvariantViolation(t *testing.T) {
	store := memory.NewStore()
	seedLots(t, store, "key", domain.CostLotRecord{ID: "a", UnitCost: decimal.NewFromInt(1), Units: 2})

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := NewInventory().Consume(ctx, tx, "key", 3)
		return err
	})
	if !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	if got := unitsOf(t, store, "a"); got != 2 {
		t.Fatalf("failed transaction must not change lot, got %d", got)
	}
}

func TestConsume_NonPositiveQuantityRejected(t *testing.T) {
	store := memory.NewStore()
	seedLots(t, store, "key", domain.CostLotRecord{ID: "a", UnitCost: decimal.NewFromInt(1), Units: 3})

	for _, qty := range []int64{0, -5} {
		err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
			_, err := NewInventory().Consume(ctx, tx, "key", qty)
			return err
		})
		if !errors.Is(err, domain.ErrInvariantViolation) {
			t.Fatalf("qty=%d: expected invariant violation, got %v", qty, err)
		}
	}
	if got := unitsOf(t, store, "a"); got != 3 {
		t.Fatalf("lot must keep 3 units, got %d", got)
	}
}

func TestRestore_ExactPerLot(t *testing.T) {
	store := memory.NewStore()
	seedLots(t, store, "key",
		domain.CostLotRecord{ID: "cheap", UnitCost: decimal.NewFromInt(10), Units: 3},
		domain.CostLotRecord{ID: "expensive", UnitCost: decimal.NewFromInt(20), Units: 5},
	)
	inv := NewInventory()
	ref := domain.LineRef{OrderID: "o", LineID: "l"}

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		prov, err := inv.Consume(ctx, tx, "key", 4)
		if err != nil {
			return err
		}
		orphans, err := inv.Restore(ctx, tx, ref, prov)
		if len(orphans) != 0 {
			t.Fatalf("unexpected orphans: %+v", orphans)
		}
		return err
	})
	if err != nil {
		t.Fatalf("consume and restore: %v", err)
	}
	if unitsOf(t, store, "cheap") != 3 || unitsOf(t, store, "expensive") != 5 {
		t.Fatal("lots must return to their original counts")
	}
}

func TestRestore_DeletedLotProducesOrphan(t *testing.T) {
	store := memory.NewStore()
	seedLots(t, store, "key", domain.CostLotRecord{ID: "alive", UnitCost: decimal.NewFromInt(5), Units: 0})
	ref := domain.LineRef{OrderID: "o", LineID: "l"}
	prov := domain.LotProvenance{
		FirstLotID:   "gone",
		FirstLotCost: decimal.NewFromInt(4),
		Draws: []domain.LotDraw{
			{LotID: "gone", UnitCost: decimal.NewFromInt(4), Units: 2},
			{LotID: "alive", UnitCost: decimal.NewFromInt(5), Units: 1},
		},
	}

	var orphans []domain.OrphanedRestoration
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		orphans, err = NewInventory().Restore(ctx, tx, ref, prov)
		return err
	})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(orphans) != 1 {
		t.Fatalf("expected 1 orphan, got %d", len(orphans))
	}
	if orphans[0].Kind != domain.RestorationLot || orphans[0].TargetID != "gone" || orphans[0].Units != 2 {
		t.Fatalf("unexpected orphan: %+v", orphans[0])
	}
	if got := unitsOf(t, store, "alive"); got != 1 {
		t.Fatalf("surviving lot must be restored, got %d", got)
	}
}

func TestWeightedUnitCost_RoundedToMoneyScale(t *testing.T) {
	prov := domain.LotProvenance{
		Draws: []domain.LotDraw{
			{LotID: "a", UnitCost: decimal.NewFromInt(1), Units: 1},
			{LotID: "b", UnitCost: decimal.Zero, Units: 2},
		},
	}
	if got := WeightedUnitCost(prov); !got.Equal(decimal.RequireFromString("0.3333")) {
		t.Fatalf("expected 0.3333, got %s", got)
	}
}
