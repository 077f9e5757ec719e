package fulfillment_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

var cashier = domain.Actor{ID: "cashier-1"}

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func newEngine(t *testing.T, store domain.Store, opts ...fulfillment.Option) *fulfillment.Engine {
	t.Helper()
	base := []fulfillment.Option{
		fulfillment.WithLogger(loggerForTests()),
		fulfillment.WithMetrics(metrics.NewFulfillmentMetricsWithRegisterer(prometheus.NewRegistry())),
	}
	return fulfillment.NewEngine(store, append(base, opts...)...)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fixture наполняет in-memory хранилище каталогом для тестов.
type fixture struct {
	t     *testing.T
	store *memory.Store
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, store: memory.NewStore()}
}

func (f *fixture) tx(fn func(ctx context.Context, tx domain.Tx) error) {
	f.t.Helper()
	require.NoError(f.t, f.store.WithinTx(context.Background(), fn))
}

func (f *fixture) plain(id, price string, stock int64) {
	f.t.Helper()
	f.tx(func(ctx context.Context, tx domain.Tx) error {
		return tx.PutItem(ctx, domain.Item{ID: id, Name: id, Price: dec(price), Fulfillment: domain.PlainStock{Stock: stock, UnitCost: dec("1")}})
	})
}

func (f *fixture) credit(id, name, price string, pool domain.CreditPool) {
	f.t.Helper()
	f.tx(func(ctx context.Context, tx domain.Tx) error {
		return tx.PutItem(ctx, domain.Item{ID: id, Name: name, Price: dec(price), Fulfillment: pool})
	})
}

func (f *fixture) account(id, family, balance string) {
	f.t.Helper()
	f.tx(func(ctx context.Context, tx domain.Tx) error {
		return tx.PutAccount(ctx, domain.CreditAccount{ID: id, Label: id, Family: family, Balance: dec(balance)})
	})
}

func (f *fixture) lotItem(id, price string, lots ...domain.CostLotRecord) {
	f.t.Helper()
	f.tx(func(ctx context.Context, tx domain.Tx) error {
		if err := tx.PutItem(ctx, domain.Item{ID: id, Name: id, Price: dec(price), Fulfillment: domain.CostLot{}}); err != nil {
			return err
		}
		for _, lot := range lots {
			lot.ItemID = id
			if err := tx.PutLot(ctx, lot); err != nil {
				return err
			}
		}
		return nil
	})
}

func (f *fixture) bundle(id, price string, edges ...domain.BundleComponent) {
	f.t.Helper()
	f.tx(func(ctx context.Context, tx domain.Tx) error {
		if err := tx.PutItem(ctx, domain.Item{ID: id, Name: id, Price: dec(price), Fulfillment: domain.Bundle{}}); err != nil {
			return err
		}
		for i := range edges {
			edges[i].BundleID = id
		}
		return tx.SetBundleComponents(ctx, id, edges)
	})
}

func (f *fixture) stock(id string) int64 {
	f.t.Helper()
	var item domain.Item
	f.tx(func(ctx context.Context, tx domain.Tx) error {
		var err error
		item, err = tx.ItemByID(ctx, id)
		return err
	})
	return item.Fulfillment.(domain.PlainStock).Stock
}

func (f *fixture) balance(id string) decimal.Decimal {
	f.t.Helper()
	var account domain.CreditAccount
	f.tx(func(ctx context.Context, tx domain.Tx) error {
		var err error
		account, err = tx.AccountByID(ctx, id)
		return err
	})
	return account.Balance
}

func (f *fixture) lotUnits(id string) int64 {
	f.t.Helper()
	var lot domain.CostLotRecord
	f.tx(func(ctx context.Context, tx domain.Tx) error {
		var err error
		lot, err = tx.LotByID(ctx, id)
		return err
	})
	return lot.Units
}

func TestCreateAndDelete_PlainStockRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.plain("card", "10", 5)
	engine := newEngine(t, f.store)
	ctx := context.Background()

	res, err := engine.Create(ctx, cashier, domain.CreateOrderRequest{
		Lines: []domain.CartLine{{ItemID: "card", Quantity: 3}},
	})
	require.NoError(t, err)
	require.True(t, res.Total.Equal(dec("30")))
	require.Equal(t, int64(2), f.stock("card"))

	order, err := engine.Get(ctx, res.OrderID)
	require.NoError(t, err)
	require.Len(t, order.Lines, 1)
	require.Equal(t, cashier.ID, order.CreatedBy)
	require.Equal(t, domain.PlainProvenance{Units: 3}, order.Lines[0].Provenance)

	require.NoError(t, engine.Delete(ctx, cashier, res.OrderID))
	require.Equal(t, int64(5), f.stock("card"))

	_, err = engine.Get(ctx, res.OrderID)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestCreate_NoPartialMutationOnValidationFailure(t *testing.T) {
	f := newFixture(t)
	f.plain("ok", "1", 10)
	f.plain("scarce", "1", 1)
	f.credit("gift", "Gift 5$", "4", domain.CreditPool{Family: domain.FamilyEmail})
	f.account("acc", domain.FamilyEmail, "100")
	f.lotItem("key", "3", domain.CostLotRecord{ID: "lot", UnitCost: dec("2"), Units: 4})
	engine := newEngine(t, f.store)

	_, err := engine.Create(context.Background(), cashier, domain.CreateOrderRequest{
		Lines: []domain.CartLine{
			{ItemID: "ok", Quantity: 2},
			{ItemID: "gift", Quantity: 1, AccountID: "acc"},
			{ItemID: "key", Quantity: 2},
			{ItemID: "scarce", Quantity: 2},
		},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientInventory)

	var shortfall *domain.ShortfallError
	require.True(t, errors.As(err, &shortfall))
	require.Equal(t, "scarce", shortfall.Item)
	require.Equal(t, "1", shortfall.Available)
	require.Equal(t, "2", shortfall.Requested)

	require.Equal(t, int64(10), f.stock("ok"))
	require.Equal(t, int64(1), f.stock("scarce"))
	require.True(t, f.balance("acc").Equal(dec("100")))
	require.Equal(t, int64(4), f.lotUnits("lot"))
	require.Empty(t, f.store.PendingMessages())
}

func TestCreate_RunningBalanceAcrossLinesOfOneCart(t *testing.T) {
	f := newFixture(t)
	f.credit("gift", "Gift", "1", domain.CreditPool{Family: domain.FamilyEmail, FaceValue: decimal.NewNullDecimal(dec("60"))})
	f.account("acc", domain.FamilyEmail, "100")
	engine := newEngine(t, f.store)

	_, err := engine.Create(context.Background(), cashier, domain.CreateOrderRequest{
		Lines: []domain.CartLine{
			{ItemID: "gift", Quantity: 1, AccountID: "acc"},
			{ItemID: "gift", Quantity: 1, AccountID: "acc"},
		},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientInventory)
	require.True(t, f.balance("acc").Equal(dec("100")))
}

func TestCreate_FaceValueParsedFromName(t *testing.T) {
	f := newFixture(t)
	f.credit("card", "50$", "45", domain.CreditPool{Family: domain.FamilyEmail})
	f.account("acc", domain.FamilyEmail, "150")
	engine := newEngine(t, f.store)
	ctx := context.Background()

	res, err := engine.Create(ctx, cashier, domain.CreateOrderRequest{
		Lines: []domain.CartLine{{ItemID: "card", Quantity: 2, AccountID: "acc"}},
	})
	require.NoError(t, err)
	require.True(t, res.Total.Equal(dec("90")), "total uses price, got %s", res.Total)
	require.True(t, f.balance("acc").Equal(dec("50")), "credits use face value, got %s", f.balance("acc"))

	require.NoError(t, engine.Delete(ctx, cashier, res.OrderID))
	require.True(t, f.balance("acc").Equal(dec("150")))
}

func TestCreate_CreditPoolParameters(t *testing.T) {
	f := newFixture(t)
	f.credit("razer", "Razer Gold", "10", domain.CreditPool{Family: domain.FamilyRazer})
	f.credit("apple", "Apple 10$", "10", domain.CreditPool{Family: domain.FamilyEmail})
	f.account("razer-acc", domain.FamilyRazer, "20")
	f.account("email-acc", domain.FamilyEmail, "20")
	engine := newEngine(t, f.store)
	ctx := context.Background()

	_, err := engine.Create(ctx, cashier, domain.CreateOrderRequest{
		Lines: []domain.CartLine{{ItemID: "apple", Quantity: 1}},
	})
	require.ErrorIs(t, err, domain.ErrMissingParameter)

	_, err = engine.Create(ctx, cashier, domain.CreateOrderRequest{
		Lines: []domain.CartLine{{ItemID: "razer", Quantity: 1, AccountID: "razer-acc"}},
	})
	require.ErrorIs(t, err, domain.ErrMissingParameter)

	_, err = engine.Create(ctx, cashier, domain.CreateOrderRequest{
		Lines: []domain.CartLine{{ItemID: "apple", Quantity: 1, AccountID: "razer-acc"}},
	})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = engine.Create(ctx, cashier, domain.CreateOrderRequest{
		Lines: []domain.CartLine{{ItemID: "apple", Quantity: 1, AccountID: "missing"}},
	})
	require.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = engine.Create(ctx, cashier, domain.CreateOrderRequest{
		Lines: []domain.CartLine{{ItemID: "razer", Quantity: 3, AccountID: "razer-acc", CreditAmount: decimal.NewNullDecimal(dec("7.25"))}},
	})
	require.NoError(t, err)
	require.True(t, f.balance("razer-acc").Equal(dec("12.75")))
}

func TestCreate_CreditAmountBeyondStorageScaleIsRejected(t *testing.T) {
	f := newFixture(t)
	f.credit("razer", "Razer Gold", "10", domain.CreditPool{Family: domain.FamilyRazer})
	f.account("razer-acc", domain.FamilyRazer, "20")
	engine := newEngine(t, f.store)
	ctx := context.Background()

	_, err := engine.Create(ctx, cashier, domain.CreateOrderRequest{
		Lines: []domain.CartLine{{ItemID: "razer", Quantity: 1, AccountID: "razer-acc", CreditAmount: decimal.NewNullDecimal(dec("0.00005"))}},
	})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
	require.True(t, f.balance("razer-acc").Equal(dec("20")))
	require.Empty(t, f.store.PendingMessages())

	_, err = engine.Create(ctx, cashier, domain.CreateOrderRequest{
		Lines:         []domain.CartLine{{ItemID: "razer", Quantity: 1, AccountID: "razer-acc", CreditAmount: decimal.NewNullDecimal(dec("5"))}},
		PaymentAmount: decimal.NewNullDecimal(dec("9.99999")),
	})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
	require.True(t, f.balance("razer-acc").Equal(dec("20")))

	// Списание и возврат точной суммы сохраняют баланс без дрейфа.
	res, err := engine.Create(ctx, cashier, domain.CreateOrderRequest{
		Lines: []domain.CartLine{{ItemID: "razer", Quantity: 1, AccountID: "razer-acc", CreditAmount: decimal.NewNullDecimal(dec("0.0001"))}},
	})
	require.NoError(t, err)
	require.True(t, f.balance("razer-acc").Equal(dec("19.9999")))
	require.NoError(t, engine.Delete(ctx, cashier, res.OrderID))
	require.True(t, f.balance("razer-acc").Equal(dec("20")))
}

func TestCreate_CostLotFIFOAndExactRestore(t *testing.T) {
	f := newFixture(t)
	f.lotItem("key", "30",
		domain.CostLotRecord{ID: "expensive", UnitCost: dec("20"), Units: 5},
		domain.CostLotRecord{ID: "cheap", UnitCost: dec("10"), Units: 3},
	)
	engine := newEngine(t, f.store)
	ctx := context.Background()

	res, err := engine.Create(ctx, cashier, domain.CreateOrderRequest{
		Lines: []domain.CartLine{{ItemID: "key", Quantity: 4}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), f.lotUnits("cheap"))
	require.Equal(t, int64(4), f.lotUnits("expensive"))

	order, err := engine.Get(ctx, res.OrderID)
	require.NoError(t, err)
	prov, ok := order.Lines[0].Provenance.(domain.LotProvenance)
	require.True(t, ok)
	require.Equal(t, "cheap", prov.FirstLotID)
	require.True(t, prov.FirstLotCost.Equal(dec("10")))
	require.True(t, order.Lines[0].UnitCost.Equal(dec("12.5")))

	require.NoError(t, engine.Delete(ctx, cashier, res.OrderID))
	require.Equal(t, int64(3), f.lotUnits("cheap"))
	require.Equal(t, int64(5), f.lotUnits("expensive"))
}

func TestCreate_BundleEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.plain("x", "1", 10)
	f.plain("y", "1", 4)
	f.bundle("bundle-a", "25",
		domain.BundleComponent{ComponentID: "x", QtyPerUnit: 2},
		domain.BundleComponent{ComponentID: "y", QtyPerUnit: 1},
	)
	engine := newEngine(t, f.store)
	ctx := context.Background()

	effective, err := engine.EffectiveStock(ctx, "bundle-a")
	require.NoError(t, err)
	require.Equal(t, int64(4), effective)

	res, err := engine.Create(ctx, cashier, domain.CreateOrderRequest{
		Lines: []domain.CartLine{{ItemID: "bundle-a", Quantity: 2}},
	})
	require.NoError(t, err)
	require.True(t, res.Total.Equal(dec("50")))
	require.Equal(t, int64(6), f.stock("x"))
	require.Equal(t, int64(2), f.stock("y"))

	require.NoError(t, engine.Delete(ctx, cashier, res.OrderID))
	require.Equal(t, int64(10), f.stock("x"))
	require.Equal(t, int64(4), f.stock("y"))
}

func TestCreate_SharedComponentAcrossLines(t *testing.T) {
	f := newFixture(t)
	f.plain("x", "1", 4)
	f.bundle("pair", "3", domain.BundleComponent{ComponentID: "x", QtyPerUnit: 2})
	engine := newEngine(t, f.store)

	_, err := engine.Create(context.Background(), cashier, domain.CreateOrderRequest{
		Lines: []domain.CartLine{
			{ItemID: "x", Quantity: 3},
			{ItemID: "pair", Quantity: 1},
		},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientInventory)
	require.Equal(t, int64(4), f.stock("x"))
}

func TestCreate_BundleQuantityOverflowIsRejected(t *testing.T) {
	f := newFixture(t)
	f.plain("x", "1", 10)
	f.lotItem("key", "1", domain.CostLotRecord{ID: "lot-1", UnitCost: dec("1"), Units: 3})
	f.bundle("b", "1",
		domain.BundleComponent{ComponentID: "x", QtyPerUnit: 2},
		domain.BundleComponent{ComponentID: "key", QtyPerUnit: 2},
	)
	engine := newEngine(t, f.store)

	_, err := engine.Create(context.Background(), cashier, domain.CreateOrderRequest{
		Lines: []domain.CartLine{{ItemID: "b", Quantity: 1 << 62}},
	})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	require.Equal(t, int64(10), f.stock("x"))
	require.Equal(t, int64(3), f.lotUnits("lot-1"))
	require.Empty(t, f.store.PendingMessages())
}

func TestCreate_UnlimitedStockSentinel(t *testing.T) {
	f := newFixture(t)
	f.plain("service", "2", domain.UnlimitedStock)
	engine := newEngine(t, f.store)
	ctx := context.Background()

	res, err := engine.Create(ctx, cashier, domain.CreateOrderRequest{
		Lines: []domain.CartLine{{ItemID: "service", Quantity: 100000}},
	})
	require.NoError(t, err)
	require.Equal(t, domain.UnlimitedStock, f.stock("service"))

	require.NoError(t, engine.Delete(ctx, cashier, res.OrderID))
	require.Equal(t, domain.UnlimitedStock, f.stock("service"))
}

func TestCreate_RequestValidation(t *testing.T) {
	f := newFixture(t)
	f.plain("card", "1", 1)
	engine := newEngine(t, f.store)
	ctx := context.Background()

	tests := []struct {
		name  string
		actor domain.Actor
		req   domain.CreateOrderRequest
		want  error
	}{
		{
			name:  "unauthenticated",
			actor: domain.Actor{},
			req:   domain.CreateOrderRequest{Lines: []domain.CartLine{{ItemID: "card", Quantity: 1}}},
			want:  domain.ErrUnauthenticated,
		},
		{
			name:  "empty cart",
			actor: cashier,
			want:  domain.ErrItemsRequired,
		},
		{
			name:  "zero quantity",
			actor: cashier,
			req:   domain.CreateOrderRequest{Lines: []domain.CartLine{{ItemID: "card", Quantity: 0}}},
			want:  domain.ErrItemQtyInvalid,
		},
		{
			name:  "negative payment",
			actor: cashier,
			req: domain.CreateOrderRequest{
				Lines:         []domain.CartLine{{ItemID: "card", Quantity: 1}},
				PaymentAmount: decimal.NewNullDecimal(dec("-1")),
			},
			want: domain.ErrPaymentAmountNegative,
		},
		{
			name:  "unknown item",
			actor: cashier,
			req:   domain.CreateOrderRequest{Lines: []domain.CartLine{{ItemID: "ghost", Quantity: 1}}},
			want:  domain.ErrItemNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Create(ctx, tt.actor, tt.req)
			require.ErrorIs(t, err, tt.want)
			require.Equal(t, int64(1), f.stock("card"))
		})
	}
}

func TestDelete_OrphanedRestorations(t *testing.T) {
	f := newFixture(t)
	f.credit("gift", "Gift 10$", "9", domain.CreditPool{Family: domain.FamilyEmail})
	f.account("acc", domain.FamilyEmail, "50")
	f.account("sibling", domain.FamilyEmail, "5")
	f.lotItem("key", "3", domain.CostLotRecord{ID: "lot", UnitCost: dec("2"), Units: 4})
	engine := newEngine(t, f.store)
	ctx := context.Background()

	res, err := engine.Create(ctx, cashier, domain.CreateOrderRequest{
		Lines: []domain.CartLine{
			{ItemID: "gift", Quantity: 1, AccountID: "acc"},
			{ItemID: "key", Quantity: 2},
		},
	})
	require.NoError(t, err)

	f.tx(func(ctx context.Context, tx domain.Tx) error {
		if err := tx.DeleteAccount(ctx, "acc"); err != nil {
			return err
		}
		return tx.DeleteLot(ctx, "lot")
	})

	require.NoError(t, engine.Delete(ctx, cashier, res.OrderID))
	require.True(t, f.balance("sibling").Equal(dec("5")), "sibling must not be credited by default")

	orphans, err := engine.ListOrphans(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orphans, 2)
	kinds := map[domain.RestorationKind]domain.OrphanedRestoration{}
	for _, o := range orphans {
		require.Equal(t, res.OrderID, o.OrderID)
		require.NotEmpty(t, o.ID)
		kinds[o.Kind] = o
	}
	require.True(t, kinds[domain.RestorationCredit].Amount.Equal(dec("10")))
	require.Equal(t, "acc", kinds[domain.RestorationCredit].TargetID)
	require.Equal(t, int64(2), kinds[domain.RestorationLot].Units)

	var eventTypes []string
	for _, msg := range f.store.PendingMessages() {
		eventTypes = append(eventTypes, msg.EventType)
	}
	require.ElementsMatch(t, []string{domain.EventOrderCreated, domain.EventOrderDeleted, domain.EventRestorationDrift}, eventTypes)
}

func TestDelete_LegacyCreditFallback(t *testing.T) {
	f := newFixture(t)
	f.credit("gift", "Gift", "8", domain.CreditPool{Family: domain.FamilyEmail})
	f.account("acc", domain.FamilyEmail, "50")
	engine := newEngine(t, f.store, fulfillment.WithLegacyCreditFallback(true))
	ctx := context.Background()

	res, err := engine.Create(ctx, cashier, domain.CreateOrderRequest{
		Lines: []domain.CartLine{{ItemID: "gift", Quantity: 1, AccountID: "acc"}},
	})
	require.NoError(t, err)

	f.tx(func(ctx context.Context, tx domain.Tx) error { return tx.DeleteAccount(ctx, "acc") })
	f.account("fallback", domain.FamilyEmail, "1")

	require.NoError(t, engine.Delete(ctx, cashier, res.OrderID))
	require.True(t, f.balance("fallback").Equal(dec("9")))

	orphans, err := engine.ListOrphans(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, orphans)
}

func TestDelete_Errors(t *testing.T) {
	engine := newEngine(t, memory.NewStore())
	ctx := context.Background()

	require.ErrorIs(t, engine.Delete(ctx, cashier, "missing"), domain.ErrOrderNotFound)
	require.ErrorIs(t, engine.Delete(ctx, domain.Actor{}, "missing"), domain.ErrUnauthenticated)
	require.ErrorIs(t, engine.Delete(ctx, cashier, " "), domain.ErrInvalidRequest)
}

func TestCreate_EnqueuesOrderCreatedEvent(t *testing.T) {
	f := newFixture(t)
	f.plain("card", "2.5", 3)
	engine := newEngine(t, f.store)

	res, err := engine.Create(context.Background(), cashier, domain.CreateOrderRequest{
		Lines: []domain.CartLine{{ItemID: "card", Quantity: 2}},
	})
	require.NoError(t, err)

	messages := f.store.PendingMessages()
	require.Len(t, messages, 1)
	require.Equal(t, domain.EventOrderCreated, messages[0].EventType)
	require.Equal(t, res.OrderID, messages[0].AggregateID)

	var payload fulfillment.OrderCreatedEvent
	require.NoError(t, json.Unmarshal(messages[0].Payload, &payload))
	require.Equal(t, "5", payload.Total)
	require.Len(t, payload.Lines, 1)
	require.Equal(t, "plain", payload.Lines[0].Strategy)
}

func TestCreate_ConcurrentCartsDoNotOverdraw(t *testing.T) {
	f := newFixture(t)
	f.credit("gift", "Gift", "1", domain.CreditPool{Family: domain.FamilyEmail, FaceValue: decimal.NewNullDecimal(dec("20"))})
	f.account("acc", domain.FamilyEmail, "100")
	engine := newEngine(t, f.store)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Create(context.Background(), cashier, domain.CreateOrderRequest{
				Lines: []domain.CartLine{{ItemID: "gift", Quantity: 1, AccountID: "acc"}},
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 5, succeeded)
	require.True(t, f.balance("acc").IsZero())
}

// failingStore подменяет запись остатка ошибкой, имитируя сбой хранилища на фазе записи.
type failingStore struct {
	*memory.Store
}

type failingTx struct {
	domain.Tx
}

func (failingTx) SetItemStock(context.Context, string, int64) error {
	return errors.New("storage unavailable")
}

func (s failingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return fn(ctx, failingTx{Tx: tx})
	})
}

func TestCreate_CommitFailureIsInvariantViolation(t *testing.T) {
	f := newFixture(t)
	f.plain("card", "1", 5)
	f.account("acc", domain.FamilyEmail, "10")
	f.credit("gift", "Gift", "1", domain.CreditPool{Family: domain.FamilyEmail, FaceValue: decimal.NewNullDecimal(dec("4"))})
	engine := newEngine(t, failingStore{Store: f.store})

	_, err := engine.Create(context.Background(), cashier, domain.CreateOrderRequest{
		Lines: []domain.CartLine{
			{ItemID: "gift", Quantity: 1, AccountID: "acc"},
			{ItemID: "card", Quantity: 1},
		},
	})
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
	require.False(t, domain.IsUserError(err))

	require.True(t, f.balance("acc").Equal(dec("10")), "credit deduction of the first line must be rolled back")
	require.Equal(t, int64(5), f.stock("card"))
}

func TestAvailableAccounts(t *testing.T) {
	f := newFixture(t)
	f.account("low", domain.FamilyEmail, "1")
	f.account("high", domain.FamilyEmail, "30")
	engine := newEngine(t, f.store)

	accounts, err := engine.AvailableAccounts(context.Background(), "email", dec("5"))
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "high", accounts[0].AccountID)

	_, err = engine.AvailableAccounts(context.Background(), "", decimal.Zero)
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestEffectiveStock_RejectsNonBundle(t *testing.T) {
	f := newFixture(t)
	f.plain("card", "1", 1)
	engine := newEngine(t, f.store)

	_, err := engine.EffectiveStock(context.Background(), "card")
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestList_NewestFirst(t *testing.T) {
	f := newFixture(t)
	f.plain("card", "1", 10)
	ctx := context.Background()

	tick := 0
	engine := newEngine(t, f.store, fulfillment.WithClock(func() time.Time {
		tick++
		return time.Date(2024, 1, 1, 0, tick, 0, 0, time.UTC)
	}))

	first, err := engine.Create(ctx, cashier, domain.CreateOrderRequest{Lines: []domain.CartLine{{ItemID: "card", Quantity: 1}}})
	require.NoError(t, err)
	second, err := engine.Create(ctx, cashier, domain.CreateOrderRequest{Lines: []domain.CartLine{{ItemID: "card", Quantity: 1}}})
	require.NoError(t, err)

	orders, err := engine.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, second.OrderID, orders[0].ID)
	require.Equal(t, first.OrderID, orders[1].ID)
}
