package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// state хранит полный снимок данных. Транзакция работает с копией и подменяет
// текущий снимок только при успешном завершении.
type state struct {
	items      map[string]domain.Item
	components map[string][]domain.BundleComponent
	lots       map[string]domain.CostLotRecord
	accounts   map[string]domain.CreditAccount
	orders     map[string]domain.Order
	orphans    []domain.OrphanedRestoration
	outbox     map[string]*outboxRecord
}

func newState() *state {
	return &state{
		items:      make(map[string]domain.Item),
		components: make(map[string][]domain.BundleComponent),
		lots:       make(map[string]domain.CostLotRecord),
		accounts:   make(map[string]domain.CreditAccount),
		orders:     make(map[string]domain.Order),
		outbox:     make(map[string]*outboxRecord),
	}
}

func (s *state) clone() *state {
	dst := newState()
	for k, v := range s.items {
		dst.items[k] = v
	}
	for k, v := range s.components {
		dst.components[k] = append([]domain.BundleComponent(nil), v...)
	}
	for k, v := range s.lots {
		dst.lots[k] = v
	}
	for k, v := range s.accounts {
		dst.accounts[k] = v
	}
	for k, v := range s.orders {
		dst.orders[k] = cloneOrder(v)
	}
	dst.orphans = append([]domain.OrphanedRestoration(nil), s.orphans...)
	for k, v := range s.outbox {
		rec := *v
		dst.outbox[k] = &rec
	}
	return dst
}

func cloneOrder(o domain.Order) domain.Order {
	o.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return o
}

// Store: in-memory реализация domain.Store. Транзакции сериализуются одним мьютексом,
// что соответствует однопользовательской модели записи.
type Store struct {
	mu      sync.Mutex
	current *state
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{current: newState()}
}

// WithinTx выполняет fn над копией данных и применяет её только при nil-ошибке.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{st: s.current.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.current = tx.st
	return nil
}

// Ping всегда успешен для in-memory хранилища.
func (s *Store) Ping(context.Context) error {
	return nil
}

type memTx struct {
	st *state
}

func (t *memTx) ItemByID(_ context.Context, id string) (domain.Item, error) {
	item, ok := t.st.items[id]
	if !ok {
		return domain.Item{}, fmt.Errorf("%w: %s", domain.ErrItemNotFound, id)
	}
	return item, nil
}

func (t *memTx) ListItems(context.Context) ([]domain.Item, error) {
	result := make([]domain.Item, 0, len(t.st.items))
	for _, item := range t.st.items {
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (t *memTx) PutItem(_ context.Context, item domain.Item) error {
	if item.ID == "" {
		return fmt.Errorf("%w: item id is required", domain.ErrInvalidRequest)
	}
	now := time.Now().UTC()
	if existing, ok := t.st.items[item.ID]; ok {
		item.CreatedAt = existing.CreatedAt
	} else if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	t.st.items[item.ID] = item
	return nil
}

func (t *memTx) DeleteItem(_ context.Context, id string) error {
	if _, ok := t.st.items[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrItemNotFound, id)
	}
	delete(t.st.items, id)
	delete(t.st.components, id)
	for lotID, lot := range t.st.lots {
		if lot.ItemID == id {
			delete(t.st.lots, lotID)
		}
	}
	for bundleID, edges := range t.st.components {
		kept := edges[:0]
		for _, edge := range edges {
			if edge.ComponentID != id {
				kept = append(kept, edge)
			}
		}
		t.st.components[bundleID] = kept
	}
	return nil
}

func (t *memTx) SetItemStock(_ context.Context, id string, stock int64) error {
	item, ok := t.st.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrItemNotFound, id)
	}
	plain, ok := item.Fulfillment.(domain.PlainStock)
	if !ok && item.Fulfillment != nil {
		return fmt.Errorf("%w: item %s is %s, not plain stock", domain.ErrInvariantViolation, id, item.Fulfillment.Kind())
	}
	plain.Stock = stock
	item.Fulfillment = plain
	item.UpdatedAt = time.Now().UTC()
	t.st.items[id] = item
	return nil
}

func (t *memTx) BundleComponents(_ context.Context, bundleID string) ([]domain.BundleComponent, error) {
	return append([]domain.BundleComponent(nil), t.st.components[bundleID]...), nil
}

func (t *memTx) SetBundleComponents(_ context.Context, bundleID string, components []domain.BundleComponent) error {
	if _, ok := t.st.items[bundleID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrItemNotFound, bundleID)
	}
	t.st.components[bundleID] = append([]domain.BundleComponent(nil), components...)
	return nil
}

func (t *memTx) LotsForItem(_ context.Context, itemID string) ([]domain.CostLotRecord, error) {
	result := make([]domain.CostLotRecord, 0)
	for _, lot := range t.st.lots {
		if lot.ItemID == itemID {
			result = append(result, lot)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if c := result[i].UnitCost.Cmp(result[j].UnitCost); c != 0 {
			return c < 0
		}
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (t *memTx) LotByID(_ context.Context, id string) (domain.CostLotRecord, error) {
	lot, ok := t.st.lots[id]
	if !ok {
		return domain.CostLotRecord{}, fmt.Errorf("%w: %s", domain.ErrLotNotFound, id)
	}
	return lot, nil
}

func (t *memTx) PutLot(_ context.Context, lot domain.CostLotRecord) error {
	if _, ok := t.st.items[lot.ItemID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrItemNotFound, lot.ItemID)
	}
	if lot.ID == "" {
		lot.ID = uuid.NewString()
	}
	if lot.CreatedAt.IsZero() {
		lot.CreatedAt = time.Now().UTC()
	}
	t.st.lots[lot.ID] = lot
	return nil
}

func (t *memTx) SetLotUnits(_ context.Context, id string, units int64) error {
	lot, ok := t.st.lots[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrLotNotFound, id)
	}
	lot.Units = units
	t.st.lots[id] = lot
	return nil
}

func (t *memTx) DeleteLot(_ context.Context, id string) error {
	if _, ok := t.st.lots[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrLotNotFound, id)
	}
	delete(t.st.lots, id)
	return nil
}

func (t *memTx) AccountByID(_ context.Context, id string) (domain.CreditAccount, error) {
	account, ok := t.st.accounts[id]
	if !ok {
		return domain.CreditAccount{}, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}
	return account, nil
}

func (t *memTx) AccountsByFamily(_ context.Context, family string) ([]domain.CreditAccount, error) {
	result := make([]domain.CreditAccount, 0)
	for _, account := range t.st.accounts {
		if account.Family == family {
			result = append(result, account)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (t *memTx) PutAccount(_ context.Context, account domain.CreditAccount) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if existing, ok := t.st.accounts[account.ID]; ok {
		account.CreatedAt = existing.CreatedAt
	} else if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	t.st.accounts[account.ID] = account
	return nil
}

func (t *memTx) SetAccountBalance(_ context.Context, id string, balance decimal.Decimal) error {
	account, ok := t.st.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}
	account.Balance = balance
	account.UpdatedAt = time.Now().UTC()
	t.st.accounts[id] = account
	return nil
}

func (t *memTx) DeleteAccount(_ context.Context, id string) error {
	if _, ok := t.st.accounts[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}
	delete(t.st.accounts, id)
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, order domain.Order) error {
	if _, exists := t.st.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	t.st.orders[order.ID] = cloneOrder(order)
	return nil
}

func (t *memTx) OrderByID(_ context.Context, id string) (domain.Order, error) {
	order, ok := t.st.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	return cloneOrder(order), nil
}

func (t *memTx) ListOrders(_ context.Context, limit int) ([]domain.Order, error) {
	result := make([]domain.Order, 0, len(t.st.orders))
	for _, order := range t.st.orders {
		result = append(result, cloneOrder(order))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (t *memTx) DeleteOrder(_ context.Context, id string) error {
	if _, ok := t.st.orders[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	delete(t.st.orders, id)
	return nil
}

func (t *memTx) RecordOrphan(_ context.Context, orphan domain.OrphanedRestoration) error {
	if orphan.ID == "" {
		orphan.ID = uuid.NewString()
	}
	if orphan.CreatedAt.IsZero() {
		orphan.CreatedAt = time.Now().UTC()
	}
	t.st.orphans = append(t.st.orphans, orphan)
	return nil
}

func (t *memTx) ListOrphans(_ context.Context, limit int) ([]domain.OrphanedRestoration, error) {
	result := make([]domain.OrphanedRestoration, 0, len(t.st.orphans))
	for i := len(t.st.orphans) - 1; i >= 0; i-- {
		result = append(result, t.st.orphans[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (t *memTx) EnqueueOutbox(_ context.Context, msg domain.OutboxMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	t.st.outbox[msg.ID] = &outboxRecord{
		msg:       msg,
		status:    outboxStatusPending,
		createdAt: msg.CreatedAt,
		updatedAt: now,
	}
	return nil
}

var (
	_ domain.Store = (*Store)(nil)
	_ domain.Tx    = (*memTx)(nil)
)
