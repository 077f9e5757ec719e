package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store: транзакционное хранилище каталога, аккаунтов, партий и заказов.
type Store interface {
	// WithinTx выполняет fn в одной транзакции. Ошибка fn откатывает все изменения.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
}

// Tx: операции, доступные внутри транзакции хранилища.
// Чтение товаров, аккаунтов и партий блокирует строки до конца транзакции там,
// где хранилище это поддерживает.
type Tx interface {
	ItemByID(ctx context.Context, id string) (Item, error)
	ListItems(ctx context.Context) ([]Item, error)
	PutItem(ctx context.Context, item Item) error
	DeleteItem(ctx context.Context, id string) error
	SetItemStock(ctx context.Context, id string, stock int64) error

	// BundleComponents возвращает компоненты в порядке их задания.
	BundleComponents(ctx context.Context, bundleID string) ([]BundleComponent, error)
	SetBundleComponents(ctx context.Context, bundleID string, components []BundleComponent) error

	// LotsForItem возвращает партии по возрастанию себестоимости, затем по времени создания.
	LotsForItem(ctx context.Context, itemID string) ([]CostLotRecord, error)
	LotByID(ctx context.Context, id string) (CostLotRecord, error)
	PutLot(ctx context.Context, lot CostLotRecord) error
	SetLotUnits(ctx context.Context, id string, units int64) error
	DeleteLot(ctx context.Context, id string) error

	AccountByID(ctx context.Context, id string) (CreditAccount, error)
	// AccountsByFamily возвращает аккаунты семейства по возрастанию времени создания.
	AccountsByFamily(ctx context.Context, family string) ([]CreditAccount, error)
	PutAccount(ctx context.Context, account CreditAccount) error
	SetAccountBalance(ctx context.Context, id string, balance decimal.Decimal) error
	DeleteAccount(ctx context.Context, id string) error

	InsertOrder(ctx context.Context, order Order) error
	OrderByID(ctx context.Context, id string) (Order, error)
	// ListOrders возвращает заказы от новых к старым.
	ListOrders(ctx context.Context, limit int) ([]Order, error)
	DeleteOrder(ctx context.Context, id string) error

	RecordOrphan(ctx context.Context, orphan OrphanedRestoration) error
	ListOrphans(ctx context.Context, limit int) ([]OrphanedRestoration, error)

	// EnqueueOutbox сохраняет событие в той же транзакции, что и изменение данных.
	EnqueueOutbox(ctx context.Context, msg OutboxMessage) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository отдаёт накопленные события воркеру публикации.
type OutboxRepository interface {
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}
