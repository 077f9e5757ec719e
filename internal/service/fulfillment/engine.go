// Package fulfillment создаёт и удаляет заказы, списывая и возвращая остатки по стратегиям товаров.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/lock"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/bundle"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/costlot"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/creditpool"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/stock"
)

const (
	tracerName       = "fulfillment-engine"
	defaultListLimit = 100
)

// Options задаёт зависимости движка.
type Options struct {
	Logger               *log.Entry
	Locker               lock.Locker
	Metrics              *metrics.FulfillmentMetrics
	Tracer               trace.Tracer
	LegacyCreditFallback bool
	Now                  func() time.Time
}

// Option настраивает Engine.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithLocker задаёт реализацию блокировок по ключам.
func WithLocker(locker lock.Locker) Option {
	return func(o *Options) { o.Locker = locker }
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.FulfillmentMetrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithTracer задаёт tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Options) { o.Tracer = tracer }
}

// WithLegacyCreditFallback включает возврат кредитов удалённого аккаунта в самый старый
// аккаунт того же семейства вместо записи о невозможном возврате.
func WithLegacyCreditFallback(enabled bool) Option {
	return func(o *Options) { o.LegacyCreditFallback = enabled }
}

// WithClock задаёт источник времени.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

// Engine: оркестратор создания и удаления заказов.
//
// Создание: блокировки по ключам, затем одна транзакция хранилища, в которой выполняются
// проверка всех строк (без изменений), списание и запись заказа с provenance.
// Удаление: та же транзакция, в которой provenance каждой строки проигрывается в обратную сторону.
type Engine struct {
	store    domain.Store
	locker   lock.Locker
	logger   *log.Entry
	metrics  *metrics.FulfillmentMetrics
	tracer   trace.Tracer
	now      func() time.Time
	counter  *stock.Counter
	lots     *costlot.Inventory
	ledger   *creditpool.Ledger
	resolver *bundle.Resolver
}

// NewEngine создаёт движок поверх хранилища.
func NewEngine(store domain.Store, options ...Option) *Engine {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "fulfillment-engine")
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewFulfillmentMetrics()
	}
	locker := opts.Locker
	if locker == nil {
		locker = lock.NewLocal()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	counter := stock.NewCounter()
	lots := costlot.NewInventory()
	return &Engine{
		store:   store,
		locker:  locker,
		logger:  logger,
		metrics: m,
		tracer:  tracer,
		now:     now,
		counter: counter,
		lots:    lots,
		ledger: creditpool.NewLedger(
			creditpool.WithLogger(logger.WithField("component", "credit-pool")),
			creditpool.WithLegacyFallback(opts.LegacyCreditFallback),
			creditpool.WithFallbackObserver(m.RecordFaceValueFallback),
		),
		resolver: bundle.NewResolver(counter, lots),
	}
}

// Create проверяет корзину и, если все строки проходят, списывает остатки и сохраняет заказ.
// При ошибке проверки ничего не меняется.
func (e *Engine) Create(ctx context.Context, actor domain.Actor, req domain.CreateOrderRequest) (result domain.CreateOrderResult, err error) {
	ctx, span := e.tracer.Start(ctx, "order_create")
	defer span.End()
	span.SetAttributes(
		attribute.String("fulfillment.operation", "create"),
		attribute.Int("order.lines", len(req.Lines)),
	)

	done := e.metrics.TrackOperation(metrics.OperationCreate)
	defer func() {
		done(resultLabel(err))
		e.finishSpan(span, err)
	}()

	if err := validateRequest(actor, req); err != nil {
		e.metrics.RecordOrderRejected(rejectReason(err))
		return domain.CreateOrderResult{}, err
	}

	release, err := e.locker.Lock(ctx, e.createLockKeys(ctx, req))
	if err != nil {
		return domain.CreateOrderResult{}, fmt.Errorf("lock inventory: %w", err)
	}
	defer release()

	var order domain.Order
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		items := make([]domain.Item, len(req.Lines))
		for i, line := range req.Lines {
			item, err := tx.ItemByID(ctx, line.ItemID)
			if err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			items[i] = item
		}

		v := newCartValidator(e, tx)
		for i, line := range req.Lines {
			if err := v.validateLine(ctx, i, items[i], line); err != nil {
				return err
			}
		}

		var err error
		order, err = e.commit(ctx, tx, actor, req, items, v)
		if err != nil {
			e.metrics.RecordInvariantViolation()
			e.logger.WithError(err).WithField("actor_id", actor.ID).Error("order commit failed after validation")
			return err
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return fmt.Errorf("%w: insert order: %w", domain.ErrInvariantViolation, err)
		}
		return enqueueEvent(ctx, tx, order.ID, domain.EventOrderCreated, createdPayload(order), e.now())
	})
	if err != nil {
		if domain.IsUserError(err) {
			e.metrics.RecordOrderRejected(rejectReason(err))
		}
		return domain.CreateOrderResult{}, err
	}

	e.metrics.RecordOrderCreated()
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("order.total", order.Total.String()))
	e.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"actor_id": actor.ID,
		"total":    order.Total.String(),
		"lines":    len(order.Lines),
	}).Info("order created")

	return domain.CreateOrderResult{OrderID: order.ID, Total: order.Total}, nil
}

func (e *Engine) commit(ctx context.Context, tx domain.Tx, actor domain.Actor, req domain.CreateOrderRequest, items []domain.Item, v *cartValidator) (domain.Order, error) {
	now := e.now()
	order := domain.Order{
		ID:            uuid.NewString(),
		PaymentAmount: req.PaymentAmount,
		PaidAt:        req.PaidAt,
		CreatedBy:     actor.ID,
		CreatedAt:     now,
		Lines:         make([]domain.OrderLine, 0, len(req.Lines)),
	}

	total := decimal.Zero
	for i, cartLine := range req.Lines {
		item := items[i]
		c := &lineCommitter{
			engine: e,
			ctx:    ctx,
			tx:     tx,
			item:   item,
			line:   cartLine,
			plan:   v.plans[i],
			credit: v.credits[i],
		}
		if err := domain.Dispatch(item.Fulfillment, c); err != nil {
			if errors.Is(err, domain.ErrInvariantViolation) {
				return domain.Order{}, fmt.Errorf("line %d %q: %w", i+1, item.Name, err)
			}
			return domain.Order{}, fmt.Errorf("%w: line %d %q: %w", domain.ErrInvariantViolation, i+1, item.Name, err)
		}

		foreign, err := e.foreignAmount(ctx, tx, item, cartLine.Quantity)
		if err != nil {
			return domain.Order{}, fmt.Errorf("%w: line %d foreign amount: %w", domain.ErrInvariantViolation, i+1, err)
		}

		line := domain.OrderLine{
			ID:            uuid.NewString(),
			OrderID:       order.ID,
			LineNo:        i + 1,
			ItemID:        item.ID,
			ItemName:      item.Name,
			Quantity:      cartLine.Quantity,
			UnitPrice:     item.Price,
			ForeignAmount: foreign,
			UnitCost:      c.unitCost,
			Provenance:    c.provenance,
		}
		total = total.Add(line.Amount())
		order.Lines = append(order.Lines, line)
	}
	order.Total = total
	return order, nil
}

func (e *Engine) foreignAmount(ctx context.Context, tx domain.Tx, item domain.Item, qty int64) (decimal.NullDecimal, error) {
	units := decimal.NewFromInt(qty)
	if item.ForeignPrice.Valid {
		return decimal.NewNullDecimal(item.ForeignPrice.Decimal.Mul(units)), nil
	}
	if _, ok := item.Fulfillment.(domain.Bundle); !ok {
		return decimal.NullDecimal{}, nil
	}
	blended, ok, err := e.resolver.BlendedForeignCost(ctx, tx, item.ID)
	if err != nil || !ok {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(blended.Mul(units)), nil
}

// Delete удаляет заказ, возвращая всё списанное по записанному provenance.
// Возвраты, которые некуда применить, сохраняются для ручной сверки и не прерывают удаление.
func (e *Engine) Delete(ctx context.Context, actor domain.Actor, orderID string) (err error) {
	ctx, span := e.tracer.Start(ctx, "order_delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("fulfillment.operation", "delete"),
		attribute.String("order.id", orderID),
	)

	done := e.metrics.TrackOperation(metrics.OperationDelete)
	defer func() {
		done(resultLabel(err))
		e.finishSpan(span, err)
	}()

	if !actor.Authenticated() {
		return domain.ErrUnauthenticated
	}
	if strings.TrimSpace(orderID) == "" {
		return fmt.Errorf("%w: order id is required", domain.ErrInvalidRequest)
	}

	keys, err := e.deleteLockKeys(ctx, orderID)
	if err != nil {
		return err
	}
	release, err := e.locker.Lock(ctx, keys)
	if err != nil {
		return fmt.Errorf("lock inventory: %w", err)
	}
	defer release()

	var orphans []domain.OrphanedRestoration
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.OrderByID(ctx, orderID)
		if err != nil {
			return err
		}

		orphans = orphans[:0]
		now := e.now()
		for _, line := range order.Lines {
			r := &lineRestorer{
				engine: e,
				ctx:    ctx,
				tx:     tx,
				line:   line,
				ref:    domain.LineRef{OrderID: order.ID, LineID: line.ID},
			}
			if err := domain.DispatchProvenance(line.Provenance, r); err != nil {
				return fmt.Errorf("restore line %d %q: %w", line.LineNo, line.ItemName, err)
			}
			for _, o := range r.orphans {
				o.ID = uuid.NewString()
				o.CreatedAt = now
				if err := tx.RecordOrphan(ctx, o); err != nil {
					return fmt.Errorf("record orphaned restoration: %w", err)
				}
				orphans = append(orphans, o)
			}
		}

		if err := tx.DeleteOrder(ctx, order.ID); err != nil {
			return err
		}
		if err := enqueueEvent(ctx, tx, order.ID, domain.EventOrderDeleted, deletedPayload(order, actor, orphans), now); err != nil {
			return err
		}
		if len(orphans) > 0 {
			return enqueueEvent(ctx, tx, order.ID, domain.EventRestorationDrift, driftPayload(order.ID, orphans), now)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.logger.WithError(err).WithField("order_id", orderID).Error("order deletion failed")
		}
		return err
	}

	for _, o := range orphans {
		e.metrics.RecordOrphanedRestoration(string(o.Kind))
		e.logger.WithFields(log.Fields{
			"order_id":  o.OrderID,
			"line_id":   o.LineID,
			"kind":      o.Kind,
			"target_id": o.TargetID,
			"units":     o.Units,
			"amount":    o.Amount.String(),
			"reason":    o.Reason,
		}).Error("inventory drift: restoration target is gone, manual reconciliation required")
	}
	e.metrics.RecordOrderDeleted()
	e.logger.WithFields(log.Fields{
		"order_id": orderID,
		"actor_id": actor.ID,
		"orphans":  len(orphans),
	}).Info("order deleted")
	return nil
}

// Get возвращает заказ со строками.
func (e *Engine) Get(ctx context.Context, orderID string) (domain.Order, error) {
	var order domain.Order
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		order, err = tx.OrderByID(ctx, orderID)
		return err
	})
	return order, err
}

// List возвращает последние заказы, от новых к старым.
func (e *Engine) List(ctx context.Context, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var orders []domain.Order
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		orders, err = tx.ListOrders(ctx, limit)
		return err
	})
	return orders, err
}

// AvailableAccounts возвращает аккаунты семейства с балансом не ниже minBalance.
func (e *Engine) AvailableAccounts(ctx context.Context, family string, minBalance decimal.Decimal) ([]creditpool.AccountBalance, error) {
	family = strings.ToUpper(strings.TrimSpace(family))
	if family == "" {
		return nil, fmt.Errorf("%w: family is required", domain.ErrInvalidRequest)
	}
	var accounts []creditpool.AccountBalance
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		accounts, err = e.ledger.AvailableAccounts(ctx, tx, family, minBalance)
		return err
	})
	return accounts, err
}

// EffectiveStock возвращает, сколько единиц комплекта можно продать сейчас (-1 означает отсутствие ограничения).
func (e *Engine) EffectiveStock(ctx context.Context, bundleID string) (int64, error) {
	var effective int64
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		item, err := tx.ItemByID(ctx, bundleID)
		if err != nil {
			return err
		}
		if _, ok := item.Fulfillment.(domain.Bundle); !ok {
			return fmt.Errorf("%w: item %q is not a bundle", domain.ErrInvalidRequest, item.Name)
		}
		effective, err = e.resolver.EffectiveStock(ctx, tx, bundleID)
		return err
	})
	return effective, err
}

// ListOrphans возвращает последние записи о невозможных возвратах.
func (e *Engine) ListOrphans(ctx context.Context, limit int) ([]domain.OrphanedRestoration, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var orphans []domain.OrphanedRestoration
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		orphans, err = tx.ListOrphans(ctx, limit)
		return err
	})
	return orphans, err
}

// createLockKeys собирает ключи товаров, компонентов комплектов и аккаунтов корзины.
// Отсутствующие товары пропускаются: ошибку вернёт основная транзакция.
func (e *Engine) createLockKeys(ctx context.Context, req domain.CreateOrderRequest) []string {
	keys := make([]string, 0, len(req.Lines)*2)
	_ = e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		for _, line := range req.Lines {
			keys = append(keys, lock.ItemKey(line.ItemID))
			if line.AccountID != "" {
				keys = append(keys, lock.AccountKey(line.AccountID))
			}
			item, err := tx.ItemByID(ctx, line.ItemID)
			if err != nil {
				continue
			}
			if _, ok := item.Fulfillment.(domain.Bundle); !ok {
				continue
			}
			edges, err := tx.BundleComponents(ctx, item.ID)
			if err != nil {
				continue
			}
			for _, edge := range edges {
				keys = append(keys, lock.ItemKey(edge.ComponentID))
			}
		}
		return nil
	})
	return keys
}

// deleteLockKeys собирает ключи по provenance строк заказа.
func (e *Engine) deleteLockKeys(ctx context.Context, orderID string) ([]string, error) {
	keys := []string{lock.OrderKey(orderID)}
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.OrderByID(ctx, orderID)
		if err != nil {
			return err
		}
		for _, line := range order.Lines {
			keys = append(keys, lock.ItemKey(line.ItemID))
			switch p := line.Provenance.(type) {
			case domain.CreditProvenance:
				keys = append(keys, lock.AccountKey(p.AccountID))
			case domain.BundleProvenance:
				for _, c := range p.Components {
					keys = append(keys, lock.ItemKey(c.ItemID))
				}
			}
		}
		return nil
	})
	return keys, err
}

func (e *Engine) finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

func validateRequest(actor domain.Actor, req domain.CreateOrderRequest) error {
	if !actor.Authenticated() {
		return domain.ErrUnauthenticated
	}
	if len(req.Lines) == 0 {
		return domain.ErrItemsRequired
	}
	for i, line := range req.Lines {
		if strings.TrimSpace(line.ItemID) == "" {
			return fmt.Errorf("%w: line %d: item id is required", domain.ErrInvalidRequest, i+1)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("line %d: %w", i+1, domain.ErrItemQtyInvalid)
		}
		if line.CreditAmount.Valid && line.CreditAmount.Decimal.IsNegative() {
			return fmt.Errorf("%w: line %d: credit amount must be non-negative", domain.ErrInvalidRequest, i+1)
		}
		if line.CreditAmount.Valid && !domain.FitsMoneyScale(line.CreditAmount.Decimal) {
			return fmt.Errorf("%w: line %d: credit amount has more than %d decimal places",
				domain.ErrInvalidRequest, i+1, domain.MoneyScale)
		}
	}
	if req.PaymentAmount.Valid && req.PaymentAmount.Decimal.IsNegative() {
		return domain.ErrPaymentAmountNegative
	}
	if req.PaymentAmount.Valid && !domain.FitsMoneyScale(req.PaymentAmount.Decimal) {
		return fmt.Errorf("%w: payment amount has more than %d decimal places", domain.ErrInvalidRequest, domain.MoneyScale)
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, domain.ErrInsufficientInventory):
		return "insufficient"
	case errors.Is(err, domain.ErrMissingParameter):
		return "missing_parameter"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "invalid_request"
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case domain.IsUserError(err), errors.Is(err, domain.ErrUnauthenticated):
		return "rejected"
	default:
		return "error"
	}
}
