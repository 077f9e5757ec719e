// Package catalog отвечает за администрирование каталога: товары, кредитные аккаунты, партии и состав комплектов.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/lock"
)

// Service изменяет каталог. Все операции записи требуют администратора.
type Service struct {
	store  domain.Store
	locker lock.Locker
	logger *log.Entry
}

// NewService создаёт Service. Locker общий с движком заказов, чтобы правки остатков
// не пересекались с продажами.
func NewService(store domain.Store, locker lock.Locker, logger *log.Entry) *Service {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if logger == nil {
		logger = log.WithField("component", "catalog")
	}
	return &Service{store: store, locker: locker, logger: logger}
}

// ListItems возвращает товары каталога.
func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	var items []domain.Item
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		items, err = tx.ListItems(ctx)
		return err
	})
	return items, err
}

// UpsertItem создаёт или обновляет товар. Товар, переставший быть комплектом, теряет состав.
func (s *Service) UpsertItem(ctx context.Context, actor domain.Actor, item domain.Item) (domain.Item, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Item{}, err
	}
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" {
		return domain.Item{}, fmt.Errorf("%w: item name is required", domain.ErrInvalidRequest)
	}
	if item.Price.IsNegative() {
		return domain.Item{}, fmt.Errorf("%w: item price must be non-negative", domain.ErrInvalidRequest)
	}
	if item.ForeignPrice.Valid && item.ForeignPrice.Decimal.IsNegative() {
		return domain.Item{}, fmt.Errorf("%w: foreign price must be non-negative", domain.ErrInvalidRequest)
	}
	if err := checkScale("item price", item.Price); err != nil {
		return domain.Item{}, err
	}
	if item.ForeignPrice.Valid {
		if err := checkScale("foreign price", item.ForeignPrice.Decimal); err != nil {
			return domain.Item{}, err
		}
	}
	if item.Fulfillment == nil {
		item.Fulfillment = domain.PlainStock{}
	}
	normalizer := &fulfillmentNormalizer{}
	if err := domain.Dispatch(item.Fulfillment, normalizer); err != nil {
		return domain.Item{}, err
	}
	item.Fulfillment = normalizer.result
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	release, err := s.locker.Lock(ctx, []string{lock.ItemKey(item.ID)})
	if err != nil {
		return domain.Item{}, err
	}
	defer release()

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.PutItem(ctx, item); err != nil {
			return err
		}
		if _, isBundle := item.Fulfillment.(domain.Bundle); !isBundle {
			if err := tx.SetBundleComponents(ctx, item.ID, nil); err != nil {
				return err
			}
		}
		stored, err := tx.ItemByID(ctx, item.ID)
		item = stored
		return err
	})
	if err != nil {
		return domain.Item{}, err
	}

	kind, family := domain.ResolveStrategy(item)
	s.logger.WithFields(log.Fields{
		"item_id":  item.ID,
		"strategy": kind,
		"family":   family,
		"actor_id": actor.ID,
	}).Info("catalog item saved")
	return item, nil
}

// DeleteItem удаляет товар вместе с его партиями и рёбрами комплектов.
func (s *Service) DeleteItem(ctx context.Context, actor domain.Actor, id string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	release, err := s.locker.Lock(ctx, []string{lock.ItemKey(id)})
	if err != nil {
		return err
	}
	defer release()

	if err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.DeleteItem(ctx, id)
	}); err != nil {
		return err
	}
	s.logger.WithFields(log.Fields{"item_id": id, "actor_id": actor.ID}).Info("catalog item deleted")
	return nil
}

// UpsertAccount создаёт или обновляет кредитный аккаунт.
func (s *Service) UpsertAccount(ctx context.Context, actor domain.Actor, account domain.CreditAccount) (domain.CreditAccount, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.CreditAccount{}, err
	}
	account.Family = strings.ToUpper(strings.TrimSpace(account.Family))
	if account.Family == "" {
		return domain.CreditAccount{}, fmt.Errorf("%w: account family is required", domain.ErrInvalidRequest)
	}
	if account.Balance.IsNegative() {
		return domain.CreditAccount{}, fmt.Errorf("%w: account balance must be non-negative", domain.ErrInvalidRequest)
	}
	if err := checkScale("account balance", account.Balance); err != nil {
		return domain.CreditAccount{}, err
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}

	release, err := s.locker.Lock(ctx, []string{lock.AccountKey(account.ID)})
	if err != nil {
		return domain.CreditAccount{}, err
	}
	defer release()

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.PutAccount(ctx, account); err != nil {
			return err
		}
		stored, err := tx.AccountByID(ctx, account.ID)
		account = stored
		return err
	})
	if err != nil {
		return domain.CreditAccount{}, err
	}
	s.logger.WithFields(log.Fields{
		"account_id": account.ID,
		"family":     account.Family,
		"balance":    account.Balance.String(),
		"actor_id":   actor.ID,
	}).Info("credit account saved")
	return account, nil
}

// DeleteAccount удаляет кредитный аккаунт. Будущие возвраты на него станут невозможными.
func (s *Service) DeleteAccount(ctx context.Context, actor domain.Actor, id string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	release, err := s.locker.Lock(ctx, []string{lock.AccountKey(id)})
	if err != nil {
		return err
	}
	defer release()

	if err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.DeleteAccount(ctx, id)
	}); err != nil {
		return err
	}
	s.logger.WithFields(log.Fields{"account_id": id, "actor_id": actor.ID}).Warn("credit account deleted")
	return nil
}

// AddLot добавляет партию к товару со стратегией COST_LOT.
func (s *Service) AddLot(ctx context.Context, actor domain.Actor, itemID string, unitCost decimal.Decimal, units int64) (domain.CostLotRecord, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.CostLotRecord{}, err
	}
	if units < 0 {
		return domain.CostLotRecord{}, fmt.Errorf("%w: lot units must be non-negative", domain.ErrInvalidRequest)
	}
	if unitCost.IsNegative() {
		return domain.CostLotRecord{}, fmt.Errorf("%w: lot unit cost must be non-negative", domain.ErrInvalidRequest)
	}
	if err := checkScale("lot unit cost", unitCost); err != nil {
		return domain.CostLotRecord{}, err
	}

	release, err := s.locker.Lock(ctx, []string{lock.ItemKey(itemID)})
	if err != nil {
		return domain.CostLotRecord{}, err
	}
	defer release()

	lot := domain.CostLotRecord{ID: uuid.NewString(), ItemID: itemID, UnitCost: unitCost, Units: units}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		item, err := tx.ItemByID(ctx, itemID)
		if err != nil {
			return err
		}
		if _, ok := item.Fulfillment.(domain.CostLot); !ok {
			return fmt.Errorf("%w: item %q does not use cost lots", domain.ErrInvalidRequest, item.Name)
		}
		if err := tx.PutLot(ctx, lot); err != nil {
			return err
		}
		lot, err = tx.LotByID(ctx, lot.ID)
		return err
	})
	if err != nil {
		return domain.CostLotRecord{}, err
	}
	s.logger.WithFields(log.Fields{
		"item_id":   itemID,
		"lot_id":    lot.ID,
		"unit_cost": unitCost.String(),
		"units":     units,
	}).Info("cost lot added")
	return lot, nil
}

// DeleteLot удаляет партию.
func (s *Service) DeleteLot(ctx context.Context, actor domain.Actor, lotID string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	var itemID string
	if err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		lot, err := tx.LotByID(ctx, lotID)
		itemID = lot.ItemID
		return err
	}); err != nil {
		return err
	}

	release, err := s.locker.Lock(ctx, []string{lock.ItemKey(itemID)})
	if err != nil {
		return err
	}
	defer release()

	if err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.DeleteLot(ctx, lotID)
	}); err != nil {
		return err
	}
	s.logger.WithFields(log.Fields{"lot_id": lotID, "item_id": itemID, "actor_id": actor.ID}).Warn("cost lot deleted")
	return nil
}

// SetBundleComponents заменяет состав комплекта. Компоненты должны существовать,
// не быть комплектами или товарами кредитного пула и не повторяться.
func (s *Service) SetBundleComponents(ctx context.Context, actor domain.Actor, bundleID string, components []domain.BundleComponent) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if len(components) == 0 {
		return fmt.Errorf("%w: bundle must have at least one component", domain.ErrInvalidRequest)
	}

	keys := []string{lock.ItemKey(bundleID)}
	for _, c := range components {
		keys = append(keys, lock.ItemKey(c.ComponentID))
	}
	release, err := s.locker.Lock(ctx, keys)
	if err != nil {
		return err
	}
	defer release()

	return s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		bundle, err := tx.ItemByID(ctx, bundleID)
		if err != nil {
			return err
		}
		if _, ok := bundle.Fulfillment.(domain.Bundle); !ok {
			return fmt.Errorf("%w: item %q is not a bundle", domain.ErrInvalidRequest, bundle.Name)
		}

		seen := make(map[string]struct{}, len(components))
		edges := make([]domain.BundleComponent, 0, len(components))
		for _, c := range components {
			if c.QtyPerUnit <= 0 {
				return fmt.Errorf("%w: quantity per unit of %s must be positive", domain.ErrInvalidRequest, c.ComponentID)
			}
			if c.ComponentID == bundleID {
				return fmt.Errorf("%w: bundle %q cannot contain itself", domain.ErrInvalidRequest, bundle.Name)
			}
			if _, dup := seen[c.ComponentID]; dup {
				return fmt.Errorf("%w: component %s is listed twice", domain.ErrInvalidRequest, c.ComponentID)
			}
			seen[c.ComponentID] = struct{}{}

			component, err := tx.ItemByID(ctx, c.ComponentID)
			if err != nil {
				return err
			}
			switch component.Fulfillment.(type) {
			case domain.Bundle:
				return fmt.Errorf("%w: component %q is a bundle; nested bundles are not supported", domain.ErrInvalidRequest, component.Name)
			case domain.CreditPool:
				return fmt.Errorf("%w: component %q is a credit-pool item", domain.ErrInvalidRequest, component.Name)
			}
			edges = append(edges, domain.BundleComponent{BundleID: bundleID, ComponentID: c.ComponentID, QtyPerUnit: c.QtyPerUnit})
		}
		return tx.SetBundleComponents(ctx, bundleID, edges)
	})
}

func requireAdmin(actor domain.Actor) error {
	if !actor.Authenticated() {
		return domain.ErrUnauthenticated
	}
	if !actor.Admin {
		return domain.ErrForbidden
	}
	return nil
}

// checkScale отклоняет суммы, которые хранилище округлило бы.
func checkScale(field string, d decimal.Decimal) error {
	if !domain.FitsMoneyScale(d) {
		return fmt.Errorf("%w: %s %s has more than %d decimal places", domain.ErrInvalidRequest, field, d, domain.MoneyScale)
	}
	return nil
}

// fulfillmentNormalizer проверяет и нормализует параметры стратегии.
type fulfillmentNormalizer struct {
	result domain.Fulfillment
}

func (n *fulfillmentNormalizer) PlainStock(s domain.PlainStock) error {
	if s.Stock < domain.UnlimitedStock {
		return fmt.Errorf("%w: stock must be -1 (unlimited) or non-negative", domain.ErrInvalidRequest)
	}
	if s.UnitCost.IsNegative() {
		return fmt.Errorf("%w: unit cost must be non-negative", domain.ErrInvalidRequest)
	}
	if err := checkScale("unit cost", s.UnitCost); err != nil {
		return err
	}
	n.result = s
	return nil
}

func (n *fulfillmentNormalizer) CreditPool(s domain.CreditPool) error {
	s.Family = strings.ToUpper(strings.TrimSpace(s.Family))
	if s.Family == "" {
		return fmt.Errorf("%w: credit pool family is required", domain.ErrInvalidRequest)
	}
	if s.FaceValue.Valid && !s.FaceValue.Decimal.IsPositive() {
		return fmt.Errorf("%w: face value must be positive", domain.ErrInvalidRequest)
	}
	if s.FaceValue.Valid {
		if err := checkScale("face value", s.FaceValue.Decimal); err != nil {
			return err
		}
	}
	n.result = s
	return nil
}

func (n *fulfillmentNormalizer) CostLot(s domain.CostLot) error {
	n.result = s
	return nil
}

func (n *fulfillmentNormalizer) Bundle(s domain.Bundle) error {
	n.result = s
	return nil
}
