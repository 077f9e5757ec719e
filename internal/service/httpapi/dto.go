package httpapi

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/creditpool"
)

type cartLineRequest struct {
	ItemID       string              `json:"item_id" binding:"required"`
	Quantity     int64               `json:"quantity" binding:"gt=0,lte=1000000"`
	AccountID    string              `json:"account_id"`
	CreditAmount decimal.NullDecimal `json:"credit_amount" binding:"omitempty,dec_gt0,dec_scale4"`
}

type createOrderRequest struct {
	Items         []cartLineRequest   `json:"items" binding:"required,min=1,dive"`
	PaymentAmount decimal.NullDecimal `json:"payment_amount" binding:"omitempty,dec_gte0,dec_scale4"`
	PaidAt        *time.Time          `json:"paid_at"`
}

func (r createOrderRequest) toDomain() domain.CreateOrderRequest {
	lines := make([]domain.CartLine, 0, len(r.Items))
	for _, l := range r.Items {
		lines = append(lines, domain.CartLine{
			ItemID:       l.ItemID,
			Quantity:     l.Quantity,
			AccountID:    l.AccountID,
			CreditAmount: l.CreditAmount,
		})
	}
	return domain.CreateOrderRequest{
		Lines:         lines,
		PaymentAmount: r.PaymentAmount,
		PaidAt:        r.PaidAt,
	}
}

type createOrderResponse struct {
	OrderID string          `json:"order_id"`
	Total   decimal.Decimal `json:"total"`
}

type orderLineResponse struct {
	ID            string              `json:"id"`
	LineNo        int                 `json:"line_no"`
	ItemID        string              `json:"item_id"`
	ItemName      string              `json:"item_name"`
	Quantity      int64               `json:"quantity"`
	UnitPrice     decimal.Decimal     `json:"unit_price"`
	Amount        decimal.Decimal     `json:"amount"`
	ForeignAmount decimal.NullDecimal `json:"foreign_amount"`
	UnitCost      decimal.Decimal     `json:"unit_cost"`
	Provenance    json.RawMessage     `json:"provenance"`
}

type orderResponse struct {
	ID            string              `json:"id"`
	Total         decimal.Decimal     `json:"total"`
	PaymentAmount decimal.NullDecimal `json:"payment_amount"`
	PaidAt        *time.Time          `json:"paid_at,omitempty"`
	CreatedBy     string              `json:"created_by"`
	CreatedAt     time.Time           `json:"created_at"`
	Lines         []orderLineResponse `json:"lines"`
}

func newOrderResponse(order domain.Order) (orderResponse, error) {
	lines := make([]orderLineResponse, 0, len(order.Lines))
	for _, l := range order.Lines {
		provenance, err := domain.MarshalProvenance(l.Provenance)
		if err != nil {
			return orderResponse{}, err
		}
		lines = append(lines, orderLineResponse{
			ID:            l.ID,
			LineNo:        l.LineNo,
			ItemID:        l.ItemID,
			ItemName:      l.ItemName,
			Quantity:      l.Quantity,
			UnitPrice:     l.UnitPrice,
			Amount:        l.Amount(),
			ForeignAmount: l.ForeignAmount,
			UnitCost:      l.UnitCost,
			Provenance:    provenance,
		})
	}
	return orderResponse{
		ID:            order.ID,
		Total:         order.Total,
		PaymentAmount: order.PaymentAmount,
		PaidAt:        order.PaidAt,
		CreatedBy:     order.CreatedBy,
		CreatedAt:     order.CreatedAt,
		Lines:         lines,
	}, nil
}

type accountBalanceResponse struct {
	AccountID string          `json:"account_id"`
	Label     string          `json:"label"`
	Balance   decimal.Decimal `json:"balance"`
}

func newAccountBalances(accounts []creditpool.AccountBalance) []accountBalanceResponse {
	out := make([]accountBalanceResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountBalanceResponse{AccountID: a.AccountID, Label: a.Label, Balance: a.Balance})
	}
	return out
}

type bundleStockResponse struct {
	BundleID       string `json:"bundle_id"`
	EffectiveStock int64  `json:"effective_stock"`
	Unlimited      bool   `json:"unlimited"`
}

type itemRequest struct {
	ID             string              `json:"id"`
	Name           string              `json:"name" binding:"required"`
	Price          decimal.Decimal     `json:"price" binding:"dec_gte0,dec_scale4"`
	ForeignPrice   decimal.NullDecimal `json:"foreign_price" binding:"omitempty,dec_gte0,dec_scale4"`
	Strategy       string              `json:"strategy" binding:"omitempty,oneof=PLAIN_STOCK CREDIT_POOL COST_LOT BUNDLE"`
	Family         string              `json:"family"`
	Stock          int64               `json:"stock" binding:"gte=-1"`
	UnitCost       decimal.Decimal     `json:"unit_cost" binding:"dec_gte0,dec_scale4"`
	FaceValue      decimal.NullDecimal `json:"face_value" binding:"omitempty,dec_gt0,dec_scale4"`
	ExplicitAmount bool                `json:"explicit_amount"`
}

func (r itemRequest) toDomain() domain.Item {
	row := domain.FulfillmentRow{
		Kind:           r.Strategy,
		Family:         r.Family,
		Stock:          r.Stock,
		UnitCost:       r.UnitCost,
		FaceValue:      r.FaceValue,
		ExplicitAmount: r.ExplicitAmount,
	}
	return domain.Item{
		ID:           r.ID,
		Name:         r.Name,
		Price:        r.Price,
		ForeignPrice: r.ForeignPrice,
		Fulfillment:  row.Fulfillment(),
	}
}

type itemResponse struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	Price          decimal.Decimal     `json:"price"`
	ForeignPrice   decimal.NullDecimal `json:"foreign_price"`
	Strategy       string              `json:"strategy"`
	Family         string              `json:"family,omitempty"`
	Stock          *int64              `json:"stock,omitempty"`
	UnitCost       *decimal.Decimal    `json:"unit_cost,omitempty"`
	FaceValue      decimal.NullDecimal `json:"face_value"`
	ExplicitAmount bool                `json:"explicit_amount"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

func newItemResponse(item domain.Item) itemResponse {
	row := domain.RowFromFulfillment(item.Fulfillment)
	resp := itemResponse{
		ID:             item.ID,
		Name:           item.Name,
		Price:          item.Price,
		ForeignPrice:   item.ForeignPrice,
		Strategy:       row.Kind,
		Family:         row.Family,
		FaceValue:      row.FaceValue,
		ExplicitAmount: row.ExplicitAmount,
		UpdatedAt:      item.UpdatedAt,
	}
	if row.Kind == string(domain.StrategyPlainStock) {
		stock, cost := row.Stock, row.UnitCost
		resp.Stock = &stock
		resp.UnitCost = &cost
	}
	return resp
}

type lotRequest struct {
	UnitCost decimal.Decimal `json:"unit_cost" binding:"dec_gte0,dec_scale4"`
	Units    int64           `json:"units" binding:"gt=0"`
}

type lotResponse struct {
	ID        string          `json:"id"`
	ItemID    string          `json:"item_id"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Units     int64           `json:"units"`
	CreatedAt time.Time       `json:"created_at"`
}

type bundleComponentRequest struct {
	ComponentID string `json:"component_id" binding:"required"`
	QtyPerUnit  int64  `json:"qty_per_unit" binding:"gt=0"`
}

type bundleComponentsRequest struct {
	Components []bundleComponentRequest `json:"components" binding:"dive"`
}

type accountRequest struct {
	ID      string          `json:"id"`
	Label   string          `json:"label"`
	Family  string          `json:"family" binding:"required"`
	Balance decimal.Decimal `json:"balance" binding:"dec_gte0,dec_scale4"`
}

type accountResponse struct {
	ID        string          `json:"id"`
	Label     string          `json:"label"`
	Family    string          `json:"family"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type orphanResponse struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	LineID    string          `json:"line_id"`
	Kind      string          `json:"kind"`
	TargetID  string          `json:"target_id"`
	Family    string          `json:"family,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Units     int64           `json:"units"`
	Reason    string          `json:"reason"`
	CreatedAt time.Time       `json:"created_at"`
}

func newOrphanResponses(orphans []domain.OrphanedRestoration) []orphanResponse {
	out := make([]orphanResponse, 0, len(orphans))
	for _, o := range orphans {
		out = append(out, orphanResponse{
			ID:        o.ID,
			OrderID:   o.OrderID,
			LineID:    o.LineID,
			Kind:      string(o.Kind),
			TargetID:  o.TargetID,
			Family:    o.Family,
			Amount:    o.Amount,
			Units:     o.Units,
			Reason:    o.Reason,
			CreatedAt: o.CreatedAt,
		})
	}
	return out
}
