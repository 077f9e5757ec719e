package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ProvenanceKind: тег варианта происхождения списания.
type ProvenanceKind string

const (
	ProvenancePlain  ProvenanceKind = "plain"
	ProvenanceCredit ProvenanceKind = "credit"
	ProvenanceLots   ProvenanceKind = "lots"
	ProvenanceBundle ProvenanceKind = "bundle"
)

// Provenance: запись о том, что именно было списано по строке заказа.
// Пишется один раз при создании заказа и является единственным входом для отката.
type Provenance interface {
	ProvenanceKind() ProvenanceKind
	acceptProvenance(h ProvenanceHandler) error
}

// ProvenanceHandler обрабатывает каждый вариант происхождения.
type ProvenanceHandler interface {
	Plain(p PlainProvenance) error
	Credit(p CreditProvenance) error
	Lots(p LotProvenance) error
	Bundle(p BundleProvenance) error
}

// DispatchProvenance вызывает метод обработчика для варианта p.
func DispatchProvenance(p Provenance, h ProvenanceHandler) error {
	if p == nil {
		return fmt.Errorf("%w: provenance is empty", ErrInvariantViolation)
	}
	return p.acceptProvenance(h)
}

// PlainProvenance: списание с простого счётчика.
type PlainProvenance struct {
	Units     int64 `json:"units"`
	Unlimited bool  `json:"unlimited,omitempty"`
}

func (PlainProvenance) ProvenanceKind() ProvenanceKind { return ProvenancePlain }

func (p PlainProvenance) acceptProvenance(h ProvenanceHandler) error { return h.Plain(p) }

// CreditProvenance: списание с конкретного кредитного аккаунта.
type CreditProvenance struct {
	AccountID string          `json:"account_id"`
	Family    string          `json:"family"`
	Amount    decimal.Decimal `json:"amount"`
}

func (CreditProvenance) ProvenanceKind() ProvenanceKind { return ProvenanceCredit }

func (p CreditProvenance) acceptProvenance(h ProvenanceHandler) error { return h.Credit(p) }

// LotDraw: сколько единиц взято из одной партии.
type LotDraw struct {
	LotID    string          `json:"lot_id"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Units    int64           `json:"units"`
}

// LotProvenance: списание из партий. FirstLotID/FirstLotCost используются для отчётов,
// Draws хранит разбивку по всем затронутым партиям.
type LotProvenance struct {
	FirstLotID   string          `json:"first_lot_id"`
	FirstLotCost decimal.Decimal `json:"first_lot_cost"`
	Draws        []LotDraw       `json:"draws"`
}

func (LotProvenance) ProvenanceKind() ProvenanceKind { return ProvenanceLots }

func (p LotProvenance) acceptProvenance(h ProvenanceHandler) error { return h.Lots(p) }

// TotalUnits возвращает суммарное количество списанных единиц.
func (p LotProvenance) TotalUnits() int64 {
	var total int64
	for _, d := range p.Draws {
		total += d.Units
	}
	return total
}

// TotalCost возвращает суммарную себестоимость списанных единиц.
func (p LotProvenance) TotalCost() decimal.Decimal {
	total := decimal.Zero
	for _, d := range p.Draws {
		total = total.Add(d.UnitCost.Mul(decimal.NewFromInt(d.Units)))
	}
	return total
}

// ComponentDraw: списание одного компонента комплекта.
// Lots заполнен для компонентов с партиями, иначе списан простой счётчик.
type ComponentDraw struct {
	ItemID    string          `json:"item_id"`
	Name      string          `json:"name"`
	Units     int64           `json:"units"`
	Unlimited bool            `json:"unlimited,omitempty"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Lots      *LotProvenance  `json:"lots,omitempty"`
}

// BundleProvenance: разбивка списания комплекта по компонентам на момент продажи.
type BundleProvenance struct {
	Components []ComponentDraw `json:"components"`
}

func (BundleProvenance) ProvenanceKind() ProvenanceKind { return ProvenanceBundle }

func (p BundleProvenance) acceptProvenance(h ProvenanceHandler) error { return h.Bundle(p) }

type provenanceEnvelope struct {
	Kind   ProvenanceKind    `json:"kind"`
	Plain  *PlainProvenance  `json:"plain,omitempty"`
	Credit *CreditProvenance `json:"credit,omitempty"`
	Lots   *LotProvenance    `json:"lots,omitempty"`
	Bundle *BundleProvenance `json:"bundle,omitempty"`
}

// MarshalProvenance сериализует вариант в JSON-конверт с тегом.
func MarshalProvenance(p Provenance) ([]byte, error) {
	env := provenanceEnvelope{}
	switch v := p.(type) {
	case PlainProvenance:
		env.Kind, env.Plain = ProvenancePlain, &v
	case CreditProvenance:
		env.Kind, env.Credit = ProvenanceCredit, &v
	case LotProvenance:
		env.Kind, env.Lots = ProvenanceLots, &v
	case BundleProvenance:
		env.Kind, env.Bundle = ProvenanceBundle, &v
	default:
		return nil, fmt.Errorf("marshal provenance: unsupported type %T", p)
	}
	return json.Marshal(env)
}

// UnmarshalProvenance восстанавливает вариант из JSON-конверта.
func UnmarshalProvenance(data []byte) (Provenance, error) {
	var env provenanceEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal provenance: %w", err)
	}

	switch {
	case env.Kind == ProvenancePlain && env.Plain != nil:
		return *env.Plain, nil
	case env.Kind == ProvenanceCredit && env.Credit != nil:
		return *env.Credit, nil
	case env.Kind == ProvenanceLots && env.Lots != nil:
		return *env.Lots, nil
	case env.Kind == ProvenanceBundle && env.Bundle != nil:
		return *env.Bundle, nil
	default:
		return nil, fmt.Errorf("unmarshal provenance: unknown or empty kind %q", env.Kind)
	}
}
