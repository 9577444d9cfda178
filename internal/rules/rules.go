// Package rules defines the alert rule variants a favorite can carry and the
// predicate each one applies to a price transition.
//
// Every rule type is its own struct holding exactly the fields it needs.
// Parse validates the wire form once, at construction; Evaluate never has to
// check for a missing value.
package rules

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"price-tracker-api/internal/models"
	"price-tracker-api/internal/validation"
)

// Type identifies a rule variant on the wire.
type Type string

const (
	TypeChanged          Type = "price_changed"
	TypeDropped          Type = "price_dropped"
	TypeIncreased        Type = "price_increased"
	TypeDroppedPercent   Type = "price_dropped_percent"
	TypeIncreasedPercent Type = "price_increased_percent"
	TypeBelow            Type = "price_below"
	TypeAbove            Type = "price_above"
	TypeAbsoluteChange   Type = "price_change_absolute"
	TypeHistoricLow      Type = "price_historic_low"
	TypeStockAvailable   Type = "stock_available"
)

// ErrValueRequired is returned by Parse when a thresholded rule has no usable value.
var ErrValueRequired = errors.New("rule requires a positive value")

var valueRequired = map[Type]bool{
	TypeDroppedPercent:   true,
	TypeIncreasedPercent: true,
	TypeBelow:            true,
	TypeAbove:            true,
	TypeAbsoluteChange:   true,
}

// Transition is the price movement a rule is evaluated against.
type Transition struct {
	ProductName string
	OldPrice    float64
	NewPrice    float64
	// History holds every price value of the offer, including NewPrice.
	History []float64
}

// Delta is NewPrice - OldPrice.
func (t Transition) Delta() float64 {
	return t.NewPrice - t.OldPrice
}

// percentChange is |delta| / oldPrice * 100; ok is false when oldPrice is not positive.
func (t Transition) percentChange() (float64, bool) {
	if t.OldPrice <= 0 {
		return 0, false
	}
	return math.Abs(t.Delta()) / t.OldPrice * 100, true
}

// Rule is one alert rule variant.
type Rule interface {
	Type() Type
	// Evaluate reports whether the rule fires and, if so, the rendered message.
	Evaluate(t Transition) (bool, string)
	// Wire returns the serialized form stored on the favorite.
	Wire() models.AlertRule
}

// Parse builds the rule variant for a wire rule.
func Parse(r models.AlertRule) (Rule, error) {
	t := Type(r.Type)
	if valueRequired[t] {
		if r.Value == nil || !validation.IsPositivePrice(*r.Value) {
			return nil, fmt.Errorf("%w: %s", ErrValueRequired, t)
		}
	}

	switch t {
	case TypeChanged:
		return Changed{}, nil
	case TypeDropped:
		return Dropped{}, nil
	case TypeIncreased:
		return Increased{}, nil
	case TypeDroppedPercent:
		return DroppedPercent{Percent: *r.Value}, nil
	case TypeIncreasedPercent:
		return IncreasedPercent{Percent: *r.Value}, nil
	case TypeBelow:
		return Below{Threshold: *r.Value}, nil
	case TypeAbove:
		return Above{Threshold: *r.Value}, nil
	case TypeAbsoluteChange:
		return AbsoluteChange{Amount: *r.Value}, nil
	case TypeHistoricLow:
		return HistoricLow{}, nil
	case TypeStockAvailable:
		return StockAvailable{}, nil
	default:
		return nil, &validation.ValidationError{
			Field:   "alerts.type",
			Message: fmt.Sprintf("unknown alert type %q", r.Type),
		}
	}
}

// ParseAll parses every wire rule, stopping at the first error.
func ParseAll(in []models.AlertRule) ([]Rule, error) {
	out := make([]Rule, 0, len(in))
	for _, r := range in {
		rule, err := Parse(r)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func valued(t Type, v float64) models.AlertRule {
	return models.AlertRule{Type: string(t), Value: &v}
}

type Changed struct{}

func (Changed) Type() Type             { return TypeChanged }
func (Changed) Wire() models.AlertRule { return models.AlertRule{Type: string(TypeChanged)} }
func (Changed) Evaluate(t Transition) (bool, string) {
	if t.Delta() == 0 {
		return false, ""
	}
	return true, fmt.Sprintf("%s changed from %s to %s", t.ProductName, money(t.OldPrice), money(t.NewPrice))
}

type Dropped struct{}

func (Dropped) Type() Type             { return TypeDropped }
func (Dropped) Wire() models.AlertRule { return models.AlertRule{Type: string(TypeDropped)} }
func (Dropped) Evaluate(t Transition) (bool, string) {
	if t.Delta() >= 0 {
		return false, ""
	}
	return true, fmt.Sprintf("%s dropped from %s to %s", t.ProductName, money(t.OldPrice), money(t.NewPrice))
}

type Increased struct{}

func (Increased) Type() Type             { return TypeIncreased }
func (Increased) Wire() models.AlertRule { return models.AlertRule{Type: string(TypeIncreased)} }
func (Increased) Evaluate(t Transition) (bool, string) {
	if t.Delta() <= 0 {
		return false, ""
	}
	return true, fmt.Sprintf("%s increased from %s to %s", t.ProductName, money(t.OldPrice), money(t.NewPrice))
}

// DroppedPercent fires when the price fell by at least Percent percent.
type DroppedPercent struct {
	Percent float64
}

func (DroppedPercent) Type() Type               { return TypeDroppedPercent }
func (r DroppedPercent) Wire() models.AlertRule { return valued(TypeDroppedPercent, r.Percent) }
func (r DroppedPercent) Evaluate(t Transition) (bool, string) {
	pct, ok := t.percentChange()
	if !ok || t.Delta() >= 0 || pct < r.Percent {
		return false, ""
	}
	return true, fmt.Sprintf("%s dropped %s (%s%%), from %s to %s",
		t.ProductName, money(-t.Delta()), money(pct), money(t.OldPrice), money(t.NewPrice))
}

// IncreasedPercent fires when the price rose by at least Percent percent.
type IncreasedPercent struct {
	Percent float64
}

func (IncreasedPercent) Type() Type               { return TypeIncreasedPercent }
func (r IncreasedPercent) Wire() models.AlertRule { return valued(TypeIncreasedPercent, r.Percent) }
func (r IncreasedPercent) Evaluate(t Transition) (bool, string) {
	pct, ok := t.percentChange()
	if !ok || t.Delta() <= 0 || pct < r.Percent {
		return false, ""
	}
	return true, fmt.Sprintf("%s increased %s (%s%%), from %s to %s",
		t.ProductName, money(t.Delta()), money(pct), money(t.OldPrice), money(t.NewPrice))
}

type Below struct {
	Threshold float64
}

func (Below) Type() Type               { return TypeBelow }
func (r Below) Wire() models.AlertRule { return valued(TypeBelow, r.Threshold) }
func (r Below) Evaluate(t Transition) (bool, string) {
	if t.NewPrice >= r.Threshold {
		return false, ""
	}
	return true, fmt.Sprintf("%s is below %s (now %s)", t.ProductName, money(r.Threshold), money(t.NewPrice))
}

type Above struct {
	Threshold float64
}

func (Above) Type() Type               { return TypeAbove }
func (r Above) Wire() models.AlertRule { return valued(TypeAbove, r.Threshold) }
func (r Above) Evaluate(t Transition) (bool, string) {
	if t.NewPrice <= r.Threshold {
		return false, ""
	}
	return true, fmt.Sprintf("%s is above %s (now %s)", t.ProductName, money(r.Threshold), money(t.NewPrice))
}

// AbsoluteChange fires when the price moved by at least Amount in either direction.
type AbsoluteChange struct {
	Amount float64
}

func (AbsoluteChange) Type() Type               { return TypeAbsoluteChange }
func (r AbsoluteChange) Wire() models.AlertRule { return valued(TypeAbsoluteChange, r.Amount) }
func (r AbsoluteChange) Evaluate(t Transition) (bool, string) {
	if math.Abs(t.Delta()) < r.Amount {
		return false, ""
	}
	return true, fmt.Sprintf("%s changed by %s (now %s)", t.ProductName, money(math.Abs(t.Delta())), money(t.NewPrice))
}

// HistoricLow fires when the new price is the offer's minimum and below the previous price.
type HistoricLow struct{}

func (HistoricLow) Type() Type             { return TypeHistoricLow }
func (HistoricLow) Wire() models.AlertRule { return models.AlertRule{Type: string(TypeHistoricLow)} }
func (HistoricLow) Evaluate(t Transition) (bool, string) {
	if len(t.History) == 0 || t.NewPrice >= t.OldPrice {
		return false, ""
	}
	low := t.History[0]
	for _, v := range t.History[1:] {
		low = math.Min(low, v)
	}
	if t.NewPrice != low {
		return false, ""
	}
	return true, fmt.Sprintf("%s reached its lowest price ever: %s", t.ProductName, money(t.NewPrice))
}

// StockAvailable is accepted so favorites can carry it, but inventory is not
// tracked, so it never fires.
type StockAvailable struct{}

func (StockAvailable) Type() Type                         { return TypeStockAvailable }
func (StockAvailable) Wire() models.AlertRule             { return models.AlertRule{Type: string(TypeStockAvailable)} }
func (StockAvailable) Evaluate(Transition) (bool, string) { return false, "" }
