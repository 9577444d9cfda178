package rules

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-tracker-api/internal/models"
	"price-tracker-api/internal/validation"
)

func val(v float64) *float64 { return &v }

func transition(prices ...float64) Transition {
	return Transition{
		ProductName: "Apple iPhone 15 (128GB) - black",
		OldPrice:    prices[len(prices)-2],
		NewPrice:    prices[len(prices)-1],
		History:     prices,
	}
}

func mustParse(t *testing.T, typ Type, v *float64) Rule {
	t.Helper()
	r, err := Parse(models.AlertRule{Type: string(typ), Value: v})
	require.NoError(t, err)
	return r
}

func TestEvaluate_DropFrom100To80(t *testing.T) {
	tr := transition(100, 80)

	tests := []struct {
		name    string
		typ     Type
		value   *float64
		fires   bool
		message string
	}{
		{"changed", TypeChanged, nil, true, "Apple iPhone 15 (128GB) - black changed from 100.00 to 80.00"},
		{"dropped", TypeDropped, nil, true, "Apple iPhone 15 (128GB) - black dropped from 100.00 to 80.00"},
		{"increased", TypeIncreased, nil, false, ""},
		{"dropped 15 percent", TypeDroppedPercent, val(15), true, "Apple iPhone 15 (128GB) - black dropped 20.00 (20.00%), from 100.00 to 80.00"},
		{"dropped 25 percent", TypeDroppedPercent, val(25), false, ""},
		{"increased percent", TypeIncreasedPercent, val(5), false, ""},
		{"below 90", TypeBelow, val(90), true, "Apple iPhone 15 (128GB) - black is below 90.00 (now 80.00)"},
		{"above 90", TypeAbove, val(90), false, ""},
		{"absolute 20", TypeAbsoluteChange, val(20), true, "Apple iPhone 15 (128GB) - black changed by 20.00 (now 80.00)"},
		{"absolute 25", TypeAbsoluteChange, val(25), false, ""},
		{"historic low", TypeHistoricLow, nil, true, "Apple iPhone 15 (128GB) - black reached its lowest price ever: 80.00"},
		{"stock", TypeStockAvailable, nil, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fires, msg := mustParse(t, tt.typ, tt.value).Evaluate(tr)
			assert.Equal(t, tt.fires, fires)
			assert.Equal(t, tt.message, msg)
		})
	}
}

func TestEvaluate_Increase(t *testing.T) {
	tr := transition(80, 100)

	fires, msg := mustParse(t, TypeIncreased, nil).Evaluate(tr)
	assert.True(t, fires)
	assert.Equal(t, "Apple iPhone 15 (128GB) - black increased from 80.00 to 100.00", msg)

	fires, _ = mustParse(t, TypeIncreasedPercent, val(25)).Evaluate(tr)
	assert.True(t, fires)

	fires, _ = mustParse(t, TypeAbove, val(90)).Evaluate(tr)
	assert.True(t, fires)

	fires, _ = mustParse(t, TypeDropped, nil).Evaluate(tr)
	assert.False(t, fires)
}

func TestEvaluate_UnchangedPriceFiresNothingRelative(t *testing.T) {
	tr := transition(100, 100)
	for _, typ := range []Type{TypeChanged, TypeDropped, TypeIncreased, TypeHistoricLow} {
		fires, _ := mustParse(t, typ, nil).Evaluate(tr)
		assert.False(t, fires, typ)
	}
}

func TestHistoricLow(t *testing.T) {
	rule := mustParse(t, TypeHistoricLow, nil)

	fires, _ := rule.Evaluate(transition(120, 100, 110, 90))
	assert.True(t, fires)

	fires, _ = rule.Evaluate(transition(120, 90, 100, 95))
	assert.False(t, fires)
}

func TestPercentRules_NonPositiveOldPriceNeverFires(t *testing.T) {
	tr := Transition{ProductName: "x", OldPrice: 0, NewPrice: 50, History: []float64{0, 50}}

	fires, _ := mustParse(t, TypeIncreasedPercent, val(1)).Evaluate(tr)
	assert.False(t, fires)
	fires, _ = mustParse(t, TypeDroppedPercent, val(1)).Evaluate(tr)
	assert.False(t, fires)
}

func TestParse_ValueRequired(t *testing.T) {
	for _, v := range []*float64{nil, val(0), val(-3)} {
		_, err := Parse(models.AlertRule{Type: string(TypeBelow), Value: v})
		assert.True(t, errors.Is(err, ErrValueRequired))
	}
}

func TestParse_UnknownType(t *testing.T) {
	_, err := Parse(models.AlertRule{Type: "price_teleported"})

	var verr *validation.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "alerts.type", verr.Field)
}

func TestWire_RoundTripsValue(t *testing.T) {
	r := mustParse(t, TypeDroppedPercent, val(12.5))
	w := r.Wire()
	assert.Equal(t, "price_dropped_percent", w.Type)
	require.NotNil(t, w.Value)
	assert.Equal(t, 12.5, *w.Value)

	assert.Nil(t, mustParse(t, TypeChanged, nil).Wire().Value)
}

func TestParseAll_StopsAtFirstError(t *testing.T) {
	_, err := ParseAll([]models.AlertRule{{Type: "price_changed"}, {Type: "price_above"}})
	assert.ErrorIs(t, err, ErrValueRequired)

	rs, err := ParseAll([]models.AlertRule{{Type: "price_changed"}, {Type: "price_above", Value: val(10)}})
	require.NoError(t, err)
	assert.Len(t, rs, 2)
}
