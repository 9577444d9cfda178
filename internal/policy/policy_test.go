package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-tracker-api/internal/models"
	"price-tracker-api/internal/validation"
)

func val(v float64) *float64 { return &v }

func TestCheckFavoriteCreate(t *testing.T) {
	assert.NoError(t, CheckFavoriteCreate(models.PlanFreemium, 4))

	err := CheckFavoriteCreate(models.PlanFreemium, 5)
	assert.True(t, IsDenied(err, ReasonLimitExceeded))

	assert.NoError(t, CheckFavoriteCreate(models.PlanPremium, 500))
}

func TestCheckRules_Freemium(t *testing.T) {
	tests := []struct {
		name   string
		rules  []models.AlertRule
		reason Reason
	}{
		{
			name:   "two rules",
			rules:  []models.AlertRule{{Type: "price_changed"}, {Type: "price_dropped"}},
			reason: ReasonLimitExceeded,
		},
		{
			name:   "premium-only type",
			rules:  []models.AlertRule{{Type: "price_below", Value: val(500)}},
			reason: ReasonRuleTypeForbidden,
		},
		{
			name:   "missing value",
			rules:  []models.AlertRule{{Type: "price_below"}},
			reason: ReasonValueRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CheckRules(models.PlanFreemium, tt.rules)
			require.Error(t, err)
			assert.True(t, IsDenied(err, tt.reason), err.Error())
		})
	}

	parsed, err := CheckRules(models.PlanFreemium, []models.AlertRule{{Type: "price_dropped"}})
	require.NoError(t, err)
	assert.Len(t, parsed, 1)
}

func TestCheckRules_Premium(t *testing.T) {
	parsed, err := CheckRules(models.PlanPremium, []models.AlertRule{
		{Type: "price_changed"},
		{Type: "price_below", Value: val(500)},
		{Type: "price_historic_low"},
	})
	require.NoError(t, err)
	assert.Len(t, parsed, 3)

	_, err = CheckRules(models.PlanPremium, []models.AlertRule{{Type: "price_above", Value: val(0)}})
	assert.True(t, IsDenied(err, ReasonValueRequired))
}

func TestCheckRules_UnknownTypeIsValidationError(t *testing.T) {
	_, err := CheckRules(models.PlanPremium, []models.AlertRule{{Type: "nope"}})
	var verr *validation.ValidationError
	assert.ErrorAs(t, err, &verr)
}
