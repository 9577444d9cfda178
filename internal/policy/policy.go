// Package policy enforces what each subscription plan may do with favorites
// and alert rules.
package policy

import (
	"errors"
	"fmt"

	"price-tracker-api/internal/models"
	"price-tracker-api/internal/rules"
)

// Reason names why the gate refused a request.
type Reason string

const (
	ReasonLimitExceeded     Reason = "limit-exceeded"
	ReasonRuleTypeForbidden Reason = "rule-type-forbidden"
	ReasonValueRequired     Reason = "value-required"
)

const (
	FreemiumMaxFavorites = 5
	FreemiumMaxRules     = 1
)

var freemiumRuleTypes = map[rules.Type]bool{
	rules.TypeChanged:   true,
	rules.TypeDropped:   true,
	rules.TypeIncreased: true,
}

// DeniedError is returned when the plan does not permit the request.
type DeniedError struct {
	Reason Reason
	Detail string
}

func (e *DeniedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("policy denied: %s", e.Reason)
	}
	return fmt.Sprintf("policy denied: %s: %s", e.Reason, e.Detail)
}

// IsDenied reports whether err carries a DeniedError with the given reason.
func IsDenied(err error, reason Reason) bool {
	var d *DeniedError
	return errors.As(err, &d) && d.Reason == reason
}

// AllowsRuleType reports whether plan may use rule type t.
func AllowsRuleType(plan models.Plan, t rules.Type) bool {
	if plan == models.PlanPremium {
		return true
	}
	return freemiumRuleTypes[t]
}

// CheckFavoriteCreate decides whether a user with activeFavorites active
// favorites may create one more.
func CheckFavoriteCreate(plan models.Plan, activeFavorites int) error {
	if plan == models.PlanPremium {
		return nil
	}
	if activeFavorites >= FreemiumMaxFavorites {
		return &DeniedError{
			Reason: ReasonLimitExceeded,
			Detail: fmt.Sprintf("freemium plan allows at most %d active favorites", FreemiumMaxFavorites),
		}
	}
	return nil
}

// CheckRules parses the wire rules and checks them against plan. Unknown
// rule types surface as the parser's validation error.
func CheckRules(plan models.Plan, in []models.AlertRule) ([]rules.Rule, error) {
	parsed, err := rules.ParseAll(in)
	if err != nil {
		if errors.Is(err, rules.ErrValueRequired) {
			return nil, &DeniedError{Reason: ReasonValueRequired, Detail: err.Error()}
		}
		return nil, err
	}

	if plan == models.PlanPremium {
		return parsed, nil
	}
	if len(parsed) > FreemiumMaxRules {
		return nil, &DeniedError{
			Reason: ReasonLimitExceeded,
			Detail: fmt.Sprintf("freemium plan allows at most %d alert rule", FreemiumMaxRules),
		}
	}
	for _, r := range parsed {
		if !AllowsRuleType(plan, r.Type()) {
			return nil, &DeniedError{Reason: ReasonRuleTypeForbidden, Detail: string(r.Type())}
		}
	}
	return parsed, nil
}
