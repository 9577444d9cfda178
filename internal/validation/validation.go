package validation

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"price-tracker-api/internal/models"
)

var (
	uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	tagRegex  = regexp.MustCompile(`<[a-zA-Z/!][^>]*>`)
)

const (
	maxFieldLength   = 512
	maxRulesPerInput = 20
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateCandidate checks the fields reconciliation depends on. It does not
// normalize; that is the normalizer's job.
func ValidateCandidate(c models.Candidate) error {
	if !IsPositivePrice(c.Price) {
		return &ValidationError{Field: "price", Message: "must be a positive finite number"}
	}

	required := []struct {
		field string
		value string
	}{
		{"brand", c.Brand},
		{"model", c.Model},
		{"source", c.Source},
		{"url", c.URL},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ValidationError{Field: r.field, Message: "is required"}
		}
		if len(r.value) > maxFieldLength {
			return &ValidationError{Field: r.field, Message: "is too long"}
		}
	}

	if c.ParentID != "" {
		if err := ValidateUUID(c.ParentID, "parent_id"); err != nil {
			return err
		}
	}

	return nil
}

// IsPositivePrice reports whether v is usable as a price.
func IsPositivePrice(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// ValidateAlertCount rejects empty or absurd rule lists. Plan limits are
// enforced separately by the policy gate.
func ValidateAlertCount(alerts []models.AlertRule) error {
	if len(alerts) == 0 {
		return &ValidationError{Field: "alerts", Message: "at least one alert is required"}
	}
	if len(alerts) > maxRulesPerInput {
		return &ValidationError{Field: "alerts", Message: fmt.Sprintf("cannot contain more than %d alerts", maxRulesPerInput)}
	}
	return nil
}

// SanitizeCandidate strips control characters and markup from every string field.
func SanitizeCandidate(c models.Candidate) models.Candidate {
	c.Brand = StripMarkup(c.Brand)
	c.Model = StripMarkup(c.Model)
	c.Memory = StripMarkup(c.Memory)
	c.Color = StripMarkup(c.Color)
	c.Name = StripMarkup(c.Name)
	c.Source = SanitizeString(c.Source)
	c.URL = SanitizeString(c.URL)
	c.Category = StripMarkup(c.Category)
	c.Currency = strings.ToUpper(SanitizeString(c.Currency))
	c.ImageURL = SanitizeString(c.ImageURL)
	c.ParentID = SanitizeString(c.ParentID)
	return c
}

// StripMarkup returns the text content of s when it carries HTML tags or
// entities, and the sanitized string otherwise.
func StripMarkup(s string) string {
	if !tagRegex.MatchString(s) && !strings.Contains(s, "&") {
		return SanitizeString(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return SanitizeString(s)
	}
	return SanitizeString(doc.Text())
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

func ValidateUUID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	id = SanitizeString(id)

	if !uuidRegex.MatchString(strings.ToLower(id)) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be a valid UUID v4",
		}
	}

	return nil
}
