// Package normalize canonicalizes the loosely formatted strings handed over by
// source extractors into comparable identity keys and display names. Every
// function is pure: identical input always yields identical output.
package normalize

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRe    = regexp.MustCompile(`\s+`)
	parentheticalRe = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)
	capacityRe      = regexp.MustCompile(`^(\d+(?:[.,]\d+)?)\s?(GB|TB|MB)$`)
	capacityTokenRe = regexp.MustCompile(`^\d+(?:[.,]\d+)?(gb|tb|mb)$`)
	sizeTokenRe     = regexp.MustCompile(`^\d+(?:[.,]\d+)?("|''|cm|mm|in|inch|pulgadas|polegadas)$`)
	numberRe        = regexp.MustCompile(`^\d+(?:[.,]\d+)?$`)
	separatorRe     = regexp.MustCompile(`[\-–—,/|]+`)
)

// leading prepositions and labels that sources put in front of a color name
var colorPrefixes = []string{"color ", "colour ", "cor ", "en ", "em ", "in ", "de ", "do ", "da "}

var unitTokens = map[string]bool{"gb": true, "tb": true, "mb": true}

var sizeUnitTokens = map[string]bool{
	`"`: true, "cm": true, "mm": true, "inch": true, "pulgadas": true, "polegadas": true,
}

var marketingTokens = map[string]bool{
	"smartphone": true, "telemovel": true, "movil": true, "telefono": true,
	"libre": true, "livre": true, "nuevo": true, "novo": true, "new": true,
	"version": true, "versao": true, "oferta": true, "dual": true, "sim": true,
	"esim": true, "desbloqueado": true, "unlocked": true, "renovado": true,
	"reacondicionado": true, "refurbished": true, "con": true, "com": true, "with": true,
}

// foldAccents lowercases s and removes combining marks, so "Marrón" and
// "marron" compare equal.
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// Memory canonicalizes a storage capacity such as "128 gb" to "128GB". It
// reports false when raw does not look like a capacity.
func Memory(raw string) (string, bool) {
	s := strings.ToUpper(collapse(raw))
	m := capacityRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return strings.ReplaceAll(m[1], ",", ".") + m[2], true
}

// Color maps a color name in any supported language to its canonical English
// name. Canonical names pass through; anything else reports false.
func Color(raw string) (string, bool) {
	s := cleanColor(raw)
	if s == "" {
		return "", false
	}
	if c, ok := colorTable[s]; ok {
		return c, true
	}
	if canonicalColors[s] {
		return s, true
	}
	return "", false
}

func cleanColor(raw string) string {
	s := foldAccents(raw)
	s = parentheticalRe.ReplaceAllString(s, " ")
	s = collapse(s)
	for _, p := range colorPrefixes {
		if strings.HasPrefix(s, p) {
			s = strings.TrimSpace(strings.TrimPrefix(s, p))
			break
		}
	}
	return s
}

// isColorWord reports whether a single folded token names a color.
func isColorWord(token string) bool {
	if _, ok := colorTable[token]; ok {
		return true
	}
	return canonicalColors[token]
}

// URL keeps scheme, host and path and drops query and fragment, so the same
// listing reached through tracking links deduplicates to one offer.
func URL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q must be absolute", raw)
	}

	out := url.URL{
		Scheme: strings.ToLower(u.Scheme),
		Host:   strings.ToLower(u.Host),
		Path:   u.Path,
	}
	return out.String(), nil
}

// Model isolates the model substring of a free-text title: parentheticals,
// brand repetitions, capacities, screen sizes, colors and marketing words are
// removed, repeated words collapsed, and at most six words kept.
func Model(brand, rawModelText string) string {
	s := parentheticalRe.ReplaceAllString(rawModelText, " ")
	s = separatorRe.ReplaceAllString(s, " ")
	tokens := strings.Fields(s)
	brandKey := foldAccents(collapse(brand))

	kept := make([]string, 0, len(tokens))
	seen := make(map[string]bool)
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		key := foldAccents(tok)

		if i+1 < len(tokens) && numberRe.MatchString(key) {
			next := foldAccents(tokens[i+1])
			if unitTokens[next] || sizeUnitTokens[next] {
				i++
				continue
			}
		}
		if i+1 < len(tokens) && isColorWord(key+" "+foldAccents(tokens[i+1])) {
			i++
			continue
		}

		switch {
		case key == brandKey,
			capacityTokenRe.MatchString(key),
			sizeTokenRe.MatchString(key),
			isColorWord(key),
			marketingTokens[key],
			seen[key]:
			continue
		}

		seen[key] = true
		kept = append(kept, tok)
		if len(kept) == 6 {
			break
		}
	}

	// cases.Caser is stateful, so one per call
	caser := cases.Title(language.Und, cases.NoLower)
	for i, w := range kept {
		if w == strings.ToLower(w) {
			kept[i] = caser.String(w)
		}
	}
	return strings.Join(kept, " ")
}

// Title builds the canonical display name "{brand} {Model} ({memory}) - {color}",
// omitting absent segments.
func Title(brand, rawModelText, memory, color string) string {
	var b strings.Builder
	b.WriteString(collapse(brand))
	if model := Model(brand, rawModelText); model != "" {
		b.WriteString(" ")
		b.WriteString(model)
	}
	if memory != "" {
		b.WriteString(" (")
		b.WriteString(memory)
		b.WriteString(")")
	}
	if color != "" {
		b.WriteString(" - ")
		b.WriteString(color)
	}
	return strings.TrimSpace(b.String())
}
