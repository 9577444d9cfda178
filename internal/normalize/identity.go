package normalize

import "strings"

// Identity is the canonical (brand, model, memory, color) tuple of a product.
type Identity struct {
	Brand  string
	Model  string
	Memory string
	Color  string
}

// NewIdentity canonicalizes raw identity fields. Memory and color values the
// tables do not recognize are kept (whitespace-collapsed) rather than dropped,
// so two genuinely different variants never merge into one product.
func NewIdentity(brand, model, memory, color string) Identity {
	id := Identity{
		Brand: collapse(brand),
		Model: collapse(model),
	}

	if m, ok := Memory(memory); ok {
		id.Memory = m
	} else {
		id.Memory = strings.ToUpper(collapse(memory))
	}

	if c, ok := Color(color); ok {
		id.Color = c
	} else {
		id.Color = cleanColor(color)
	}

	return id
}

// Key is the case-insensitive identity key. Two identities with equal keys
// denote the same product.
func (id Identity) Key() string {
	parts := []string{id.Brand, id.Model, id.Memory, id.Color}
	for i, p := range parts {
		parts[i] = foldAccents(p)
	}
	return strings.Join(parts, "\x1f")
}
