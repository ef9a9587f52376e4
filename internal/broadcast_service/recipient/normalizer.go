package recipient

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
)

// Normalizer canonicalizes raw phone numbers to E.164 using region-aware parsing,
// so "0917-123-4567", "63 917 123 4567" and "+639171234567" compare equal.
type Normalizer struct {
	defaultRegion string
}

// NewNormalizer returns a Normalizer that reads national-format input as defaultRegion (ISO 3166 alpha-2).
func NewNormalizer(defaultRegion string) *Normalizer {
	return &Normalizer{defaultRegion: strings.ToUpper(strings.TrimSpace(defaultRegion))}
}

func (n *Normalizer) DefaultRegion() string { return n.defaultRegion }

// Normalize returns the canonical identifier for raw or an error wrapping
// domain.ErrInvalidIdentifier. It has no side effects.
func (n *Normalizer) Normalize(raw string) (domain.Identifier, error) {
	cleaned := clean(raw)
	if cleaned == "" || cleaned == "+" {
		return domain.Identifier{}, fmt.Errorf("%w: %q", domain.ErrInvalidIdentifier, raw)
	}

	num, err := phonenumbers.Parse(cleaned, n.defaultRegion)
	if err != nil {
		return domain.Identifier{}, fmt.Errorf("%w: %q: %v", domain.ErrInvalidIdentifier, raw, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return domain.Identifier{}, fmt.Errorf("%w: %q", domain.ErrInvalidIdentifier, raw)
	}

	return domain.Identifier{
		E164:   phonenumbers.Format(num, phonenumbers.E164),
		Region: phonenumbers.GetRegionCodeForNumber(num),
	}, nil
}

// clean keeps digits and a single leading plus. Letters make the input invalid
// rather than being dropped, so group names never parse as numbers.
func clean(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')' || r == '/':
		default:
			return ""
		}
	}
	return b.String()
}
