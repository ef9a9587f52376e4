package recipient

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
)

func TestNormalizer_EquivalentSpellings(t *testing.T) {
	n := NewNormalizer("PH")
	spellings := []string{
		"+639171234567",
		"+63 917 123 4567",
		"09171234567",
		"0917-123-4567",
		"(0917) 123 4567",
		"639171234567",
	}
	for _, s := range spellings {
		id, err := n.Normalize(s)
		require.NoError(t, err, s)
		assert.Equal(t, "+639171234567", id.E164, s)
		assert.Equal(t, "PH", id.Region, s)
	}
}

func TestNormalizer_Idempotent(t *testing.T) {
	n := NewNormalizer("PH")
	for _, s := range []string{"0918 123 4567", "+1 650-253-0000", "+639191234567"} {
		first, err := n.Normalize(s)
		require.NoError(t, err)
		second, err := n.Normalize(first.E164)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func TestNormalizer_ForeignNumberKeepsItsRegion(t *testing.T) {
	id, err := NewNormalizer("PH").Normalize("+1 650 253 0000")
	require.NoError(t, err)
	assert.Equal(t, "+16502530000", id.E164)
	assert.Equal(t, "US", id.Region)
}

func TestNormalizer_Rejects(t *testing.T) {
	n := NewNormalizer("PH")
	for _, s := range []string{"", "   ", "+", "Staff", "12", "0917abc4567", "++639171234567"} {
		_, err := n.Normalize(s)
		assert.True(t, errors.Is(err, domain.ErrInvalidIdentifier), "input %q", s)
	}
}
