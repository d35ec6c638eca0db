package ident

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShape(t *testing.T) {
	id := New()
	assert.Len(t, id, 26)

	parsed, err := Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestNewSortable(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = New()
	}
	assert.True(t, sort.StringsAreSorted(ids), "identifiers must sort in generation order")
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, bad := range []string{
		"",
		"not-an-id",
		"01ARZ3NDEKTSV4RRFFQ69G5FA",   // 25 chars
		"01ARZ3NDEKTSV4RRFFQ69G5FAVX", // 27 chars
		"01ARZ3NDEKTSV4RRFFQ69G5FAU",  // 'U' not in Crockford base32
		"老ARZ3NDEKTSV4RRFFQ69G5FAV",
	} {
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrInvalidID, "input %q", bad)
	}
}

func TestParseCanonicalizes(t *testing.T) {
	id := New()
	assert.Equal(t, id, mustParse(t, id))
}

func TestOrNew(t *testing.T) {
	id, err := OrNew("")
	require.NoError(t, err)
	assert.Len(t, id, 26)

	same, err := OrNew(id)
	require.NoError(t, err)
	assert.Equal(t, id, same)

	_, err = OrNew("bogus")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestTimeEmbedded(t *testing.T) {
	before := time.Now().UTC().Truncate(time.Millisecond)
	id := New()
	after := time.Now().UTC()

	ts := Time(id)
	assert.False(t, ts.Before(before))
	assert.False(t, ts.After(after))

	assert.True(t, Time("bogus").IsZero())
}

func mustParse(t *testing.T, s string) string {
	t.Helper()
	id, err := Parse(s)
	require.NoError(t, err)
	return id
}
