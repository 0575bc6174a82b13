package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeText_StripsMarkup(t *testing.T) {
	assert.Equal(t, "Yes please", SanitizeText("  <b>Yes</b> please "))
	assert.Equal(t, "Tom & Jerry", SanitizeText("Tom & Jerry"))
}

func TestCleanText(t *testing.T) {
	got, err := CleanText("answer", "Bitcoin", 10, true)
	require.NoError(t, err)
	assert.Equal(t, "Bitcoin", got)

	_, err = CleanText("answer", "   ", 10, true)
	assert.ErrorIs(t, err, ErrInvalidText)

	_, err = CleanText("answer", strings.Repeat("é", 11), 10, true)
	assert.ErrorIs(t, err, ErrInvalidText)

	got, err = CleanText("description", "", 10, false)
	require.NoError(t, err)
	assert.Empty(t, got)
}
