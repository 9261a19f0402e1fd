package display_test

import (
	"strings"
	"testing"

	"github.com/dosco/nlsqld/internal/display"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func columns(table string) ([]string, bool) {
	switch table {
	case "employee":
		return []string{"id", "firstName", "lastName", "active"}, true
	default:
		return nil, false
	}
}

func TestLoadAndProjection(t *testing.T) {
	json := `{"employee": {"display_columns": ["firstName", "lastName"], "primary_label": ["firstName", "lastName"]}}`
	reg, err := display.Load(strings.NewReader(json), columns)
	require.NoError(t, err)

	assert.Equal(t, []string{"firstName", "lastName"}, reg.Projection("employee", []string{"id", "firstName", "lastName", "active"}))
	assert.Equal(t, "Jane Doe", reg.Label("employee", map[string]any{"firstName": "Jane", "lastName": "Doe"}))
}

func TestProjectionFallsBackWithoutAttributes(t *testing.T) {
	reg, err := display.Load(strings.NewReader(`{}`), columns)
	require.NoError(t, err)
	all := []string{"id", "firstName"}
	assert.Equal(t, all, reg.Projection("employee", all))
}

func TestLoadRejectsUnknownColumn(t *testing.T) {
	json := `{"employee": {"display_columns": ["nope"]}}`
	_, err := display.Load(strings.NewReader(json), columns)
	assert.Error(t, err)
}
