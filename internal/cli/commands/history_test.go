package commands

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leapask/internal/state"
	"github.com/leapstack-labs/leapask/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryCommand_Empty(t *testing.T) {
	setupProject(t, &testutil.FakeModel{})

	out, _, err := execute(t, NewHistoryCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "No questions asked yet.")
}

func TestHistoryCommand_InvalidLimit(t *testing.T) {
	setupProject(t, &testutil.FakeModel{})

	_, _, err := execute(t, NewHistoryCommand(), "-n", "0")
	assert.ErrorContains(t, err, "--limit must be positive")
}

func TestHistoryCommand_ListAndShow(t *testing.T) {
	cfg := setupProject(t, &testutil.FakeModel{Program: `result = len(products)`})

	_, _, err := execute(t, NewAskCommand(), "How many products?")
	require.NoError(t, err)

	out, _, err := execute(t, NewHistoryCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "How many products?")
	assert.Contains(t, out, "answered")

	cfg.OutputFormat = "json"
	out, _, err = execute(t, NewHistoryCommand(), "-n", "1")
	require.NoError(t, err)
	var entries []state.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)

	cfg.OutputFormat = "markdown"
	out, _, err = execute(t, NewHistoryCommand(), "show", entries[0].ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "## How many products?")
	assert.Contains(t, out, "**Model:** gpt-test")
	assert.Contains(t, out, "**Result:** scalar")
}

func TestHistoryShow_Errors(t *testing.T) {
	setupProject(t, &testutil.FakeModel{})

	_, _, err := execute(t, NewHistoryCommand(), "show", "not-a-uuid")
	assert.ErrorContains(t, err, `invalid ask id "not-a-uuid"`)

	id := uuid.New()
	_, _, err = execute(t, NewHistoryCommand(), "show", id.String())
	assert.ErrorContains(t, err, "ask not found: "+id.String())
}
