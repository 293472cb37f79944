package commands

import (
	"encoding/json"
	"testing"

	"github.com/leapstack-labs/leapask/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoctorCommand_Healthy(t *testing.T) {
	model := &testutil.FakeModel{}
	setupProject(t, model)

	out, _, err := execute(t, NewDoctorCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "# leapask Health Report")
	assert.Contains(t, out, "## Configuration")
	assert.Contains(t, out, "- datasets (success) 2 datasets, 7 rows")
	assert.Contains(t, out, "- api key (success) ********")
	assert.Contains(t, out, "- sandbox (success) in-process isolation")
	assert.Contains(t, out, "**Errors**: 0")
	assert.Zero(t, model.Calls(), "doctor must not call the model")
}

func TestDoctorCommand_Problems(t *testing.T) {
	cfg := setupProject(t, &testutil.FakeModel{})
	cfg.Model.APIKey = ""
	cfg.Datasets = nil
	cfg.DataDir = "missing"
	cfg.OutputFormat = "json"

	out, _, err := execute(t, NewDoctorCommand())
	assert.ErrorContains(t, err, "doctor found 3 problem(s)")

	var report DoctorOutput
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 3, report.Errors)

	byName := map[string]HealthCheck{}
	for _, c := range report.Checks {
		byName[c.Name] = c
	}
	assert.Equal(t, checkError, byName["data directory"].Status)
	assert.Equal(t, checkError, byName["datasets"].Status)
	assert.Equal(t, checkError, byName["api key"].Status)
	assert.Equal(t, checkPass, byName["sandbox"].Status)
}

func TestDoctorCommand_InvalidSettingsSkipDatasets(t *testing.T) {
	cfg := setupProject(t, &testutil.FakeModel{})
	cfg.Model.Temperature = 5
	cfg.OutputFormat = "json"

	out, _, err := execute(t, NewDoctorCommand())
	assert.Error(t, err)

	var report DoctorOutput
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	for _, c := range report.Checks {
		switch c.Name {
		case "settings":
			assert.Equal(t, checkError, c.Status)
			assert.Contains(t, c.Detail, "temperature")
		case "datasets":
			assert.Equal(t, checkSkip, c.Status)
		}
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", ""},
		{"short", "*****"},
		{"sk-proj-abcdef123456", "sk-...3456"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, maskKey(tt.key))
		})
	}
}
