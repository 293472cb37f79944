package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAdapter(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"duckdb", Config{Type: "duckdb"}, ""},
		{"missing type", Config{}, "adapter type not specified"},
		{"unknown type", Config{Type: "oracle"}, `unknown adapter type "oracle"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adp, err := NewAdapter(tt.cfg, nil)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "duckdb", adp.DialectName())
		})
	}
}

func TestNewAdapter_UnknownListsAvailable(t *testing.T) {
	_, err := NewAdapter(Config{Type: "nope"}, nil)
	var unknown *UnknownAdapterError
	require.ErrorAs(t, err, &unknown)
	assert.Contains(t, unknown.Available, "duckdb")
	assert.Contains(t, ListAdapters(), "duckdb")
}
