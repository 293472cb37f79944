package sandbox

import (
	"bytes"
	"encoding/json"
	"math"
	"testing"

	"github.com/leapstack-labs/leapask/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTrip pushes v through JSON the way the worker protocol does.
func roundTrip[T any](t *testing.T, v T) T {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out T
	require.NoError(t, dec.Decode(&out))
	return out
}

func TestWireFrame_RoundTrip(t *testing.T) {
	f, err := frame.New(
		frame.NewColumn("id", []any{1, 2, nil}),
		frame.NewColumn("amount", []any{1.5, math.NaN(), 3.0}),
		frame.NewColumn("name", []any{"a", "b", nil}),
		frame.NewColumn("paid", []any{true, false, nil}),
		frame.NewColumn("at", []any{day(1), nil, day(3)}),
		frame.NewColumn("mixed", []any{1, "x", day(2)}),
	)
	require.NoError(t, err)

	got, err := decodeFrame(roundTrip(t, encodeFrame(f)))
	require.NoError(t, err)

	assert.Equal(t, f.Names(), got.Names())
	for _, want := range f.Columns() {
		col, ok := got.Column(want.Name)
		require.True(t, ok)
		assert.Equal(t, want.Kind, col.Kind, want.Name)
	}

	id, _ := got.Column("id")
	assert.Equal(t, []any{int64(1), int64(2), nil}, id.Values)
	amount, _ := got.Column("amount")
	assert.Equal(t, []any{1.5, nil, 3.0}, amount.Values, "NaN travels as a missing value")
	at, _ := got.Column("at")
	assert.Equal(t, []any{day(1), nil, day(3)}, at.Values)
	mixed, _ := got.Column("mixed")
	assert.Equal(t, []any{int64(1), "x", day(2)}, mixed.Values)
}

func TestWireFrame_DecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		frame   wireFrame
		wantErr string
	}{
		{
			name:    "unknown kind",
			frame:   wireFrame{Columns: []wireColumn{{Name: "a", Kind: "blob", Values: []any{}}}},
			wantErr: `unknown column kind "blob"`,
		},
		{
			name:    "wrong cell type",
			frame:   wireFrame{Columns: []wireColumn{{Name: "a", Kind: "int", Values: []any{"x"}}}},
			wantErr: `column "a" row 0`,
		},
		{
			name:    "untagged object cell",
			frame:   wireFrame{Columns: []wireColumn{{Name: "a", Kind: "object", Values: []any{"x"}}}},
			wantErr: "expected a tagged cell",
		},
		{
			name: "ragged",
			frame: wireFrame{Columns: []wireColumn{
				{Name: "a", Kind: "string", Values: []any{"x"}},
				{Name: "b", Kind: "string", Values: []any{}},
			}},
			wantErr: `column "b" has 0 rows`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeFrame(tt.frame)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWireValue_RoundTrip(t *testing.T) {
	table, err := frame.New(frame.NewColumn("n", []any{1, 2}))
	require.NoError(t, err)

	tests := []struct {
		name  string
		value Value
		want  Value
	}{
		{name: "nil", value: nil, want: nil},
		{name: "int scalar", value: Scalar{V: int64(42)}, want: Scalar{V: int64(42)}},
		{name: "float scalar", value: Scalar{V: 2.0}, want: Scalar{V: 2.0}},
		{name: "string scalar", value: Scalar{V: "hi"}, want: Scalar{V: "hi"}},
		{name: "time scalar", value: Scalar{V: day(5)}, want: Scalar{V: day(5)}},
		{name: "none scalar", value: Scalar{}, want: Scalar{}},
		{
			name:  "list",
			value: List{Items: []any{int64(1), 2.5, "x", []any{int64(3)}}},
			want:  List{Items: []any{int64(1), 2.5, "x", []any{int64(3)}}},
		},
		{name: "empty list", value: List{Items: []any{}}, want: List{Items: []any{}}},
		{
			name:  "mapping keeps key order",
			value: Mapping{Items: map[string]any{"b": int64(1), "a": "x"}, Keys: []string{"b", "a"}},
			want:  Mapping{Items: map[string]any{"b": int64(1), "a": "x"}, Keys: []string{"b", "a"}},
		},
		{
			name:  "whole floats inside lists stay floats",
			value: List{Items: []any{1.0, 2.5, []any{3.0, int64(3)}}},
			want:  List{Items: []any{1.0, 2.5, []any{3.0, int64(3)}}},
		},
		{
			name:  "whole floats inside mappings stay floats",
			value: Mapping{Items: map[string]any{"mean": 2.0, "nested": map[string]any{"n": int64(2), "x": 4.0}}, Keys: []string{"mean", "nested"}},
			want:  Mapping{Items: map[string]any{"mean": 2.0, "nested": map[string]any{"n": int64(2), "x": 4.0}}, Keys: []string{"mean", "nested"}},
		},
		{
			name:  "times and nulls inside lists",
			value: List{Items: []any{day(1), nil, true}},
			want:  List{Items: []any{day(1), nil, true}},
		},
		{name: "unsupported", value: Unsupported{TypeName: "function"}, want: Unsupported{TypeName: "function"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := roundTrip(t, workerResponse{Value: encodeValue(tt.value)})
			got, err := decodeValue(w.Value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("table", func(t *testing.T) {
		w := roundTrip(t, workerResponse{Value: encodeValue(Table{Frame: table})})
		got, err := decodeValue(w.Value)
		require.NoError(t, err)
		tbl, ok := got.(Table)
		require.True(t, ok)
		col, _ := tbl.Frame.Column("n")
		assert.Equal(t, []any{int64(1), int64(2)}, col.Values)
	})
}

func TestDecodeValue_Errors(t *testing.T) {
	_, err := decodeValue(&wireValue{Type: "table"})
	assert.EqualError(t, err, "table value without data")

	_, err = decodeValue(&wireValue{Type: "matrix"})
	assert.EqualError(t, err, `unknown value type "matrix"`)

	_, err = decodeValue(&wireValue{Type: "list", Items: []any{map[string]any{"kind": "list", "value": "x"}}})
	assert.EqualError(t, err, "item 0: expected list items, got string")
}
