package starlark

import (
	"testing"
	"time"

	"github.com/leapstack-labs/leapask/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
)

func TestGoToStarlark(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		wantStr string
		wantErr bool
	}{
		{name: "string", input: "hello", wantStr: `"hello"`},
		{name: "int", input: 42, wantStr: "42"},
		{name: "int64", input: int64(123456789), wantStr: "123456789"},
		{name: "float64", input: 3.14, wantStr: "3.14"},
		{name: "bool true", input: true, wantStr: "True"},
		{name: "nil", input: nil, wantStr: "None"},
		{name: "string slice", input: []string{"a", "b", "c"}, wantStr: `["a", "b", "c"]`},
		{name: "empty string slice", input: []string{}, wantStr: "[]"},
		{name: "any slice", input: []any{"x", 1, true}, wantStr: `["x", 1, True]`},
		{name: "map keys sorted", input: map[string]any{"b": 2, "a": 1}, wantStr: `{"a": 1, "b": 2}`},
		{name: "unsupported", input: struct{}{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GoToStarlark(tt.input)
			if tt.wantErr {
				assert.Error(t, err, "expected error")
				return
			}
			require.NoError(t, err, "unexpected error")
			assert.Equal(t, tt.wantStr, got.String(), "GoToStarlark()")
		})
	}
}

func TestGoToStarlark_Frame(t *testing.T) {
	f, err := frame.New(frame.NewColumn("a", []any{1, 2}))
	require.NoError(t, err)

	v, err := GoToStarlark(f)
	require.NoError(t, err)
	df, ok := v.(*DataFrame)
	require.True(t, ok, "expected *DataFrame, got %T", v)
	assert.Same(t, f, df.Frame())
}

func TestToGo(t *testing.T) {
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	dict := starlark.NewDict(1)
	require.NoError(t, dict.SetKey(starlark.String("k"), starlark.MakeInt(1)))

	tests := []struct {
		name    string
		input   starlark.Value
		want    any
		wantErr bool
	}{
		{name: "string", input: starlark.String("hello"), want: "hello"},
		{name: "int", input: starlark.MakeInt(42), want: int64(42)},
		{name: "float", input: starlark.Float(3.14), want: 3.14},
		{name: "bool", input: starlark.Bool(false), want: false},
		{name: "none", input: starlark.None, want: nil},
		{name: "time", input: startime.Time(ts), want: ts},
		{name: "tuple", input: starlark.Tuple{starlark.MakeInt(1), starlark.String("a")}, want: []any{int64(1), "a"}},
		{name: "dict", input: dict, want: map[string]any{"k": int64(1)}},
		{name: "function", input: starlark.NewBuiltin("f", nil), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToGo(tt.input)
			if tt.wantErr {
				assert.Error(t, err, "expected error")
				return
			}
			require.NoError(t, err, "unexpected error")
			assert.Equal(t, tt.want, got, "ToGo()")
		})
	}
}

func TestToGo_Containers(t *testing.T) {
	cyclicList := starlark.NewList([]starlark.Value{starlark.MakeInt(1)})
	require.NoError(t, cyclicList.Append(cyclicList))

	cyclicDict := starlark.NewDict(1)
	require.NoError(t, cyclicDict.SetKey(starlark.String("self"), cyclicDict))

	shared := starlark.NewList([]starlark.Value{starlark.MakeInt(1)})
	twice := starlark.NewList([]starlark.Value{shared, shared})

	deep := starlark.Value(starlark.NewList(nil))
	for range maxNesting + 1 {
		deep = starlark.NewList([]starlark.Value{deep})
	}

	tests := []struct {
		name    string
		input   starlark.Value
		want    any
		wantErr string
	}{
		{name: "cyclic list", input: cyclicList, wantErr: "cyclic list"},
		{name: "cyclic dict", input: cyclicDict, wantErr: "cyclic dict"},
		{name: "shared list", input: twice, want: []any{[]any{int64(1)}, []any{int64(1)}}},
		{name: "too deep", input: deep, wantErr: "nested deeper than"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToGo(tt.input)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToCell_DurationIsDays(t *testing.T) {
	got, err := toCell(startime.Duration(36 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1.5, got)
}
