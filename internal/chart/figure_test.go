package chart

import (
	"bytes"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFigure_MarshalJSON(t *testing.T) {
	f := New()
	f.Layout = Layout{Title: "Revenue", XTitle: "month", YTitle: "total"}
	f.AddTrace(&Trace{
		Type: TraceBar,
		X:    []any{"Jan", "Feb", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		Y:    []any{1.5, math.NaN(), int64(3)},
	})

	raw, err := json.Marshal(f)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))

	data := doc["data"].([]any)
	require.Len(t, data, 1)
	trace := data[0].(map[string]any)
	assert.Equal(t, "bar", trace["type"])
	assert.Equal(t, []any{"Jan", "Feb", "2024-03-01T00:00:00"}, trace["x"])
	assert.Equal(t, []any{1.5, nil, 3.0}, trace["y"])

	layout := doc["layout"].(map[string]any)
	assert.Equal(t, map[string]any{"text": "Revenue"}, layout["title"])
	assert.Equal(t, map[string]any{"title": map[string]any{"text": "month"}}, layout["xaxis"])
}

func TestFigure_RoundTrip(t *testing.T) {
	f := New()
	f.Layout.Title = "Share"
	f.AddTrace(&Trace{Type: TracePie, Labels: []any{"a", "b"}, Values: []any{1.0, 2.0}})

	raw, err := json.Marshal(f)
	require.NoError(t, err)

	var back Figure
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, "Share", back.Layout.Title)
	require.Len(t, back.Traces, 1)
	assert.Equal(t, TracePie, back.Traces[0].Type)
	assert.Equal(t, 2, back.Traces[0].Len())
}

func TestFigure_Empty(t *testing.T) {
	f := New()
	assert.True(t, f.Empty())
	f.AddTrace(&Trace{Type: TraceScatter})
	assert.True(t, f.Empty())
	f.AddTrace(&Trace{Type: TraceScatter, X: []any{1.0}, Y: []any{2.0}})
	assert.False(t, f.Empty())
	assert.Contains(t, f.Summary(), "2 trace(s) [scatter, scatter], 1 point(s)")
}

func TestWriteHTML(t *testing.T) {
	f := New()
	f.Layout.Title = "<Sales>"
	f.AddTrace(&Trace{Type: TraceBar, X: []any{"a"}, Y: []any{1.0}})

	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, f))
	out := buf.String()
	assert.Contains(t, out, PlotlyCDN)
	assert.Contains(t, out, "Plotly.newPlot")
	assert.Contains(t, out, "&lt;Sales&gt;")
}
