package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/internal/engine"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

func ptr[T any](v T) *T { return &v }

func TestPages_NormalizesPixelBoxes(t *testing.T) {
	raw := &engine.RawResult{Pages: []engine.RawPage{
		{Number: 2, Text: "b", Confidence: 0.5},
		{Number: 1, Text: "a", Confidence: 0.9, Width: 200, Height: 100, Blocks: []engine.RawBlock{
			{Text: "a", Confidence: 0.9, Box: engine.RawBox{Left: 50, Top: 25, Width: 100, Height: 50}},
			{Text: "edge", Confidence: 0.8, Box: engine.RawBox{Left: 180, Top: 90, Width: 100, Height: 100}},
		}},
	}}

	pages := Pages(raw)
	require.Len(t, pages, 2)
	assert.Equal(t, 1, pages[0].PageNumber)
	assert.Equal(t, entity.BoundingBox{Left: 0.25, Top: 0.25, Width: 0.5, Height: 0.5}, pages[0].Blocks[0].Box)
	assert.Equal(t, entity.BoundingBox{Left: 0.9, Top: 0.9, Width: 0.1, Height: 0.1}, pages[0].Blocks[1].Box)
	assert.Equal(t, 2, pages[1].PageNumber)
	assert.Nil(t, Pages(nil))
}

func TestStructure_TableGridFillsGapsAndFlagsHeader(t *testing.T) {
	raw := &engine.RawResult{
		Pages: []engine.RawPage{{Number: 1}},
		Tables: []engine.RawTable{{
			Page:       1,
			Confidence: 0.88,
			Box:        engine.RawBox{Left: 0.1, Top: 0.2, Width: 0.8, Height: 0.5},
			Cells: []engine.RawCell{
				{Row: 0, Column: 0, Text: "Item", Confidence: 0.9, Header: true},
				{Row: 0, Column: 1, Text: "Qty", Confidence: 0.9, Header: true},
				{Row: 1, Column: 0, Text: "Pen", Confidence: 0.7},
				{Row: 2, Column: 1, Text: "3", Confidence: 0.6},
				{Row: 2, Column: 1, Text: "8", Confidence: 0.4},
			},
		}},
	}

	tables, forms := Structure(raw, Options{Tables: true})
	assert.Empty(t, forms)
	require.Len(t, tables, 1)
	tbl := tables[0]
	assert.Equal(t, 3, tbl.Rows)
	assert.Equal(t, 2, tbl.Columns)
	assert.True(t, tbl.HasHeaderRow)
	require.Len(t, tbl.Cells, 3)
	for _, row := range tbl.Cells {
		assert.Len(t, row, 2)
	}
	assert.Equal(t, "Qty", tbl.Cells[0][1].Text)
	assert.True(t, tbl.Cells[0][1].IsHeader)
	assert.Equal(t, "", tbl.Cells[1][1].Text)
	assert.Equal(t, 0.0, tbl.Cells[1][1].Confidence)
	assert.Equal(t, 1, tbl.Cells[1][1].Row)
	assert.Equal(t, "3", tbl.Cells[2][1].Text)
	assert.Equal(t, entity.BoundingBox{Left: 0.1, Top: 0.2, Width: 0.8, Height: 0.5}, tbl.Box)
}

func TestStructure_NoHeaderWhenProviderReportsNone(t *testing.T) {
	raw := &engine.RawResult{Tables: []engine.RawTable{{Cells: []engine.RawCell{
		{Row: 0, Column: 0, Text: "x"},
		{Row: 1, Column: 0, Text: "y", Header: true},
	}}}}
	tables, _ := Structure(raw, Options{Tables: true})
	require.Len(t, tables, 1)
	assert.False(t, tables[0].HasHeaderRow)
	assert.Equal(t, 1, tables[0].PageNumber)
}

func TestStructure_SpansExtendGrid(t *testing.T) {
	raw := &engine.RawResult{Tables: []engine.RawTable{{Page: 1, Cells: []engine.RawCell{
		{Row: 0, Column: 0, ColumnSpan: 3, Text: "Title"},
	}}}}
	tables, _ := Structure(raw, Options{Tables: true})
	require.Len(t, tables, 1)
	assert.Equal(t, 3, tables[0].Columns)
	assert.Equal(t, 3, tables[0].Cells[0][0].ColumnSpan)
}

func TestStructure_FormFieldsKeepUnansweredLabels(t *testing.T) {
	raw := &engine.RawResult{
		Pages: []engine.RawPage{{Number: 1, Width: 100, Height: 100}},
		FormFields: []engine.RawFormField{
			{Page: 1, Label: "Name", LabelConfidence: 0.9, LabelBox: engine.RawBox{Left: 10, Top: 10, Width: 20, Height: 5},
				Value: ptr("Ana"), ValueConfidence: ptr(0.8), ValueBox: &engine.RawBox{Left: 40, Top: 10, Width: 20, Height: 5}},
			{Page: 1, Label: "Phone", LabelConfidence: 0.7},
		},
	}

	tables, forms := Structure(raw, Options{Forms: true})
	assert.Empty(t, tables)
	require.Len(t, forms, 2)
	require.NotNil(t, forms[0].Value)
	assert.Equal(t, "Ana", *forms[0].Value)
	assert.Equal(t, &entity.BoundingBox{Left: 0.4, Top: 0.1, Width: 0.2, Height: 0.05}, forms[0].ValueBox)
	assert.Equal(t, entity.BoundingBox{Left: 0.1, Top: 0.1, Width: 0.2, Height: 0.05}, forms[0].LabelBox)

	assert.Equal(t, "Phone", forms[1].Label)
	assert.Nil(t, forms[1].Value)
	assert.Nil(t, forms[1].ValueConfidence)
	assert.Nil(t, forms[1].ValueBox)
}

func TestStructure_DisabledOrMissingYieldsEmpty(t *testing.T) {
	raw := &engine.RawResult{
		Tables:     []engine.RawTable{{Cells: []engine.RawCell{{Text: "x"}}}},
		FormFields: []engine.RawFormField{{Label: "x"}},
	}
	tables, forms := Structure(raw, Options{})
	assert.NotNil(t, tables)
	assert.Empty(t, tables)
	assert.Empty(t, forms)

	tables, forms = Structure(&engine.RawResult{}, Options{Tables: true, Forms: true})
	assert.Empty(t, tables)
	assert.Empty(t, forms)
}
