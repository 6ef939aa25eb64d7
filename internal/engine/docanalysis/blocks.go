package docanalysis

import (
	"slices"
	"strings"

	"github.com/joseph-ayodele/docextract/internal/engine"
)

var responseSchema = engine.MustCompileSchema("docanalysis-response.json", map[string]any{
	"type":     "object",
	"required": []any{"Blocks"},
	"properties": map[string]any{
		"ModelVersion": map[string]any{"type": "string"},
		"Blocks": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"Id", "BlockType"},
				"properties": map[string]any{
					"Id":         map[string]any{"type": "string"},
					"BlockType":  map[string]any{"type": "string"},
					"Confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 100},
				},
			},
		},
	},
})

type analyzeResponse struct {
	ModelVersion string  `json:"ModelVersion"`
	Blocks       []block `json:"Blocks"`
}

type block struct {
	ID            string         `json:"Id"`
	BlockType     string         `json:"BlockType"`
	Text          string         `json:"Text"`
	Confidence    float64        `json:"Confidence"` // 0..100
	Page          int            `json:"Page"`
	RowIndex      int            `json:"RowIndex"` // 1-based
	ColumnIndex   int            `json:"ColumnIndex"`
	RowSpan       int            `json:"RowSpan"`
	ColumnSpan    int            `json:"ColumnSpan"`
	EntityTypes   []string       `json:"EntityTypes"`
	Geometry      geometry       `json:"Geometry"`
	Relationships []relationship `json:"Relationships"`
}

type geometry struct {
	BoundingBox struct {
		Left   float64 `json:"Left"`
		Top    float64 `json:"Top"`
		Width  float64 `json:"Width"`
		Height float64 `json:"Height"`
	} `json:"BoundingBox"`
}

type relationship struct {
	Type string   `json:"Type"`
	IDs  []string `json:"Ids"`
}

func (b *block) box() engine.RawBox {
	bb := b.Geometry.BoundingBox
	return engine.RawBox{Left: bb.Left, Top: bb.Top, Width: bb.Width, Height: bb.Height}
}

func (b *block) conf() float64 { return b.Confidence / 100 }

func (b *block) related(kind string) []string {
	var ids []string
	for _, r := range b.Relationships {
		if r.Type == kind {
			ids = append(ids, r.IDs...)
		}
	}
	return ids
}

func (b *block) page() int {
	if b.Page <= 0 {
		return 1
	}
	return b.Page
}

type graph struct {
	byID  map[string]*block
	order []*block
}

func newGraph(blocks []block) *graph {
	g := &graph{byID: make(map[string]*block, len(blocks))}
	for i := range blocks {
		b := &blocks[i]
		g.byID[b.ID] = b
		g.order = append(g.order, b)
	}
	return g
}

// childText joins WORD children (and selected checkboxes) of a block.
func (g *graph) childText(b *block) string {
	var parts []string
	for _, id := range b.related("CHILD") {
		c, ok := g.byID[id]
		if !ok {
			continue
		}
		switch c.BlockType {
		case "WORD":
			parts = append(parts, c.Text)
		case "SELECTION_ELEMENT":
			parts = append(parts, "[x]")
		}
	}
	return strings.Join(parts, " ")
}

// pages builds one RawPage per PAGE block from its LINE blocks. Boxes are
// already normalized so Width/Height stay zero.
func (g *graph) pages() []engine.RawPage {
	byPage := map[int]*engine.RawPage{}
	var numbers []int
	get := func(n int) *engine.RawPage {
		p, ok := byPage[n]
		if !ok {
			p = &engine.RawPage{Number: n}
			byPage[n] = p
			numbers = append(numbers, n)
		}
		return p
	}
	for _, b := range g.order {
		switch b.BlockType {
		case "PAGE":
			get(b.page())
		case "LINE":
			p := get(b.page())
			p.Blocks = append(p.Blocks, engine.RawBlock{Text: b.Text, Confidence: b.conf(), Box: b.box()})
		}
	}
	slices.Sort(numbers)
	out := make([]engine.RawPage, 0, len(numbers))
	for _, n := range numbers {
		p := byPage[n]
		lines := make([]string, 0, len(p.Blocks))
		var sum float64
		for _, bl := range p.Blocks {
			lines = append(lines, bl.Text)
			sum += bl.Confidence
		}
		if len(p.Blocks) > 0 {
			p.Confidence = sum / float64(len(p.Blocks))
		}
		p.Text = strings.Join(lines, "\n")
		out = append(out, *p)
	}
	return out
}

func (g *graph) tables() []engine.RawTable {
	var out []engine.RawTable
	for _, b := range g.order {
		if b.BlockType != "TABLE" {
			continue
		}
		t := engine.RawTable{Page: b.page(), Confidence: b.conf(), Box: b.box()}
		for _, id := range b.related("CHILD") {
			c, ok := g.byID[id]
			if !ok || c.BlockType != "CELL" || c.RowIndex < 1 || c.ColumnIndex < 1 {
				continue
			}
			t.Cells = append(t.Cells, engine.RawCell{
				Row:        c.RowIndex - 1,
				Column:     c.ColumnIndex - 1,
				RowSpan:    c.RowSpan,
				ColumnSpan: c.ColumnSpan,
				Text:       g.childText(c),
				Confidence: c.conf(),
				Box:        c.box(),
				Header:     slices.Contains(c.EntityTypes, "COLUMN_HEADER"),
			})
		}
		out = append(out, t)
	}
	return out
}

// formFields pairs KEY blocks with their VALUE blocks. A key with no value
// block, or an empty value, yields a nil Value.
func (g *graph) formFields() []engine.RawFormField {
	var out []engine.RawFormField
	for _, b := range g.order {
		if b.BlockType != "KEY_VALUE_SET" || !slices.Contains(b.EntityTypes, "KEY") {
			continue
		}
		f := engine.RawFormField{
			Page:            b.page(),
			Label:           g.childText(b),
			LabelConfidence: b.conf(),
			LabelBox:        b.box(),
		}
		for _, id := range b.related("VALUE") {
			v, ok := g.byID[id]
			if !ok {
				continue
			}
			text := g.childText(v)
			if text == "" {
				continue
			}
			conf := v.conf()
			box := v.box()
			f.Value, f.ValueConfidence, f.ValueBox = &text, &conf, &box
			break
		}
		out = append(out, f)
	}
	return out
}
