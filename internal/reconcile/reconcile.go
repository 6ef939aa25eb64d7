// Package reconcile turns provider-shaped engine output into the stored result
// shape: page-relative 0..1 geometry, full row-major table grids and form
// fields that keep unanswered labels.
package reconcile

import (
	"math"
	"sort"

	"github.com/joseph-ayodele/docextract/internal/engine"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

// Options selects which structures are kept.
type Options struct {
	Tables bool
	Forms  bool
}

type pageDims map[int][2]float64

func dimsOf(raw *engine.RawResult) pageDims {
	d := pageDims{}
	for _, p := range raw.Pages {
		d[p.Number] = [2]float64{p.Width, p.Height}
	}
	return d
}

// box converts a provider box into page fractions. Pages without dimensions
// already report fractions; either way the result is clamped to the page.
func (d pageDims) box(page int, b engine.RawBox) entity.BoundingBox {
	w, h := 1.0, 1.0
	if dim, ok := d[page]; ok && dim[0] > 0 && dim[1] > 0 {
		w, h = dim[0], dim[1]
	}
	left := clamp01(b.Left / w)
	top := clamp01(b.Top / h)
	right := clamp01((b.Left + b.Width) / w)
	bottom := clamp01((b.Top + b.Height) / h)
	return entity.BoundingBox{
		Left:   round(left),
		Top:    round(top),
		Width:  round(math.Max(0, right-left)),
		Height: round(math.Max(0, bottom-top)),
	}
}

// Pages maps raw pages in page order.
func Pages(raw *engine.RawResult) []entity.PageResult {
	if raw == nil {
		return nil
	}
	d := dimsOf(raw)
	out := make([]entity.PageResult, 0, len(raw.Pages))
	for _, p := range raw.Pages {
		pr := entity.PageResult{PageNumber: p.Number, Text: p.Text, Confidence: p.Confidence}
		for _, b := range p.Blocks {
			pr.Blocks = append(pr.Blocks, entity.TextBlock{Text: b.Text, Confidence: b.Confidence, Box: d.box(p.Number, b.Box)})
		}
		out = append(out, pr)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PageNumber < out[j].PageNumber })
	return out
}

// Structure reconciles the tables and form fields requested by opts. Engines
// without the capability report nothing, which yields empty slices.
func Structure(raw *engine.RawResult, opts Options) ([]entity.Table, []entity.FormField) {
	tables := []entity.Table{}
	forms := []entity.FormField{}
	if raw == nil {
		return tables, forms
	}
	d := dimsOf(raw)
	if opts.Tables {
		for _, t := range raw.Tables {
			if tbl, ok := buildTable(d, t); ok {
				tables = append(tables, tbl)
			}
		}
		sort.SliceStable(tables, func(i, j int) bool {
			if tables[i].PageNumber != tables[j].PageNumber {
				return tables[i].PageNumber < tables[j].PageNumber
			}
			return tables[i].Box.Top < tables[j].Box.Top
		})
	}
	if opts.Forms {
		for _, f := range raw.FormFields {
			forms = append(forms, buildField(d, f))
		}
	}
	return tables, forms
}

func buildTable(d pageDims, t engine.RawTable) (entity.Table, bool) {
	page := t.Page
	if page <= 0 {
		page = 1
	}
	var rows, cols int
	for _, c := range t.Cells {
		if c.Row < 0 || c.Column < 0 {
			continue
		}
		rows = max(rows, c.Row+span(c.RowSpan))
		cols = max(cols, c.Column+span(c.ColumnSpan))
	}
	if rows == 0 || cols == 0 {
		return entity.Table{}, false
	}

	grid := make([][]entity.TableCell, rows)
	for r := range grid {
		grid[r] = make([]entity.TableCell, cols)
		for c := range grid[r] {
			grid[r][c] = entity.TableCell{Row: r, Column: c, RowSpan: 1, ColumnSpan: 1}
		}
	}
	filled := make(map[[2]int]bool, len(t.Cells))
	header := false
	for _, c := range t.Cells {
		if c.Row < 0 || c.Column < 0 {
			continue
		}
		key := [2]int{c.Row, c.Column}
		// duplicate positions keep the more confident reading
		if filled[key] && grid[c.Row][c.Column].Confidence >= c.Confidence {
			continue
		}
		filled[key] = true
		grid[c.Row][c.Column] = entity.TableCell{
			Row:        c.Row,
			Column:     c.Column,
			RowSpan:    span(c.RowSpan),
			ColumnSpan: span(c.ColumnSpan),
			Text:       c.Text,
			Confidence: c.Confidence,
			Box:        d.box(page, c.Box),
			IsHeader:   c.Header,
		}
		if c.Header && c.Row == 0 {
			header = true
		}
	}

	return entity.Table{
		PageNumber:   page,
		Rows:         rows,
		Columns:      cols,
		HasHeaderRow: header,
		Confidence:   t.Confidence,
		Box:          d.box(page, t.Box),
		Cells:        grid,
	}, true
}

func buildField(d pageDims, f engine.RawFormField) entity.FormField {
	page := f.Page
	if page <= 0 {
		page = 1
	}
	out := entity.FormField{
		PageNumber:      page,
		Label:           f.Label,
		LabelConfidence: f.LabelConfidence,
		LabelBox:        d.box(page, f.LabelBox),
	}
	if f.Value != nil {
		v := *f.Value
		out.Value = &v
		if f.ValueConfidence != nil {
			c := *f.ValueConfidence
			out.ValueConfidence = &c
		}
		if f.ValueBox != nil {
			b := d.box(page, *f.ValueBox)
			out.ValueBox = &b
		}
	}
	return out
}

func span(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round(v float64) float64 { return math.Round(v*1e6) / 1e6 }
