// Package engine defines the capability interface every extraction provider
// implements and the common result shape adapters normalize into.
package engine

import (
	"context"

	"github.com/joseph-ayodele/docextract/constants"
)

// Options are the per-call feature requests passed to an adapter.
type Options struct {
	DetectTables bool
	DetectForms  bool
	// ContentType is the sniffed MIME type of the input ("image/png", "application/pdf", ...).
	ContentType string
}

// Capabilities lists the optional features an adapter can serve. Unsupported
// features yield empty collections, never errors.
type Capabilities struct {
	Tables bool
	Forms  bool
}

// Adapter is implemented once per provider.
type Adapter interface {
	ID() constants.EngineID
	Capabilities() Capabilities
	Extract(ctx context.Context, image []byte, languageHints []string, opts Options) (*RawResult, error)
}

// RawBox is a bounding box in provider units. When the owning page reports
// Width/Height the box is in those units; otherwise it is already a 0..1 fraction.
type RawBox struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// RawBlock is a recognized text region.
type RawBlock struct {
	Text       string
	Confidence float64 // 0..1
	Box        RawBox
}

// RawPage is one page as reported by the provider.
type RawPage struct {
	Number     int // 1-based
	Text       string
	Confidence float64 // 0..1
	Width      float64 // 0 when boxes are already normalized
	Height     float64
	Blocks     []RawBlock
}

// RawCell is one table cell. Row and Column are 0-based.
type RawCell struct {
	Row        int
	Column     int
	RowSpan    int
	ColumnSpan int
	Text       string
	Confidence float64
	Box        RawBox
	Header     bool // provider marked the cell as a column header
}

// RawTable is a table as reported by the provider.
type RawTable struct {
	Page       int
	Confidence float64
	Box        RawBox
	Cells      []RawCell
}

// RawFormField is a key/value pair. Value is nil when no value was matched.
type RawFormField struct {
	Page            int
	Label           string
	LabelConfidence float64
	LabelBox        RawBox
	Value           *string
	ValueConfidence *float64
	ValueBox        *RawBox
}

// RawResult is the common shape every adapter returns.
type RawResult struct {
	EngineVersion string
	Pages         []RawPage
	Tables        []RawTable
	FormFields    []RawFormField
}

// Confidence is the mean of the per-page confidences; 0 for an empty result.
func (r *RawResult) Confidence() float64 {
	if r == nil || len(r.Pages) == 0 {
		return 0
	}
	var sum float64
	for _, p := range r.Pages {
		sum += p.Confidence
	}
	return sum / float64(len(r.Pages))
}

// Text joins page texts with blank lines.
func (r *RawResult) Text() string {
	if r == nil {
		return ""
	}
	var out []byte
	for i, p := range r.Pages {
		if i > 0 {
			out = append(out, "\n\n"...)
		}
		out = append(out, p.Text...)
	}
	return string(out)
}
