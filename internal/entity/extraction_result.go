package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/constants"
)

// BoundingBox is expressed as fractions (0..1) of the page width and height.
type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// IsZero reports whether the box carries no geometry.
func (b BoundingBox) IsZero() bool {
	return b.Width == 0 && b.Height == 0
}

// TextBlock is one recognized region on a page.
type TextBlock struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"box"`
}

// PageResult holds the text and confidence for one page.
type PageResult struct {
	PageNumber int         `json:"page_number"` // 1-based
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	Blocks     []TextBlock `json:"blocks,omitempty"`
}

// TableCell is one grid position of a detected table.
type TableCell struct {
	Row        int         `json:"row"`
	Column     int         `json:"column"`
	RowSpan    int         `json:"row_span"`
	ColumnSpan int         `json:"column_span"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"box"`
	IsHeader   bool        `json:"is_header"`
}

// Table is a row-major grid of cells. Cells[r][c] is always populated;
// positions the provider left empty hold a zero-confidence blank cell.
type Table struct {
	PageNumber   int           `json:"page_number"`
	Rows         int           `json:"rows"`
	Columns      int           `json:"columns"`
	HasHeaderRow bool          `json:"has_header_row"`
	Confidence   float64       `json:"confidence"`
	Box          BoundingBox   `json:"box"`
	Cells        [][]TableCell `json:"cells"`
}

// FormField is a label/value pair. Value is nil when the provider matched no value.
type FormField struct {
	PageNumber      int          `json:"page_number"`
	Label           string       `json:"label"`
	Value           *string      `json:"value"`
	LabelConfidence float64      `json:"label_confidence"`
	ValueConfidence *float64     `json:"value_confidence,omitempty"`
	LabelBox        BoundingBox  `json:"label_box"`
	ValueBox        *BoundingBox `json:"value_box,omitempty"`
}

// Patterns are domain values picked out of the normalized text.
type Patterns struct {
	Dates       []string `json:"dates,omitempty"`
	Amounts     []string `json:"amounts,omitempty"`
	Identifiers []string `json:"identifiers,omitempty"`
	Emails      []string `json:"emails,omitempty"`
}

// ExtractionResult is the immutable outcome of processing one QueueItem.
type ExtractionResult struct {
	ID                  uuid.UUID           `json:"id"`
	QueueID             uuid.UUID           `json:"queue_id"`
	DocumentRef         string              `json:"document_ref"`
	Engine              constants.EngineID  `json:"engine"`
	EngineVersion       string              `json:"engine_version"`
	FullText            string              `json:"full_text"`
	FullTextNormalized  string              `json:"full_text_normalized"`
	Locale              string              `json:"locale,omitempty"`
	PageResults         []PageResult        `json:"page_results"`
	OverallConfidence   float64             `json:"overall_confidence"`
	DetectedTables      []Table             `json:"detected_tables"`
	DetectedFormFields  []FormField         `json:"detected_form_fields"`
	Patterns            Patterns            `json:"patterns"`
	ProcessingTimeMs    int64               `json:"processing_time_ms"`
	EnhancementsApplied []string            `json:"enhancements_applied,omitempty"`
	Enhancements        []EnhancementRecord `json:"enhancements,omitempty"`
	NeedsManualReview   bool                `json:"needs_manual_review"`
	ReviewReason        string              `json:"review_reason,omitempty"`
	Attempts            []EngineAttempt     `json:"attempts"`
	CreatedAt           time.Time           `json:"created_at"`
}

// EngineAttempt is the audit record of one provider invocation.
type EngineAttempt struct {
	Engine       constants.EngineID      `json:"engine"`
	Order        int                     `json:"order"`
	Confidence   *float64                `json:"confidence"`
	Status       constants.AttemptStatus `json:"status"`
	ErrorMessage string                  `json:"error_message,omitempty"`
	StartedAt    time.Time               `json:"started_at"`
	CompletedAt  time.Time               `json:"completed_at"`
}

// Duration is the wall time spent in the provider call.
func (a EngineAttempt) Duration() time.Duration {
	return a.CompletedAt.Sub(a.StartedAt)
}
