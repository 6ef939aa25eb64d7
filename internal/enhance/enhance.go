// Package enhance normalizes scanned page images before text extraction.
// The pipeline is deterministic: the same input bytes and options always
// produce the same output bytes and record.
package enhance

import (
	"log/slog"

	"github.com/joseph-ayodele/docextract/internal/entity"
)

// Operation names recorded in EnhancementRecord.Operations.
const (
	OpDownscale         = "downscale"
	OpNormalizeContrast = "normalize_contrast"
	OpGrayscale         = "grayscale"
	OpSharpen           = "sharpen"
	OpContrastStretch   = "contrast_stretch"
)

// Options tune the preprocessor. Zero values select the defaults.
type Options struct {
	PageNumber    int     // recorded on the EnhancementRecord; default 1
	MaxDimension  int     // longest side after downscaling; default 4000, <0 disables
	ClipPercent   float64 // tail fraction ignored by contrast normalization; default 0.005
	SharpenAmount float64 // Laplacian weight; default 0.5
	EstimateSkew  bool
}

func (o Options) withDefaults() Options {
	if o.PageNumber <= 0 {
		o.PageNumber = 1
	}
	if o.MaxDimension == 0 {
		o.MaxDimension = 4000
	}
	if o.ClipPercent <= 0 || o.ClipPercent >= 0.5 {
		o.ClipPercent = 0.005
	}
	if o.SharpenAmount <= 0 {
		o.SharpenAmount = 0.5
	}
	return o
}

// Preprocessor runs the fixed enhancement pipeline:
// normalize contrast -> grayscale -> sharpen -> linear contrast stretch.
type Preprocessor struct {
	logger *slog.Logger
}

func NewPreprocessor(logger *slog.Logger) *Preprocessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preprocessor{logger: logger}
}

// Enhance returns PNG-encoded enhanced bytes and the record of what changed.
// Input it cannot decode is returned untouched with an empty record; enhancement
// is best-effort and never an error.
func (p *Preprocessor) Enhance(data []byte, opts Options) ([]byte, entity.EnhancementRecord) {
	opts = opts.withDefaults()
	empty := entity.EnhancementRecord{PageNumber: opts.PageNumber}

	r, format, err := decode(data)
	if err != nil {
		p.logger.Debug("enhance skipped: unsupported image", "page", opts.PageNumber, "error", err)
		return data, empty
	}
	if r.w == 0 || r.h == 0 {
		return data, empty
	}

	rec := entity.EnhancementRecord{
		PageNumber: opts.PageNumber,
		Format:     format,
		Before:     measure(r),
	}
	if opts.EstimateSkew {
		rec.RotationAngle = estimateSkew(r)
	}

	step := func(op string, next *raster) {
		r = next
		rec.Operations = append(rec.Operations, op)
		rec.Stages = append(rec.Stages, entity.StageMetrics{Operation: op, Metrics: measure(r)})
	}

	if opts.MaxDimension > 0 && (r.w > opts.MaxDimension || r.h > opts.MaxDimension) {
		step(OpDownscale, downscale(r, opts.MaxDimension))
	}
	step(OpNormalizeContrast, normalizeContrast(r, opts.ClipPercent))
	step(OpGrayscale, toGray(r))
	step(OpSharpen, sharpen(r, opts.SharpenAmount))
	step(OpContrastStretch, linearStretch(r))

	out, err := encodePNG(r)
	if err != nil {
		p.logger.Warn("enhance encode failed; keeping original", "page", opts.PageNumber, "error", err)
		return data, empty
	}
	rec.After = measure(r)

	p.logger.Debug("enhance done",
		"page", opts.PageNumber,
		"format", format,
		"noise_before", rec.Before.NoiseLevel,
		"noise_after", rec.After.NoiseLevel,
		"contrast_before", rec.Before.ContrastRatio,
		"contrast_after", rec.After.ContrastRatio,
		"rotation", rec.RotationAngle,
	)
	return out, rec
}
