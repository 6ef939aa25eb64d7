package entity

// ImageMetrics are quality measurements of one image. All values are in 0..1
// except Brightness (mean luma 0..1) and Sharpness (Laplacian variance, normalized).
type ImageMetrics struct {
	NoiseLevel    float64 `json:"noise_level"`
	ContrastRatio float64 `json:"contrast_ratio"`
	Brightness    float64 `json:"brightness"`
	Sharpness     float64 `json:"sharpness"`
}

// EnhancementRecord describes what the preprocessor did to one page.
type EnhancementRecord struct {
	PageNumber    int            `json:"page_number"`
	Format        string         `json:"format,omitempty"`
	Operations    []string       `json:"operations"`
	RotationAngle float64        `json:"rotation_angle"` // estimated skew in degrees; informational
	Before        ImageMetrics   `json:"before"`
	After         ImageMetrics   `json:"after"`
	Stages        []StageMetrics `json:"stages,omitempty"`
}

// StageMetrics captures the image quality right after one pipeline stage.
type StageMetrics struct {
	Operation string       `json:"operation"`
	Metrics   ImageMetrics `json:"metrics"`
}

// Empty reports whether no enhancement was applied.
func (r EnhancementRecord) Empty() bool {
	return len(r.Operations) == 0
}
