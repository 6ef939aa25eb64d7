package constants

import "strings"

// EngineID identifies an extraction provider in configuration, attempts and results.
type EngineID string

const (
	EngineVision      EngineID = "vision"      // cloud image-annotation service
	EngineDocAnalysis EngineID = "docanalysis" // cloud document-analysis service (tables, forms)
	EngineTesseract   EngineID = "tesseract"   // local fallback
)

// DefaultEngineOrder is the cascade used when no preferred engine is given.
var DefaultEngineOrder = []EngineID{EngineVision, EngineDocAnalysis, EngineTesseract}

// NormalizeEngineID lowercases and trims an engine identifier.
func NormalizeEngineID(s string) EngineID {
	return EngineID(strings.ToLower(strings.TrimSpace(s)))
}
