package constants

// EventType names the lifecycle events emitted by the queue and orchestrator.
type EventType string

const (
	EventQueued              EventType = "OCR_QUEUED"
	EventProcessingStarted   EventType = "OCR_PROCESSING_STARTED"
	EventProcessingCompleted EventType = "OCR_PROCESSING_COMPLETED"
	EventProcessingFailed    EventType = "OCR_PROCESSING_FAILED"
	EventEngineFallback      EventType = "OCR_ENGINE_FALLBACK"
)
