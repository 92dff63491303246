package domain

import "encoding/json"

// Event is an immutable unit of work flowing through the fan-out pipeline.
// Sequence is assigned at ingestion and is strictly increasing per process;
// it exists for ordering and diagnostics, not deduplication.
type Event struct {
	Symbol     string          `json:"symbol"`
	Category   string          `json:"category"`
	Tier       string          `json:"tier"`
	Confidence float64         `json:"confidence"`
	Body       json.RawMessage `json:"body,omitempty"`
	Sequence   uint64          `json:"sequence"`
}

// Signature derives the routing-cache key from the matchable fields only.
// Two events with the same signature produce the same delivery set, so the
// body is deliberately excluded.
func (e Event) Signature() string {
	return e.Symbol + "|" + e.Category + "|" + e.Tier + "|" + confidenceBucketLabel(e.Confidence)
}

// ConfidenceBucket maps a confidence value in [0,1] to one of eleven
// coarse buckets used as an index dimension.
func ConfidenceBucket(confidence float64) int {
	if confidence <= 0 {
		return 0
	}
	if confidence >= 1 {
		return 10
	}
	return int(confidence * 10)
}

func confidenceBucketLabel(confidence float64) string {
	return bucketLabels[ConfidenceBucket(confidence)]
}

var bucketLabels = [11]string{"b0", "b1", "b2", "b3", "b4", "b5", "b6", "b7", "b8", "b9", "b10"}
