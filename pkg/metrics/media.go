package metrics

import "time"

// MediaMetrics observes the media metadata pipeline.
type MediaMetrics interface {
	// RecordExtraction records one extraction attempt.
	//
	// Parameters:
	//   - magic: File type tag (e.g., "JPEG", "MP4")
	//   - duration: Time spent extracting
	//   - err: Error if extraction failed
	RecordExtraction(magic string, duration time.Duration, err error)

	// RecordDropped records a job discarded because the queue was full.
	RecordDropped()

	// SetQueueDepth updates the number of queued jobs.
	SetQueueDepth(depth int)
}

// NewNoopMediaMetrics returns a MediaMetrics that discards everything.
func NewNoopMediaMetrics() MediaMetrics {
	return noopMediaMetrics{}
}

type noopMediaMetrics struct{}

func (noopMediaMetrics) RecordExtraction(string, time.Duration, error) {}
func (noopMediaMetrics) RecordDropped()                                {}
func (noopMediaMetrics) SetQueueDepth(int)                             {}
