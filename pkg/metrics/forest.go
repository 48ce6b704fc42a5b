package metrics

import "time"

// ForestMetrics observes the directory scan and file hash workers of the
// forest.
//
// This interface is optional - a nil ForestMetrics passed to the forest is
// replaced by a no-op implementation.
//
// The Started/Finished pairs bracket the disk I/O itself, so the number of
// outstanding Started calls is the number of scans or hashes actually
// touching the disk.
type ForestMetrics interface {
	// ScanStarted records that a directory scan acquired a worker slot.
	ScanStarted()

	// ScanFinished records the end of a scan.
	//
	// Parameters:
	//   - duration: Time spent holding the worker slot
	//   - entries: Number of entries listed (0 when the scan short-circuited)
	//   - err: Error if the scan failed, nil if successful
	ScanFinished(duration time.Duration, entries int, err error)

	// HashStarted records that a file hash acquired a worker slot.
	HashStarted()

	// HashFinished records the end of a hash computation.
	//
	// Parameters:
	//   - duration: Time spent holding the worker slot
	//   - bytes: Size of the hashed file
	//   - err: Error if hashing or recording the hash failed
	HashFinished(duration time.Duration, bytes int64, err error)

	// SetWorkingSet updates the size of one scheduler working set
	// (e.g., "init", "pending", "reading", "hashless", "hashing", "failed").
	SetWorkingSet(set string, size int)
}

// NewNoopForestMetrics returns a ForestMetrics that discards everything.
func NewNoopForestMetrics() ForestMetrics {
	return noopForestMetrics{}
}

type noopForestMetrics struct{}

func (noopForestMetrics) ScanStarted()                             {}
func (noopForestMetrics) ScanFinished(time.Duration, int, error)   {}
func (noopForestMetrics) HashStarted()                             {}
func (noopForestMetrics) HashFinished(time.Duration, int64, error) {}
func (noopForestMetrics) SetWorkingSet(string, int)                {}
