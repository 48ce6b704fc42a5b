package fserror

// Class tells a caller how to react to an error.
type Class int

const (
	// ClassRetry: this exact operation failed and may be retried as is
	ClassRetry Class = iota

	// ClassStale: the cache disagrees with the disk; re-resolve the path and retry
	ClassStale

	// ClassConflict: a name collision needs a policy choice from the caller
	ClassConflict

	// ClassFatal: retrying cannot help (bad input, missing filesystem feature)
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassRetry:
		return "retry"
	case ClassStale:
		return "stale"
	case ClassConflict:
		return "conflict"
	default:
		return "fatal"
	}
}

// Classify maps err to a Class. Unclassified errors are ClassRetry.
func Classify(err error) Class {
	code, ok := CodeOf(err)
	if !ok {
		return ClassRetry
	}
	switch code {
	case ErrIdentityMismatch, ErrStaleTimestamp, ErrNotAFile, ErrNotADirectory,
		ErrInterrupted, ErrNotFound:
		return ClassStale
	case ErrConflict:
		return ClassConflict
	case ErrMisaligned, ErrNotSupported, ErrInvalidArgument, ErrHashMismatch:
		return ClassFatal
	default:
		return ClassRetry
	}
}

// IsStale reports whether err means the cached view of a path is out of date.
func IsStale(err error) bool {
	return err != nil && Classify(err) == ClassStale
}
