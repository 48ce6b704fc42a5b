// Package media extracts and keeps metadata of hashed image and video files.
//
// Metadata is keyed by content hash: every copy of the same photo shares one
// record no matter how many drives or directories hold it. The Pipeline
// receives files from the forest once they are hashed, extracts their
// metadata on a small worker pool and records it in a Store.
package media

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Get when no metadata is recorded for a
// hash.
var ErrNotFound = errors.New("media: metadata not found")

// Metadata describes one piece of media content.
type Metadata struct {
	Hash  string `json:"hash"`
	Magic string `json:"magic"`
	Size  int64  `json:"size"`

	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	Orientation int        `json:"orientation,omitempty"`
	DateTaken   *time.Time `json:"date_taken,omitempty"`
	CameraMake  string     `json:"camera_make,omitempty"`
	CameraModel string     `json:"camera_model,omitempty"`
	LensModel   string     `json:"lens_model,omitempty"`
	FocalLength float32    `json:"focal_length,omitempty"`
	Aperture    float32    `json:"aperture,omitempty"`
	Exposure    string     `json:"exposure,omitempty"`
	ISO         int        `json:"iso,omitempty"`
	Flash       bool       `json:"flash,omitempty"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	Altitude    *float32   `json:"altitude,omitempty"`

	ExtractedAt time.Time `json:"extracted_at"`
}

// Store persists Metadata by content hash.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the metadata recorded for hash, or ErrNotFound.
	Get(ctx context.Context, hash string) (*Metadata, error)

	// Put records md under md.Hash, replacing any previous record.
	Put(ctx context.Context, md *Metadata) error

	// Delete forgets hash. Deleting an unknown hash is not an error.
	Delete(ctx context.Context, hash string) error

	// Count returns the number of records.
	Count(ctx context.Context) (int, error)

	// Hashes lists the hash of every record, in no particular order.
	Hashes(ctx context.Context) ([]string, error)

	// Close releases the store's resources.
	Close() error
}
