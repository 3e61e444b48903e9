// Package models defines core data structures for embedding records, images, and search results.
package models

import "time"

// Metadata describes where a stored embedding came from. It is opaque to ranking and is
// carried through unmodified.
type Metadata struct {
	ID              string    `json:"id"`
	Model           string    `json:"model"`
	CreatedAt       time.Time `json:"created_at"`
	SourceReference string    `json:"source_reference"`
}

// Record is a persisted embedding: a unit-norm vector plus its metadata sidecar.
type Record struct {
	ID       string    `json:"id"`
	Vector   []float32 `json:"vector,omitempty"`
	Metadata Metadata  `json:"metadata"`
}

// Image is an uploaded image to embed. Filename is used only as the source reference.
type Image struct {
	Data     []byte
	Filename string
}
