package model

import (
	"github.com/m-mizutani/goerr/v2"
)

// Error taxonomy. Every error leaving a component carries exactly one of
// these tags so the request boundary can classify it with goerr.HasTag.
var (
	// TagProvider marks failed embedding, generation or research calls.
	TagProvider = goerr.NewTag("provider")
	// TagStore marks row store and vector index failures.
	TagStore = goerr.NewTag("store")
	// TagValidation marks malformed input: bad upload, wrong type, empty text.
	TagValidation = goerr.NewTag("validation")
	// TagConfig marks fatal configuration problems such as a missing
	// extension or an embedding dimension mismatch.
	TagConfig = goerr.NewTag("config")
)

var (
	ErrEmptyMessage      = goerr.New("message is empty", goerr.T(TagValidation))
	ErrNotPDF            = goerr.New("File must be a PDF", goerr.T(TagValidation))
	ErrEmptyDocument     = goerr.New("No text content found in PDF", goerr.T(TagValidation))
	ErrDimensionMismatch = goerr.New("embedding dimension mismatch", goerr.T(TagConfig))
)

// IsValidation reports whether err should be surfaced as a client error.
func IsValidation(err error) bool {
	return goerr.HasTag(err, TagValidation)
}

// IsConfig reports whether err is a fatal configuration error.
func IsConfig(err error) bool {
	return goerr.HasTag(err, TagConfig)
}
