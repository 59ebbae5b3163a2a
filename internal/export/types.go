// Package export renders assurance cases into downloadable documents.
package export

import "errors"

// Result contains the rendered output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates the headless browser is unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
