// Package export turns chart documents into printable and downloadable artifacts.
package export

import "errors"

var (
	// ErrRenderFailed is returned when the chart image cannot be produced.
	ErrRenderFailed = errors.New("export: render failed")

	// ErrEncodeFailed is returned when a rendered chart cannot be encoded as PDF or XLSX.
	ErrEncodeFailed = errors.New("export: encode failed")

	// ErrUnsupportedFormat is returned for formats other than pdf and xlsx.
	ErrUnsupportedFormat = errors.New("export: unsupported format")
)
