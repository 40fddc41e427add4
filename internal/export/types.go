// Package export renders the roster views into downloadable files and optionally uploads them to
// object storage.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatHTML Format = "html"
)

// Kind selects which roster view is exported.
type Kind string

const (
	KindMembers  Kind = "members"
	KindRequests Kind = "requests"
)

// Request contains parameters for an export operation
type Request struct {
	Kind   Kind
	Format Format
	// Upload sends the result to the configured sink as well.
	Upload bool
}

// Row is one exported roster line. Points is only meaningful for members.
type Row struct {
	ID       string `json:"id"`
	Subject  string `json:"uid"`
	Name     string `json:"name"`
	Barangay string `json:"barangay"`
	Email    string `json:"email"`
	Points   int    `json:"points"`
	Approved bool   `json:"approved"`
}

// Result contains the export output
type Result struct {
	Data        []byte
	Filename    string
	MimeType    string
	GeneratedAt time.Time
	// Location is where the sink stored the file, empty when not uploaded.
	Location string
}

var (
	ErrUnsupportedFormat = errors.New("export format not supported")
	ErrUnknownKind       = errors.New("export kind not supported")
	// ErrSinkMissing indicates an upload was requested without object storage configured.
	ErrSinkMissing = errors.New("export sink not configured")
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatJSON, FormatHTML:
		return Format(s), nil
	default:
		return "", ErrUnsupportedFormat
	}
}

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindMembers, KindRequests:
		return Kind(s), nil
	default:
		return "", ErrUnknownKind
	}
}
