package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"ecoroster/console/internal/roster"
	"ecoroster/console/internal/store"
)

// Views returns the console's current view of a roster kind.
type Views func(kind Kind) []store.Document

// Sink stores a rendered export and returns where it went.
type Sink interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// Service provides roster export functionality
type Service struct {
	views Views
	sink  Sink
	now   func() time.Time
}

// NewService creates a new export service. sink may be nil when uploads are not configured.
func NewService(views Views, sink Sink) *Service {
	return &Service{views: views, sink: sink, now: time.Now}
}

// Export renders the requested view and uploads it when asked to.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if _, err := ParseKind(string(req.Kind)); err != nil {
		return nil, fmt.Errorf("%w: %q", err, req.Kind)
	}
	if req.Upload && s.sink == nil {
		return nil, ErrSinkMissing
	}

	rows := Rows(req.Kind, s.views(req.Kind))
	generated := s.now().UTC()

	result, err := Render(req.Kind, req.Format, rows, generated)
	if err != nil {
		return nil, err
	}

	if req.Upload {
		location, err := s.sink.Put(ctx, result.Filename, result.Data, result.MimeType)
		if err != nil {
			return nil, fmt.Errorf("upload export: %w", err)
		}
		result.Location = location
	}
	return result, nil
}

// Rows flattens the documents of a view, skipping bodies that do not parse.
func Rows(kind Kind, docs []store.Document) []Row {
	rows := make([]Row, 0, len(docs))
	switch kind {
	case KindMembers:
		for _, d := range docs {
			m, err := roster.DecodeMember(d)
			if err != nil {
				continue
			}
			rows = append(rows, Row{ID: d.ID, Subject: m.SubjectID, Name: m.Name, Barangay: m.Barangay, Email: m.Email, Points: m.Points, Approved: m.IsApproved})
		}
	case KindRequests:
		for _, r := range roster.Requests(docs) {
			rows = append(rows, Row{ID: r.ID, Subject: r.SubjectID, Name: r.Name, Barangay: r.Barangay, Email: r.Email, Approved: r.IsApproved})
		}
	}
	return rows
}

// Render produces the file for rows in the given format.
func Render(kind Kind, format Format, rows []Row, generated time.Time) (*Result, error) {
	base := fmt.Sprintf("%s-%s", kind, generated.Format("20060102-150405"))

	switch format {
	case FormatCSV:
		data, err := renderCSV(kind, rows)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Filename: base + ".csv", MimeType: "text/csv", GeneratedAt: generated}, nil
	case FormatJSON:
		data, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("render json: %w", err)
		}
		return &Result{Data: append(data, '\n'), Filename: base + ".json", MimeType: "application/json", GeneratedAt: generated}, nil
	case FormatHTML:
		html, err := RenderRosterHTML(TemplateData{Kind: kind, Rows: rows, GeneratedAt: generated})
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return &Result{Data: []byte(html), Filename: base + ".html", MimeType: "text/html; charset=utf-8", GeneratedAt: generated}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func renderCSV(kind Kind, rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "uid", "name", "barangay", "email"}
	if kind == KindMembers {
		header = append(header, "points")
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("render csv: %w", err)
	}
	for _, r := range rows {
		record := []string{r.ID, r.Subject, r.Name, r.Barangay, r.Email}
		if kind == KindMembers {
			record = append(record, strconv.Itoa(r.Points))
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("render csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("render csv: %w", err)
	}
	return buf.Bytes(), nil
}
