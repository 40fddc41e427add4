package export

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"ecoroster/console/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	name        string
	data        []byte
	contentType string
	err         error
}

func (f *fakeSink) Put(_ context.Context, name string, data []byte, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.name, f.data, f.contentType = name, data, contentType
	return "s3://exports/" + name, nil
}

func fixtureViews() Views {
	data := map[Kind][]store.Document{
		KindMembers: {
			{ID: "u1", Data: json.RawMessage(`{"Uid":"u1","name":"Ana Cruz","Barangay":"San Isidro","email":"ana@example.com","userpoints":30,"isApproved":true}`)},
			{ID: "u2", Data: json.RawMessage(`not json`)},
			{ID: "u3", Data: json.RawMessage(`{"name":"<b>Ben</b>","Barangay":"Poblacion","email":"ben@example.com"}`)},
		},
		KindRequests: {
			{ID: "r1", Data: json.RawMessage(`{"Uid":"u9","name":"Carla Santos","Barangay":"San Isidro","email":"carla@example.com"}`)},
		},
	}
	return func(k Kind) []store.Document { return data[k] }
}

func newTestService(sink Sink) *Service {
	s := NewService(fixtureViews(), sink)
	s.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	return s
}

func TestRowsSkipsUnparseableAndFillsSubject(t *testing.T) {
	rows := Rows(KindMembers, fixtureViews()(KindMembers))
	require.Len(t, rows, 2)
	assert.Equal(t, Row{ID: "u1", Subject: "u1", Name: "Ana Cruz", Barangay: "San Isidro", Email: "ana@example.com", Points: 30, Approved: true}, rows[0])
	assert.Equal(t, "u3", rows[1].Subject)

	reqs := Rows(KindRequests, fixtureViews()(KindRequests))
	require.Len(t, reqs, 1)
	assert.Equal(t, "r1", reqs[0].ID)
	assert.Equal(t, "u9", reqs[0].Subject)
}

func TestExportCSV(t *testing.T) {
	s := newTestService(nil)

	res, err := s.Export(context.Background(), Request{Kind: KindMembers, Format: FormatCSV})
	require.NoError(t, err)
	assert.Equal(t, "members-20260304-050607.csv", res.Filename)
	assert.Equal(t, "text/csv", res.MimeType)
	assert.Empty(t, res.Location)

	lines := strings.Split(strings.TrimSpace(string(res.Data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,uid,name,barangay,email,points", lines[0])
	assert.Equal(t, "u1,u1,Ana Cruz,San Isidro,ana@example.com,30", lines[1])
}

func TestExportRequestsCSVHasNoPoints(t *testing.T) {
	s := newTestService(nil)

	res, err := s.Export(context.Background(), Request{Kind: KindRequests, Format: FormatCSV})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(res.Data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id,uid,name,barangay,email", lines[0])
	assert.Equal(t, "r1,u9,Carla Santos,San Isidro,carla@example.com", lines[1])
}

func TestExportJSON(t *testing.T) {
	s := newTestService(nil)

	res, err := s.Export(context.Background(), Request{Kind: KindRequests, Format: FormatJSON})
	require.NoError(t, err)
	assert.Equal(t, "requests-20260304-050607.json", res.Filename)

	var rows []Row
	require.NoError(t, json.Unmarshal(res.Data, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "Carla Santos", rows[0].Name)
}

func TestExportHTMLEscapes(t *testing.T) {
	s := newTestService(nil)

	res, err := s.Export(context.Background(), Request{Kind: KindMembers, Format: FormatHTML})
	require.NoError(t, err)
	html := string(res.Data)
	assert.Contains(t, html, "<title>Members</title>")
	assert.Contains(t, html, "2 records")
	assert.Contains(t, html, "&lt;b&gt;Ben&lt;/b&gt;")
	assert.Contains(t, html, "<th>Points</th>")
}

func TestExportUnsupported(t *testing.T) {
	s := newTestService(nil)

	_, err := s.Export(context.Background(), Request{Kind: KindMembers, Format: "pdf"})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = s.Export(context.Background(), Request{Kind: "audit", Format: FormatCSV})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestExportUpload(t *testing.T) {
	sink := &fakeSink{}
	s := newTestService(sink)

	res, err := s.Export(context.Background(), Request{Kind: KindMembers, Format: FormatJSON, Upload: true})
	require.NoError(t, err)
	assert.Equal(t, "s3://exports/members-20260304-050607.json", res.Location)
	assert.Equal(t, res.Filename, sink.name)
	assert.Equal(t, "application/json", sink.contentType)
	assert.Equal(t, res.Data, sink.data)
}

func TestExportUploadWithoutSink(t *testing.T) {
	s := newTestService(nil)

	_, err := s.Export(context.Background(), Request{Kind: KindMembers, Format: FormatCSV, Upload: true})
	assert.ErrorIs(t, err, ErrSinkMissing)
}

func TestExportUploadFailure(t *testing.T) {
	boom := errors.New("bucket gone")
	s := newTestService(&fakeSink{err: boom})

	_, err := s.Export(context.Background(), Request{Kind: KindMembers, Format: FormatCSV, Upload: true})
	assert.ErrorIs(t, err, boom)
}

func TestParseFormatAndKind(t *testing.T) {
	f, err := ParseFormat("html")
	require.NoError(t, err)
	assert.Equal(t, FormatHTML, f)

	_, err = ParseFormat("docx")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	k, err := ParseKind("requests")
	require.NoError(t, err)
	assert.Equal(t, KindRequests, k)
}

func TestNewMinioSinkRejectsEmptyEndpoint(t *testing.T) {
	_, err := NewMinioSink("", "key", "secret", "exports", false)
	assert.Error(t, err)
}
