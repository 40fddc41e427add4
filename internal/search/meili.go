package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxMembers  = "roster_members"
	idxRequests = "roster_requests"

	healthInterval = 10 * time.Second
	defaultLimit   = 20
)

var errUnhealthy = errors.New("meilisearch unhealthy")

// rosterIndex describes one Meilisearch index and the result type its hits map to.
type rosterIndex struct {
	uid        string
	rtyp       ResultType
	filterable []string
	searchable []string
}

var rosterIndexes = []rosterIndex{
	{uid: idxMembers, rtyp: ResultMember, filterable: []string{"barangay"}, searchable: []string{"name", "email", "barangay"}},
	{uid: idxRequests, rtyp: ResultRequest, filterable: []string{"barangay", "subjectId"}, searchable: []string{"name", "email", "barangay"}},
}

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	logger  *slog.Logger
}

// NewMeili creates a Meilisearch client. An unreachable server leaves the client unhealthy; a
// background probe keeps checking and sets the indexes up once it answers.
func NewMeili(url, apiKey string) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
		logger: slog.Default().With("component", "search", "url", url),
	}
	if m.probe() {
		m.setupIndexes()
	} else {
		m.logger.Warn("meilisearch unavailable, using local views")
	}
	go m.watchHealth()
	return m
}

// probe records and returns the current reachability of the server.
func (m *Meili) probe() bool {
	_, err := m.client.Health()
	m.healthy.Store(err == nil)
	return err == nil
}

func (m *Meili) setupIndexes() {
	for _, idx := range rosterIndexes {
		log := m.logger.With("index", idx.uid)
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idx.uid, PrimaryKey: "id"}); err != nil {
			log.Debug("create index", "error", err)
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, 0, len(idx.filterable))
		for _, attr := range idx.filterable {
			filterable = append(filterable, attr)
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			log.Warn("set filterable attributes", "error", err)
		}
		searchable := idx.searchable
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			log.Warn("set searchable attributes", "error", err)
		}
	}
}

func (m *Meili) watchHealth() {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			was := m.healthy.Load()
			if m.probe() && !was {
				m.logger.Info("meilisearch reachable again")
				m.setupIndexes()
			}
		}
	}
}

// Close stops the background health probe.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search runs one query per selected index in a single multi-search call and concatenates the hits,
// members first.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errUnhealthy
	}
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = defaultLimit
	}

	req := &meili.MultiSearchRequest{}
	for _, idx := range rosterIndexes {
		if q.FilterType != "" && q.FilterType != idx.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              idx.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"name", "email"},
			HighlightPreTag:       "*",
			HighlightPostTag:      "*",
		}
		if q.Barangay != "" {
			sr.Filter = []string{fmt.Sprintf("barangay = %q", q.Barangay)}
		}
		req.Queries = append(req.Queries, sr)
	}
	if len(req.Queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(req)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var (
		results []Result
		total   int
	)
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}
	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	for _, idx := range rosterIndexes {
		if idx.uid == uid {
			return idx.rtyp
		}
	}
	return ""
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	id := field[string](hit, "id")
	barangay := field[string](hit, "barangay")
	formatted := field[map[string]json.RawMessage](hit, "_formatted")

	r := Result{
		Type:     rtyp,
		ID:       id,
		Barangay: barangay,
		Title:    firstNonBlank(highlighted(formatted, "name"), field[string](hit, "name"), id),
		Snippet:  snippet(firstNonBlank(highlighted(formatted, "email"), field[string](hit, "email")), barangay),
	}
	if rtyp == ResultMember {
		r.Points = field[int](hit, "points")
	}
	return r
}

// field decodes hit[key] into T, yielding the zero value when the key is absent or mistyped.
func field[T any](hit meili.Hit, key string) T {
	var v T
	if raw, ok := hit[key]; ok {
		if err := json.Unmarshal(raw, &v); err != nil {
			var zero T
			return zero
		}
	}
	return v
}

func highlighted(formatted map[string]json.RawMessage, key string) string {
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func snippet(email, barangay string) string {
	switch {
	case email == "":
		return barangay
	case barangay == "":
		return email
	default:
		return email + " · " + barangay
	}
}

// IndexMembers adds or updates members in the search index.
func (m *Meili) IndexMembers(records []MemberRecord) error {
	return m.add(idxMembers, records, len(records))
}

// IndexRequests adds or updates requests in the search index.
func (m *Meili) IndexRequests(records []RequestRecord) error {
	return m.add(idxRequests, records, len(records))
}

// ReplaceMembers clears the member index and loads records in its place.
func (m *Meili) ReplaceMembers(records []MemberRecord) error {
	return m.replace(idxMembers, records, len(records))
}

// ReplaceRequests clears the request index and loads records in its place.
func (m *Meili) ReplaceRequests(records []RequestRecord) error {
	return m.replace(idxRequests, records, len(records))
}

// replace relies on Meilisearch running an index's tasks in the order they were enqueued.
func (m *Meili) replace(uid string, records any, n int) error {
	if _, err := m.client.Index(uid).DeleteAllDocuments(nil); err != nil {
		return fmt.Errorf("clear %s: %w", uid, err)
	}
	return m.add(uid, records, n)
}

func (m *Meili) add(uid string, records any, n int) error {
	if n == 0 {
		return nil
	}
	if _, err := m.client.Index(uid).AddDocuments(records, nil); err != nil {
		return fmt.Errorf("index %d documents into %s: %w", n, uid, err)
	}
	return nil
}

func (m *Meili) DeleteMember(id string) error {
	return m.delete(idxMembers, id)
}

func (m *Meili) DeleteRequest(id string) error {
	return m.delete(idxRequests, id)
}

func (m *Meili) delete(uid, id string) error {
	if _, err := m.client.Index(uid).DeleteDocument(id, nil); err != nil {
		return fmt.Errorf("delete %s from %s: %w", id, uid, err)
	}
	return nil
}
