package search

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"ecoroster/console/internal/mirror"
	"ecoroster/console/internal/store"
	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func views() LocalViews {
	data := map[string][]store.Document{
		"users": {
			{ID: "u1", Data: json.RawMessage(`{"Uid":"u1","name":"Ana Cruz","Barangay":"San Isidro","email":"ana@example.com","userpoints":30}`)},
			{ID: "u2", Data: json.RawMessage(`{"Uid":"u2","name":"Ben Reyes","Barangay":"Poblacion","email":"ben@example.com","userpoints":5}`)},
		},
		"registration_requests": {
			{ID: "r1", Data: json.RawMessage(`{"Uid":"u3","name":"Carla Santos","Barangay":"San Isidro","email":"carla@example.com"}`)},
		},
	}
	return func(collection string) []store.Document { return data[collection] }
}

func TestLocalSearchWithoutMeili(t *testing.T) {
	s := NewService(nil, views(), "registration_requests", "users")

	resp := s.Search(Query{Text: "ana"})
	assert.Equal(t, "local", resp.Source)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, Result{Type: ResultMember, ID: "u1", Title: "Ana Cruz", Snippet: "ana@example.com · San Isidro", Barangay: "San Isidro", Points: 30}, resp.Results[0])
}

func TestLocalSearchFilters(t *testing.T) {
	s := NewService(nil, views(), "registration_requests", "users")

	resp := s.Search(Query{Barangay: "san isidro"})
	assert.Equal(t, 2, resp.Total)

	resp = s.Search(Query{Barangay: "San Isidro", FilterType: ResultRequest})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "r1", resp.Results[0].ID)

	resp = s.Search(Query{Text: "EXAMPLE.COM", Limit: 2, Offset: 1})
	assert.Equal(t, 3, resp.Total)
	assert.Len(t, resp.Results, 2)

	resp = s.Search(Query{Text: "nobody"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestUnhealthyMeiliFallsBackToLocal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := NewMeili(srv.URL, "key")
	defer m.Close()
	require.False(t, m.Healthy())

	s := NewService(m, views(), "registration_requests", "users")
	resp := s.Search(Query{Text: "carla"})
	assert.Equal(t, "local", resp.Source)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, ResultRequest, resp.Results[0].Type)

	// an unhealthy index is never written to
	s.Sync(mirror.Snapshot{Collection: "users", Changes: mirror.Changes{Removed: []string{"u1"}}})
}

func TestHitToResult(t *testing.T) {
	hit := meili.Hit{
		"id":         json.RawMessage(`"u1"`),
		"name":       json.RawMessage(`"Ana Cruz"`),
		"email":      json.RawMessage(`"ana@example.com"`),
		"barangay":   json.RawMessage(`"San Isidro"`),
		"points":     json.RawMessage(`30`),
		"_formatted": json.RawMessage(`{"name":"*Ana* Cruz","points":"30"}`),
	}

	r := hitToResult(hit, ResultMember)
	assert.Equal(t, Result{Type: ResultMember, ID: "u1", Title: "*Ana* Cruz", Snippet: "ana@example.com · San Isidro", Barangay: "San Isidro", Points: 30}, r)

	r = hitToResult(meili.Hit{"id": json.RawMessage(`"r9"`)}, ResultRequest)
	assert.Equal(t, Result{Type: ResultRequest, ID: "r9", Title: "r9"}, r)
}

func TestIndexToResultType(t *testing.T) {
	assert.Equal(t, ResultMember, indexToResultType(idxMembers))
	assert.Equal(t, ResultRequest, indexToResultType(idxRequests))
	assert.Equal(t, ResultType(""), indexToResultType("other"))
}

func TestRecordsUseDocumentIDs(t *testing.T) {
	docs := []store.Document{
		{ID: "doc-1", Data: json.RawMessage(`{"Uid":"subject-1","name":"A","userpoints":3}`)},
		{ID: "bad", Data: json.RawMessage(`"x"`)},
	}
	members := memberRecords(docs)
	require.Len(t, members, 1)
	assert.Equal(t, MemberRecord{ID: "doc-1", Name: "A", Points: 3}, members[0])

	reqs := requestRecords(docs)
	require.Len(t, reqs, 1)
	assert.Equal(t, "doc-1", reqs[0].ID)
	assert.Equal(t, "subject-1", reqs[0].SubjectID)
}

// indexLog is a minimal Meilisearch that is always healthy, accepts every task and records the
// document writes it receives, in arrival order.
type indexLog struct {
	mu     sync.Mutex
	writes []string
}

func (l *indexLog) handler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"available"}`)
		return
	}
	if strings.Contains(r.URL.Path, "/documents") {
		body, _ := io.ReadAll(r.Body)
		entry := r.Method + " " + r.URL.Path
		if len(body) > 0 {
			var records []struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(body, &records); err == nil {
				ids := make([]string, 0, len(records))
				for _, rec := range records {
					ids = append(ids, rec.ID)
				}
				entry += " " + strings.Join(ids, ",")
			}
		}
		l.mu.Lock()
		l.writes = append(l.writes, entry)
		l.mu.Unlock()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = io.WriteString(w, `{"taskUid":1,"status":"enqueued"}`)
}

func (l *indexLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.writes...)
}

func memberDoc(id, name string) store.Document {
	return store.Document{ID: id, Data: json.RawMessage(`{"Uid":"` + id + `","name":"` + name + `"}`)}
}

func TestSyncRebuildsThenAppliesChangesInOrder(t *testing.T) {
	log := &indexLog{}
	srv := httptest.NewServer(http.HandlerFunc(log.handler))
	defer srv.Close()

	m := NewMeili(srv.URL, "key")
	defer m.Close()
	require.True(t, m.Healthy())

	s := NewService(m, views(), "registration_requests", "users")

	// first paint is bounded and never reaches the index
	s.Sync(mirror.Snapshot{Collection: "users", Documents: []store.Document{memberDoc("u9", "Old")}})

	// the first live snapshot replaces whatever the index held, including u9
	s.Sync(mirror.Snapshot{
		Collection: "users", Live: true,
		Documents: []store.Document{memberDoc("u1", "Ana"), memberDoc("u2", "Ben")},
		Changes:   mirror.Changes{Added: []string{"u1", "u2"}},
	})
	s.Sync(mirror.Snapshot{
		Collection: "users", Live: true,
		Documents: []store.Document{memberDoc("u2", "Ben")},
		Changes:   mirror.Changes{Removed: []string{"u1"}},
	})
	s.Sync(mirror.Snapshot{
		Collection: "users", Live: true,
		Documents: []store.Document{memberDoc("u1", "Ana"), memberDoc("u2", "Ben")},
		Changes:   mirror.Changes{Added: []string{"u1"}},
	})
	s.Sync(mirror.Snapshot{Collection: "users", Live: true, Documents: []store.Document{memberDoc("u1", "Ana"), memberDoc("u2", "Ben")}})
	s.Close()
	s.Close()

	assert.Equal(t, []string{
		"DELETE /indexes/roster_members/documents",
		"POST /indexes/roster_members/documents u1,u2",
		"DELETE /indexes/roster_members/documents/u1",
		"POST /indexes/roster_members/documents u1",
	}, log.all())

	// after Close nothing more is queued
	s.Sync(mirror.Snapshot{Collection: "users", Live: true, Changes: mirror.Changes{Removed: []string{"u2"}}})
	assert.Len(t, log.all(), 4)
}

func TestSyncRebuildsEachCollectionOnce(t *testing.T) {
	log := &indexLog{}
	srv := httptest.NewServer(http.HandlerFunc(log.handler))
	defer srv.Close()

	m := NewMeili(srv.URL, "key")
	defer m.Close()

	s := NewService(m, views(), "registration_requests", "users")
	req := store.Document{ID: "r1", Data: json.RawMessage(`{"Uid":"u3","name":"Carla"}`)}
	s.Sync(mirror.Snapshot{Collection: "registration_requests", Live: true, Documents: []store.Document{req}})
	s.Sync(mirror.Snapshot{Collection: "users", Live: true})
	s.Sync(mirror.Snapshot{Collection: "registration_requests", Live: true, Changes: mirror.Changes{Removed: []string{"r1"}}})
	s.Close()

	assert.Equal(t, []string{
		"DELETE /indexes/roster_requests/documents",
		"POST /indexes/roster_requests/documents r1",
		"DELETE /indexes/roster_members/documents",
		"DELETE /indexes/roster_requests/documents/r1",
	}, log.all())
}
