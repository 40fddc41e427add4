package search

import (
	"log/slog"
	"strings"
	"sync"

	"ecoroster/console/internal/mirror"
	"ecoroster/console/internal/roster"
	"ecoroster/console/internal/store"
)

// LocalViews returns the console's current view of a collection.
type LocalViews func(collection string) []store.Document

// Service is the facade that tries Meilisearch first and falls back to scanning the local views.
// Index writes go through a single worker so they reach Meilisearch in snapshot order.
type Service struct {
	meili   *Meili
	local   LocalViews
	reqColl string
	memColl string
	logger  *slog.Logger

	jobs chan indexJob
	done chan struct{}
	// sendMu is held for reading while a job is queued and for writing while jobs is closed.
	sendMu sync.RWMutex
	closed bool

	mu sync.Mutex
	// stale marks collections whose index must be rebuilt from the next full snapshot.
	stale map[string]bool
}

// indexJob is one snapshot's worth of index writes for a collection.
type indexJob struct {
	collection string
	docs       []store.Document
	removed    []string
	rebuild    bool
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, local LocalViews, requestsCollection, membersCollection string) *Service {
	s := &Service{
		meili:   meili,
		local:   local,
		reqColl: requestsCollection,
		memColl: membersCollection,
		logger:  slog.Default().With("component", "search"),
		stale:   map[string]bool{requestsCollection: true, membersCollection: true},
	}
	if meili != nil {
		s.jobs = make(chan indexJob, 64)
		s.done = make(chan struct{})
		go s.runIndexer()
	}
	return s
}

// Close waits for queued index writes and stops the worker. It is safe to call more than once.
func (s *Service) Close() {
	s.sendMu.Lock()
	if s.closed || s.jobs == nil {
		s.closed = true
		s.sendMu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.sendMu.Unlock()
	<-s.done
}

// Search tries Meilisearch if healthy, otherwise searches the local views.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "meilisearch"}
		}
		s.logger.Warn("meilisearch error, falling back to local views", "error", err)
	}

	results := s.searchLocal(q)
	total := len(results)
	results = page(results, q.Offset, q.Limit)
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "local"}
}

// Sync queues one live snapshot for the index. The first snapshot of each collection, and the first
// after a skipped or failed write, replaces that collection's index wholesale; later ones apply
// only the changed and removed ids. It is meant to sit next to the reconciler as a mirror sink.
func (s *Service) Sync(snap mirror.Snapshot) {
	if s.meili == nil || !snap.Live {
		return
	}
	if snap.Collection != s.memColl && snap.Collection != s.reqColl {
		return
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return
	}

	s.mu.Lock()
	healthy := s.meili.Healthy()
	rebuild := s.stale[snap.Collection]
	s.stale[snap.Collection] = !healthy
	s.mu.Unlock()

	job := indexJob{collection: snap.Collection}
	switch {
	case !healthy:
		return
	case rebuild:
		job.rebuild = true
		job.docs = store.CloneDocuments(snap.Documents)
	case snap.Changes.Empty():
		return
	default:
		changed := make(map[string]struct{}, len(snap.Changes.Added)+len(snap.Changes.Modified))
		for _, id := range snap.Changes.Added {
			changed[id] = struct{}{}
		}
		for _, id := range snap.Changes.Modified {
			changed[id] = struct{}{}
		}
		for _, d := range snap.Documents {
			if _, ok := changed[d.ID]; ok {
				job.docs = append(job.docs, d.Clone())
			}
		}
		job.removed = append([]string(nil), snap.Changes.Removed...)
	}
	s.jobs <- job
}

func (s *Service) runIndexer() {
	defer close(s.done)
	for job := range s.jobs {
		if err := s.write(job); err != nil {
			s.logger.Warn("index write failed, rebuilding on next snapshot",
				"collection", job.collection, "rebuild", job.rebuild, "error", err)
			s.mu.Lock()
			s.stale[job.collection] = true
			s.mu.Unlock()
		}
	}
}

func (s *Service) write(job indexJob) error {
	members := job.collection == s.memColl
	switch {
	case job.rebuild && members:
		return s.meili.ReplaceMembers(memberRecords(job.docs))
	case job.rebuild:
		return s.meili.ReplaceRequests(requestRecords(job.docs))
	}

	var err error
	if members {
		err = s.meili.IndexMembers(memberRecords(job.docs))
	} else {
		err = s.meili.IndexRequests(requestRecords(job.docs))
	}
	if err != nil {
		return err
	}
	for _, id := range job.removed {
		if members {
			err = s.meili.DeleteMember(id)
		} else {
			err = s.meili.DeleteRequest(id)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) searchLocal(q Query) []Result {
	if s.local == nil {
		return nil
	}
	text := strings.ToLower(strings.TrimSpace(q.Text))
	var results []Result

	if q.FilterType == "" || q.FilterType == ResultMember {
		for _, m := range roster.Members(s.local(s.memColl)) {
			if !matches(text, q.Barangay, m.Name, m.Email, m.Barangay) {
				continue
			}
			results = append(results, Result{
				Type:     ResultMember,
				ID:       m.SubjectID,
				Title:    firstNonBlank(m.Name, m.SubjectID),
				Snippet:  snippet(m.Email, m.Barangay),
				Barangay: m.Barangay,
				Points:   m.Points,
			})
		}
	}
	if q.FilterType == "" || q.FilterType == ResultRequest {
		for _, r := range roster.Requests(s.local(s.reqColl)) {
			if !matches(text, q.Barangay, r.Name, r.Email, r.Barangay) {
				continue
			}
			results = append(results, Result{
				Type:     ResultRequest,
				ID:       r.ID,
				Title:    firstNonBlank(r.Name, r.ID),
				Snippet:  snippet(r.Email, r.Barangay),
				Barangay: r.Barangay,
			})
		}
	}
	return results
}

func matches(text, barangay, name, email, recordBarangay string) bool {
	if barangay != "" && !strings.EqualFold(barangay, recordBarangay) {
		return false
	}
	if text == "" {
		return true
	}
	return strings.Contains(strings.ToLower(name), text) ||
		strings.Contains(strings.ToLower(email), text) ||
		strings.Contains(strings.ToLower(recordBarangay), text)
}

func page(results []Result, offset, limit int) []Result {
	if limit == 0 {
		limit = 20
	}
	if offset >= len(results) {
		return nil
	}
	results = results[offset:]
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func memberRecords(docs []store.Document) []MemberRecord {
	out := make([]MemberRecord, 0, len(docs))
	for _, d := range docs {
		m, err := roster.DecodeMember(d)
		if err != nil {
			continue
		}
		// keyed by document id so removals line up with the index
		out = append(out, MemberRecord{ID: d.ID, Name: m.Name, Email: m.Email, Barangay: m.Barangay, Points: m.Points})
	}
	return out
}

func requestRecords(docs []store.Document) []RequestRecord {
	reqs := roster.Requests(docs)
	out := make([]RequestRecord, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, RequestRecord{ID: r.ID, SubjectID: r.SubjectID, Name: r.Name, Email: r.Email, Barangay: r.Barangay})
	}
	return out
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
