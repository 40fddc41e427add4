// Package roster holds the two record kinds the console moves between collections: registration
// requests waiting for review and approved members.
package roster

import (
	"encoding/json"
	"fmt"

	"ecoroster/console/internal/store"
)

// Default collection names used by the existing store data.
const (
	RequestsCollection = "registration_requests"
	MembersCollection  = "users"
)

// Request is a pending registration, keyed by a store-assigned id.
type Request struct {
	ID         string `json:"-"`
	SubjectID  string `json:"Uid"`
	Name       string `json:"name"`
	Barangay   string `json:"Barangay"`
	Email      string `json:"email"`
	IsApproved bool   `json:"isApproved"`
}

// Member is an approved participant, keyed by subject id.
type Member struct {
	SubjectID  string `json:"Uid"`
	Name       string `json:"name"`
	Barangay   string `json:"Barangay"`
	Email      string `json:"email"`
	Points     int    `json:"userpoints"`
	IsApproved bool   `json:"isApproved"`
}

func (m Member) ID() string { return m.SubjectID }

// DecodeRequest reads a request document. Unknown fields are ignored.
func DecodeRequest(doc store.Document) (Request, error) {
	var r Request
	if err := json.Unmarshal(doc.Data, &r); err != nil {
		return Request{}, fmt.Errorf("decode request %s: %w", doc.ID, err)
	}
	r.ID = doc.ID
	return r, nil
}

// DecodeMember reads a member document. A body without Uid takes the document id.
func DecodeMember(doc store.Document) (Member, error) {
	var m Member
	if err := json.Unmarshal(doc.Data, &m); err != nil {
		return Member{}, fmt.Errorf("decode member %s: %w", doc.ID, err)
	}
	if m.SubjectID == "" {
		m.SubjectID = doc.ID
	}
	return m, nil
}

// NewMember builds the member record an approval writes: profile fields copied, no points, approved.
func NewMember(r Request) Member {
	return Member{
		SubjectID:  r.SubjectID,
		Name:       r.Name,
		Barangay:   r.Barangay,
		Email:      r.Email,
		Points:     0,
		IsApproved: true,
	}
}

// Encode marshals v into a document body.
func Encode(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return b, nil
}

// Requests decodes every document of a view, skipping the ones that do not parse.
func Requests(docs []store.Document) []Request {
	out := make([]Request, 0, len(docs))
	for _, d := range docs {
		r, err := DecodeRequest(d)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Members decodes every document of a view, skipping the ones that do not parse.
func Members(docs []store.Document) []Member {
	out := make([]Member, 0, len(docs))
	for _, d := range docs {
		m, err := DecodeMember(d)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}
