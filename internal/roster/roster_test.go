package roster

import (
	"encoding/json"
	"testing"

	"ecoroster/console/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequestIgnoresUnknownFields(t *testing.T) {
	doc := store.Document{ID: "r1", Data: json.RawMessage(`{
		"Uid": "u1", "name": "Ana", "Barangay": "San Isidro", "email": "ana@example.com",
		"isApproved": false, "phone": "0917"
	}`)}

	r, err := DecodeRequest(doc)
	require.NoError(t, err)
	assert.Equal(t, Request{ID: "r1", SubjectID: "u1", Name: "Ana", Barangay: "San Isidro", Email: "ana@example.com"}, r)
}

func TestDecodeRequestRejectsBadJSON(t *testing.T) {
	_, err := DecodeRequest(store.Document{ID: "r1", Data: json.RawMessage(`[1,2]`)})
	assert.Error(t, err)
}

func TestNewMember(t *testing.T) {
	r := Request{ID: "r1", SubjectID: "u1", Name: "Ana", Barangay: "X", Email: "a@b.c"}
	m := NewMember(r)

	assert.Equal(t, Member{SubjectID: "u1", Name: "Ana", Barangay: "X", Email: "a@b.c", Points: 0, IsApproved: true}, m)
	assert.Equal(t, "u1", m.ID())

	body, err := Encode(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Uid":"u1","name":"Ana","Barangay":"X","email":"a@b.c","userpoints":0,"isApproved":true}`, string(body))
}

func TestDecodeMemberFallsBackToDocumentID(t *testing.T) {
	m, err := DecodeMember(store.Document{ID: "u7", Data: json.RawMessage(`{"name":"Ben","userpoints":12}`)})
	require.NoError(t, err)
	assert.Equal(t, "u7", m.SubjectID)
	assert.Equal(t, 12, m.Points)
}

func TestViewsSkipUnparseable(t *testing.T) {
	docs := []store.Document{
		{ID: "a", Data: json.RawMessage(`{"name":"A"}`)},
		{ID: "b", Data: json.RawMessage(`"oops"`)},
		{ID: "c", Data: json.RawMessage(`{"name":"C"}`)},
	}

	reqs := Requests(docs)
	require.Len(t, reqs, 2)
	assert.Equal(t, "a", reqs[0].ID)
	assert.Equal(t, "c", reqs[1].ID)

	assert.Len(t, Members(docs), 2)
}
