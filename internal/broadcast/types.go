package broadcast

import (
	"time"

	"notifyd/internal/docstore"
)

// CollectionName is the shared, role-agnostic broadcast collection.
const CollectionName = "broadcasts"

// Targeting rules.
const (
	TargetAll  = "all"
	TargetUser = "user"
)

// Document field names, fixed by the store contract.
const (
	FieldTitle     = "title"
	FieldBody      = "body"
	FieldType      = "type"
	FieldTarget    = "target"
	FieldTargetUID = "targetUid"
	FieldURL       = "url"
	FieldCreatedBy = "createdBy"
	FieldCreatedAt = "createdAt"
)

// Window sizes: the live subscription watches the most recent LiveWindow
// messages; the catch-up scan consults a CatchUpWindow historical slice once
// per sign-in.
const (
	LiveWindow    = 50
	CatchUpWindow = 40
)

// Message is one broadcast. Immutable once created.
type Message struct {
	ID           string
	Title        string
	Body         string
	Target       string
	TargetUserID string
	URL          string
	CreatedAt    time.Time
}

// FromDoc maps a stored document onto a Message.
func FromDoc(doc docstore.Document) Message {
	return Message{
		ID:           doc.ID,
		Title:        doc.Str(FieldTitle),
		Body:         doc.Str(FieldBody),
		Target:       doc.Str(FieldTarget),
		TargetUserID: doc.Str(FieldTargetUID),
		URL:          doc.Str(FieldURL),
		CreatedAt:    doc.Time(FieldCreatedAt),
	}
}

// liveQuery is the standing window the router watches.
func liveQuery() docstore.Query {
	return docstore.Query{OrderBy: FieldCreatedAt, Desc: true, Limit: LiveWindow}
}

// catchUpQuery is the one-shot historical window scanned at sign-in.
func catchUpQuery() docstore.Query {
	return docstore.Query{OrderBy: FieldCreatedAt, Desc: true, Limit: CatchUpWindow}
}
