package record

import (
	"errors"
	"fmt"
)

// Reserved document attributes written alongside the projected payload
const (
	FieldID       = "id"
	FieldUID      = "uid"
	FieldLocale   = "locale"
	FieldObjectID = "objectID"
)

// ErrMissingKey is returned for records that lack an id or a locale
var ErrMissingKey = errors.New("record has no id or locale")

// Key is the natural (pre-index) uniqueness key of a content item
type Key struct {
	ID     string
	Locale string
}

func (k Key) String() string {
	return k.ID + "@" + k.Locale
}

// Candidate is a content item pending indexing
type Candidate struct {
	ID     string         `json:"id"`
	UID    string         `json:"uid,omitempty"`
	Locale string         `json:"locale"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Key returns the (id, locale) pair identifying the candidate
func (c Candidate) Key() Key {
	return Key{ID: c.ID, Locale: c.Locale}
}

// Validate rejects candidates that cannot be matched safely against the index
func (c Candidate) Validate() error {
	if c.ID == "" || c.Locale == "" {
		return fmt.Errorf("%w (id=%q, locale=%q)", ErrMissingKey, c.ID, c.Locale)
	}
	return nil
}

// Document renders the flat attribute map stored in the index.
// Reserved attributes override payload fields with the same name.
func (c Candidate) Document() map[string]any {
	doc := make(map[string]any, len(c.Fields)+3)
	for k, v := range c.Fields {
		doc[k] = v
	}
	delete(doc, FieldObjectID)
	doc[FieldID] = c.ID
	doc[FieldLocale] = c.Locale
	if c.UID != "" {
		doc[FieldUID] = c.UID
	} else {
		delete(doc, FieldUID)
	}
	return doc
}

// Indexed is a candidate that carries the identity assigned by the index
type Indexed struct {
	Candidate
	ObjectID string `json:"objectID"`
}

// WithObjectID returns a new Indexed value; c is left untouched
func (c Candidate) WithObjectID(objectID string) Indexed {
	fields := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		fields[k] = v
	}
	c.Fields = fields
	return Indexed{Candidate: c, ObjectID: objectID}
}

// Document renders the stored attributes including the object identity
func (r Indexed) Document() map[string]any {
	doc := r.Candidate.Document()
	doc[FieldObjectID] = r.ObjectID
	return doc
}

// Classification pairs a candidate with the outcome of its identity lookup
type Classification struct {
	Candidate Candidate
	Exists    bool
	ObjectID  string
}
