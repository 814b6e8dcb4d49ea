package source

import (
	"strings"

	"github.com/krakend/content-sync/internal/record"
)

// Derived fields computed from the other projected fields
const (
	DerivedKeywords = "keywords"
	DerivedExcerpt  = "excerpt"
)

// FieldMap lists the document fields copied into each record.
// Names are dot paths into the document data ("seo.title"); names not found
// there fall back to document metadata (type, tags, first_publication_date,
// last_publication_date). An empty map projects identity only.
type FieldMap []string

// Project converts documents into candidates
func Project(docs []Document, fields FieldMap) []record.Candidate {
	out := make([]record.Candidate, 0, len(docs))
	for _, doc := range docs {
		out = append(out, ProjectOne(doc, fields))
	}
	return out
}

// ProjectOne converts a single document
func ProjectOne(doc Document, fields FieldMap) record.Candidate {
	c := record.Candidate{
		ID:     doc.ID,
		UID:    doc.UID,
		Locale: doc.Lang,
	}
	if len(fields) == 0 {
		return c
	}

	c.Fields = make(map[string]any, len(fields))
	var derived []string
	var text []string

	for _, name := range fields {
		if name == DerivedKeywords || name == DerivedExcerpt {
			derived = append(derived, name)
			continue
		}
		raw, ok := lookup(doc, name)
		if !ok {
			continue
		}
		v := flatten(raw)
		if v == nil {
			continue
		}
		c.Fields[name] = v
		if s, ok := v.(string); ok {
			text = append(text, s)
		}
	}

	if len(derived) > 0 {
		title := ""
		body := strings.Join(text, "\n")
		if len(text) > 0 {
			title = text[0]
			body = strings.Join(text[1:], "\n")
		}
		for _, name := range derived {
			switch name {
			case DerivedKeywords:
				if kw := ExtractKeywords(title, body); len(kw) > 0 {
					c.Fields[name] = kw
				}
			case DerivedExcerpt:
				if ex := Excerpt(body, MaxExcerptChars); ex != "" {
					c.Fields[name] = ex
				}
			}
		}
	}
	return c
}

func lookup(doc Document, path string) (any, bool) {
	if v, ok := lookupPath(doc.Data, path); ok {
		return v, true
	}
	switch path {
	case "type":
		return doc.Type, doc.Type != ""
	case "tags":
		return doc.Tags, len(doc.Tags) > 0
	case "first_publication_date":
		return doc.FirstPublicationDate, doc.FirstPublicationDate != ""
	case "last_publication_date":
		return doc.LastPublicationDate, doc.LastPublicationDate != ""
	}
	return nil, false
}

func lookupPath(data map[string]any, path string) (any, bool) {
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// flatten reduces CMS field shapes to indexable values: structured text
// becomes plain text, links and images become their url
func flatten(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		if isStructuredText(t) {
			return structuredText(t)
		}
		out := make([]any, 0, len(t))
		for _, item := range t {
			if f := flatten(item); f != nil {
				out = append(out, f)
			}
		}
		return out
	case map[string]any:
		if u, ok := t["url"].(string); ok {
			return u
		}
		out := make(map[string]any, len(t))
		for k, item := range t {
			if f := flatten(item); f != nil {
				out[k] = f
			}
		}
		return out
	default:
		return v
	}
}

func isStructuredText(blocks []any) bool {
	if len(blocks) == 0 {
		return false
	}
	for _, b := range blocks {
		m, ok := b.(map[string]any)
		if !ok {
			return false
		}
		if _, ok := m["type"].(string); !ok {
			return false
		}
	}
	return true
}

func structuredText(blocks []any) string {
	var sb strings.Builder
	for _, b := range blocks {
		text, _ := b.(map[string]any)["text"].(string)
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(text)
	}
	return sb.String()
}
