// Package source fetches content from the CMS and shapes it into candidate
// records for the index.
package source

import (
	"context"

	"github.com/krakend/content-sync/internal/record"
	"github.com/krakend/content-sync/internal/syncerr"
)

// Document is a raw CMS document
type Document struct {
	ID                   string         `json:"id"`
	UID                  string         `json:"uid,omitempty"`
	Type                 string         `json:"type"`
	Lang                 string         `json:"lang"`
	Tags                 []string       `json:"tags,omitempty"`
	FirstPublicationDate string         `json:"first_publication_date,omitempty"`
	LastPublicationDate  string         `json:"last_publication_date,omitempty"`
	Data                 map[string]any `json:"data,omitempty"`
}

// Options tunes a CMS query
type Options struct {
	// Lang selects the locale variant; "*" or empty means the CMS default.
	Lang      string            `json:"lang,omitempty"`
	PageSize  int               `json:"pageSize,omitempty"`
	Orderings string            `json:"orderings,omitempty"`
	Ref       string            `json:"ref,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
}

// WithLang returns a copy of o targeting lang
func (o Options) WithLang(lang string) Options {
	cp := o
	if o.Params != nil {
		cp.Params = make(map[string]string, len(o.Params))
		for k, v := range o.Params {
			cp.Params[k] = v
		}
	}
	cp.Lang = lang
	return cp
}

// Client queries the CMS
type Client interface {
	Query(ctx context.Context, predicates []string, opts Options) ([]Document, error)
}

// RefResolver is implemented by clients whose queries read a content ref.
// Resolving it once keeps every query of a cycle on the same snapshot.
type RefResolver interface {
	MasterRef(ctx context.Context) (string, error)
}

// Adapter runs queries and projects the results. It keeps no state between calls.
type Adapter struct {
	Client Client
	Fields FieldMap
}

// Fetch queries the CMS and returns the projected candidates
func (a Adapter) Fetch(ctx context.Context, predicates []string, opts Options) ([]record.Candidate, error) {
	docs, err := a.Client.Query(ctx, predicates, opts)
	if err != nil {
		return nil, &syncerr.SourceFetchError{Locale: opts.Lang, Err: err}
	}
	return Project(docs, a.Fields), nil
}

// PinRef fills opts.Ref from the client's master ref when the client has one
// and no ref is set yet
func (a Adapter) PinRef(ctx context.Context, opts Options) (Options, error) {
	resolver, ok := a.Client.(RefResolver)
	if opts.Ref != "" || !ok {
		return opts, nil
	}
	ref, err := resolver.MasterRef(ctx)
	if err != nil {
		return opts, &syncerr.SourceFetchError{Err: err}
	}
	opts.Ref = ref
	return opts, nil
}
