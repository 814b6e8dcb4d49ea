package source_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krakend/content-sync/internal/source"
	"github.com/krakend/content-sync/internal/syncerr"
)

func sampleDoc() source.Document {
	return source.Document{
		ID:   "XyZ42",
		UID:  "hello-world",
		Type: "blog_post",
		Lang: "en-us",
		Tags: []string{"news"},
		Data: map[string]any{
			"title": []any{
				map[string]any{"type": "heading1", "text": "Configuring JWT Validation", "spans": []any{}},
			},
			"body": []any{
				map[string]any{"type": "paragraph", "text": "First paragraph about tokens."},
				map[string]any{"type": "paragraph", "text": "  "},
				map[string]any{"type": "paragraph", "text": "Second paragraph."},
			},
			"cover":  map[string]any{"url": "https://images.example.com/cover.png", "alt": "cover"},
			"rating": 4.5,
			"seo": map[string]any{
				"description": "SEO text",
			},
		},
	}
}

func TestProjectIdentityOnly(t *testing.T) {
	got := source.ProjectOne(sampleDoc(), nil)

	assert.Equal(t, "XyZ42", got.ID)
	assert.Equal(t, "hello-world", got.UID)
	assert.Equal(t, "en-us", got.Locale)
	assert.Nil(t, got.Fields)
}

func TestProjectFields(t *testing.T) {
	fields := source.FieldMap{"title", "body", "cover", "rating", "seo.description", "type", "tags", "missing"}

	got := source.ProjectOne(sampleDoc(), fields)

	assert.Equal(t, "Configuring JWT Validation", got.Fields["title"])
	assert.Equal(t, "First paragraph about tokens.\nSecond paragraph.", got.Fields["body"])
	assert.Equal(t, "https://images.example.com/cover.png", got.Fields["cover"])
	assert.Equal(t, 4.5, got.Fields["rating"])
	assert.Equal(t, "SEO text", got.Fields["seo.description"])
	assert.Equal(t, "blog_post", got.Fields["type"])
	assert.Equal(t, []string{"news"}, got.Fields["tags"])
	assert.NotContains(t, got.Fields, "missing")
}

func TestProjectDerivedFields(t *testing.T) {
	fields := source.FieldMap{"title", "body", source.DerivedKeywords, source.DerivedExcerpt}

	got := source.ProjectOne(sampleDoc(), fields)

	kw, ok := got.Fields["keywords"].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"configuring", "jwt", "validation", "first", "paragraph", "about", "tokens", "second"}, kw)
	assert.Equal(t, "First paragraph about tokens.\nSecond paragraph.", got.Fields["excerpt"])
}

func TestProjectKeepsOrder(t *testing.T) {
	docs := []source.Document{{ID: "a", Lang: "en"}, {ID: "b", Lang: "en"}, {ID: "c", Lang: "fr"}}

	got := source.Project(docs, nil)

	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, "fr", got[2].Locale)
}

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name    string
		title   string
		content string
		wantMin int
	}{
		{"title and content", "JWT Validation Configuration", "This section explains how to configure JWT validation", 3},
		{"filters stop words", "The Best Way To Configure", "This is a test of the system", 2},
		{"empty input", "", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keywords := source.ExtractKeywords(tt.title, tt.content)

			if len(keywords) < tt.wantMin {
				t.Errorf("ExtractKeywords() returned %d keywords, want at least %d: %v", len(keywords), tt.wantMin, keywords)
			}
			if len(keywords) > source.MaxKeywords {
				t.Errorf("ExtractKeywords() returned %d keywords, max is %d", len(keywords), source.MaxKeywords)
			}
			seen := map[string]bool{}
			for _, kw := range keywords {
				if kw == "the" || kw == "a" || kw == "is" || kw == "to" {
					t.Errorf("ExtractKeywords() returned stop word %q", kw)
				}
				if seen[kw] {
					t.Errorf("ExtractKeywords() returned %q twice", kw)
				}
				seen[kw] = true
			}
		})
	}
}

func TestExtractKeywordsNonEnglish(t *testing.T) {
	got := source.ExtractKeywords("Übersicht über Änderungen", "été très réussi à Genève")
	assert.Equal(t, []string{"übersicht", "über", "änderungen", "été", "très", "réussi", "genève"}, got)

	// the preview limit falls inside the two-byte "é"
	content := strings.Repeat("a", 197) + " zébra"
	for _, kw := range source.ExtractKeywords("", content) {
		assert.True(t, utf8.ValidString(kw), "keyword %q is not valid UTF-8", kw)
	}
}

func TestExcerpt(t *testing.T) {
	short := "short text"
	if got := source.Excerpt(short, 50); got != short {
		t.Errorf("Excerpt() = %q, want %q", got, short)
	}

	long := strings.Repeat("word ", 100)
	got := source.Excerpt(long, 42)
	if len(got) > 42 {
		t.Errorf("Excerpt() length %d exceeds limit", len(got))
	}
	if strings.HasSuffix(got, "wor") {
		t.Errorf("Excerpt() cut inside a word: %q", got)
	}

	accented := strings.Repeat("é", 50)
	got = source.Excerpt(accented, 11)
	if !strings.HasPrefix(accented, got) || len(got)%2 != 0 {
		t.Errorf("Excerpt() split a rune: %q", got)
	}
}

type stubClient struct {
	docs []source.Document
	err  error
	got  source.Options
}

func (s *stubClient) Query(_ context.Context, _ []string, opts source.Options) ([]source.Document, error) {
	s.got = opts
	return s.docs, s.err
}

func TestAdapterFetch(t *testing.T) {
	client := &stubClient{docs: []source.Document{sampleDoc()}}
	adapter := source.Adapter{Client: client, Fields: source.FieldMap{"title"}}

	got, err := adapter.Fetch(context.Background(), []string{`[at(document.type,"blog_post")]`}, source.Options{Lang: "en-us"})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "Configuring JWT Validation", got[0].Fields["title"])
	assert.Equal(t, "en-us", client.got.Lang)
}

func TestAdapterFetchError(t *testing.T) {
	adapter := source.Adapter{Client: &stubClient{err: errors.New("503")}}

	_, err := adapter.Fetch(context.Background(), nil, source.Options{Lang: "fr-fr"})

	var fetchErr *syncerr.SourceFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "fr-fr", fetchErr.Locale)
	assert.ErrorIs(t, err, syncerr.ErrSourceFetch)
}

func TestOptionsWithLangCopies(t *testing.T) {
	base := source.Options{PageSize: 20, Params: map[string]string{"fetchLinks": "author.name"}}

	fr := base.WithLang("fr-fr")
	fr.Params["fetchLinks"] = "changed"

	assert.Equal(t, "", base.Lang)
	assert.Equal(t, "author.name", base.Params["fetchLinks"])
	assert.Equal(t, 20, fr.PageSize)
}
