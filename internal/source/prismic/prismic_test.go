package prismic_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krakend/content-sync/internal/source"
	"github.com/krakend/content-sync/internal/source/prismic"
)

const apiInfo = `{"refs":[{"id":"preview","ref":"PREVIEW","isMasterRef":false},{"id":"master","ref":"MASTER","isMasterRef":true}]}`

func newServer(t *testing.T, search http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var infoCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2", func(w http.ResponseWriter, r *http.Request) {
		infoCalls.Add(1)
		w.Write([]byte(apiInfo))
	})
	mux.HandleFunc("/api/v2/documents/search", search)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &infoCalls
}

func newClient(t *testing.T, host string) *prismic.Client {
	t.Helper()
	c, err := prismic.New(prismic.Config{Host: host, AccessToken: "secret", RequestsPerSecond: 1000})
	require.NoError(t, err)
	return c
}

func TestQuerySendsParameters(t *testing.T) {
	var got *http.Request
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Write([]byte(`{"results":[{"id":"1","uid":"one","type":"blog_post","lang":"fr-fr","data":{"title":"Un"}},{"id":"2","lang":"fr-fr"}]}`))
	})

	docs, err := newClient(t, srv.URL+"/api/v2").Query(context.Background(),
		[]string{`[at(document.type,"blog_post")]`, `at(document.tags,["news"])`},
		source.Options{Lang: "fr-fr", PageSize: 50, Orderings: "[my.blog_post.date desc]", Params: map[string]string{"fetchLinks": "author.name"}},
	)
	require.NoError(t, err)

	require.Len(t, docs, 2)
	assert.Equal(t, "one", docs[0].UID)
	assert.Equal(t, "Un", docs[0].Data["title"])
	assert.Equal(t, "fr-fr", docs[1].Lang)

	q := got.URL.Query()
	assert.Equal(t, "MASTER", q.Get("ref"))
	assert.Equal(t, `[[at(document.type,"blog_post")][at(document.tags,["news"])]]`, q.Get("q"))
	assert.Equal(t, "fr-fr", q.Get("lang"))
	assert.Equal(t, "50", q.Get("pageSize"))
	assert.Equal(t, "[my.blog_post.date desc]", q.Get("orderings"))
	assert.Equal(t, "author.name", q.Get("fetchLinks"))
	assert.Equal(t, "secret", q.Get("access_token"))
}

func TestQueryWithExplicitRefSkipsApiInfo(t *testing.T) {
	srv, infoCalls := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "RELEASE", r.URL.Query().Get("ref"))
		w.Write([]byte(`{"results":[]}`))
	})

	docs, err := newClient(t, srv.URL).Query(context.Background(), nil, source.Options{Ref: "RELEASE"})
	require.NoError(t, err)

	assert.Empty(t, docs)
	assert.EqualValues(t, 0, infoCalls.Load())
}

func TestQueryNormalizesSingleDocument(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":{"id":"solo","lang":"en-us"}}`))
	})

	docs, err := newClient(t, srv.URL).Query(context.Background(), nil, source.Options{})
	require.NoError(t, err)

	require.Len(t, docs, 1)
	assert.Equal(t, "solo", docs[0].ID)
}

func TestQueryHTTPError(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad predicate", http.StatusBadRequest)
	})

	_, err := newClient(t, srv.URL).Query(context.Background(), []string{"[broken"}, source.Options{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
	assert.Contains(t, err.Error(), "bad predicate")
}

func TestQueryCanceledContext(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newClient(t, srv.URL).Query(ctx, nil, source.Options{})
	assert.Error(t, err)
}

func TestNewValidatesHost(t *testing.T) {
	_, err := prismic.New(prismic.Config{})
	assert.Error(t, err)

	_, err = prismic.New(prismic.Config{Host: "not a url"})
	assert.Error(t, err)
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want string
	}{
		{"none", nil, ""},
		{"blank entries", []string{" ", ""}, ""},
		{"bracketed", []string{`[at(document.id,"1")]`}, `[[at(document.id,"1")]]`},
		{"bare", []string{`at(document.id,"1")`, `[any(document.tags,["a"])]`}, `[[at(document.id,"1")][any(document.tags,["a"])]]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, prismic.BuildQuery(tt.in))
		})
	}
}
