package elastic

import (
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/skhatri/esurldump/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCluster serves a fixed list of pages through the search and scroll
// endpoints and records what it was asked.
type fakeCluster struct {
	mu      sync.Mutex
	pages   []string
	served  int
	bodies  []string
	paths   []string
	cleared []string
	status  int
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := ioutil.ReadAll(r.Body)
	f.bodies = append(f.bodies, string(body))
	f.paths = append(f.paths, r.URL.Path)
	w.Header().Set("Content-Type", "application/json")

	if f.status != 0 {
		w.WriteHeader(f.status)
		w.Write([]byte(`{"error":{"type":"index_not_found_exception"}}`))
		return
	}
	if r.Method == http.MethodDelete {
		f.cleared = append(f.cleared, strings.TrimPrefix(r.URL.Path, "/_search/scroll/"))
		w.Write([]byte(`{"succeeded":true}`))
		return
	}

	hits := "[]"
	if f.served < len(f.pages) {
		hits = f.pages[f.served]
	}
	f.served++
	w.Write([]byte(`{"_scroll_id":"scroll-1","hits":{"hits":` + hits + `}}`))
}

func newTestScroller(t *testing.T, cluster *fakeCluster, partner *string) *Scroller {
	t.Helper()
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)

	client, err := NewElasticClient(model.ElasticSearchConfig{Host: srv.URL})
	require.NoError(t, err)
	s, err := Scan(client, BuildQuery(partner), "forseti-20231114", WithPageSize(2))
	require.NoError(t, err)
	return s
}

func drain(t *testing.T, s *Scroller) []string {
	t.Helper()
	var ids []string
	for {
		hit, err := s.Next(context.Background())
		if err == io.EOF {
			return ids
		}
		require.NoError(t, err)
		ids = append(ids, hit.Get("_id").String())
	}
}

func TestScrollerWalksAllPages(t *testing.T) {
	cluster := &fakeCluster{pages: []string{
		`[{"_id":"1"},{"_id":"2"}]`,
		`[{"_id":"3"}]`,
	}}
	s := newTestScroller(t, cluster, nil)

	assert.Equal(t, []string{"1", "2", "3"}, drain(t, s))
	assert.Equal(t, []string{
		"/forseti-20231114/_search",
		"/_search/scroll",
		"/_search/scroll",
	}, cluster.paths)

	var first model.Query
	require.NoError(t, json.Unmarshal([]byte(cluster.bodies[0]), &first))
	assert.Contains(t, first.Query, "match_all")

	var scroll map[string]string
	require.NoError(t, json.Unmarshal([]byte(cluster.bodies[1]), &scroll))
	assert.Equal(t, "scroll-1", scroll["scroll_id"])
	assert.Equal(t, "300000ms", scroll["scroll"])

	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, []string{"scroll-1"}, cluster.cleared)
}

func TestScrollerIsLazy(t *testing.T) {
	cluster := &fakeCluster{pages: []string{`[{"_id":"1"}]`}}
	s := newTestScroller(t, cluster, nil)

	assert.Empty(t, cluster.paths)

	hit, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", hit.Get("_id").String())
	assert.Len(t, cluster.paths, 1)
}

func TestScrollerEmptyIndex(t *testing.T) {
	cluster := &fakeCluster{}
	s := newTestScroller(t, cluster, nil)

	_, err := s.Next(context.Background())
	assert.Equal(t, io.EOF, err)

	_, err = s.Next(context.Background())
	assert.Equal(t, io.EOF, err)
	assert.Len(t, cluster.paths, 1)
}

func TestScrollerErrorStatus(t *testing.T) {
	cluster := &fakeCluster{status: http.StatusNotFound}
	s := newTestScroller(t, cluster, nil)

	_, err := s.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "index_not_found_exception")
}

func TestScrollerConnectionRefused(t *testing.T) {
	client, err := NewElasticClient(model.ElasticSearchConfig{Host: "http://127.0.0.1:1"})
	require.NoError(t, err)
	s, err := Scan(client, BuildQuery(nil), "forseti-20231114")
	require.NoError(t, err)

	_, err = s.Next(context.Background())
	assert.Error(t, err)
}

func TestScrollerCloseWithoutScroll(t *testing.T) {
	cluster := &fakeCluster{}
	s := newTestScroller(t, cluster, nil)

	assert.NoError(t, s.Close(context.Background()))
	assert.Empty(t, cluster.paths)
}

func TestScrollerOpenSendsFirstSearch(t *testing.T) {
	cluster := &fakeCluster{pages: []string{`[{"_id":"1"},{"_id":"2"}]`}}
	s := newTestScroller(t, cluster, nil)

	require.NoError(t, s.Open(context.Background()))
	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, []string{"/forseti-20231114/_search"}, cluster.paths)

	assert.Equal(t, []string{"1", "2"}, drain(t, s))
}

func TestScrollerOpenConnectionRefused(t *testing.T) {
	client, err := NewElasticClient(model.ElasticSearchConfig{Host: "http://127.0.0.1:1"})
	require.NoError(t, err)
	s, err := Scan(client, BuildQuery(nil), "forseti-20231114")
	require.NoError(t, err)

	assert.Error(t, s.Open(context.Background()))
}

func TestScrollOptions(t *testing.T) {
	s, err := Scan(nil, BuildQuery(nil), "x", WithPageSize(50), WithKeepAlive(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 50, s.pageSize)
	assert.Equal(t, time.Minute, s.keepAlive)

	s, err = Scan(nil, BuildQuery(nil), "x", WithPageSize(0), WithKeepAlive(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, s.pageSize)
	assert.Equal(t, DefaultKeepAlive, s.keepAlive)
}
