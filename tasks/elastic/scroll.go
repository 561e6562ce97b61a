package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/sirupsen/logrus"
	"github.com/skhatri/esurldump/model"
	"github.com/tidwall/gjson"
)

const (
	DefaultPageSize  = 1000
	DefaultKeepAlive = 5 * time.Minute
)

// Scroller walks every hit of a query through the scroll API. Pages are
// fetched lazily as Next drains the current one.
type Scroller struct {
	transport esapi.Transport
	index     string
	body      []byte
	pageSize  int
	keepAlive time.Duration

	scrollID string
	page     []gjson.Result
	pos      int
	started  bool
	done     bool
}

type ScrollOption func(*Scroller)

func WithPageSize(size int) ScrollOption {
	return func(s *Scroller) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

func WithKeepAlive(d time.Duration) ScrollOption {
	return func(s *Scroller) {
		if d > 0 {
			s.keepAlive = d
		}
	}
}

// Scan prepares a scroll over index. No request is sent until Open or the
// first Next.
func Scan(transport esapi.Transport, query model.Query, index string, opts ...ScrollOption) (*Scroller, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, errors.Wrap(err, "encode query")
	}
	s := &Scroller{
		transport: transport,
		index:     index,
		body:      body,
		pageSize:  DefaultPageSize,
		keepAlive: DefaultKeepAlive,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Open sends the initial search if it has not been sent yet, so connection
// and query errors surface before any hit is requested.
func (s *Scroller) Open(ctx context.Context) error {
	if s.started {
		return nil
	}
	return s.fetch(ctx)
}

// Next returns the next raw hit, or io.EOF once the index is exhausted.
func (s *Scroller) Next(ctx context.Context) (gjson.Result, error) {
	for s.pos >= len(s.page) {
		if s.done {
			return gjson.Result{}, io.EOF
		}
		if err := s.fetch(ctx); err != nil {
			return gjson.Result{}, err
		}
	}
	hit := s.page[s.pos]
	s.pos++
	return hit, nil
}

func (s *Scroller) fetch(ctx context.Context) error {
	var res *esapi.Response
	var err error
	if !s.started {
		size := s.pageSize
		searchRequest := esapi.SearchRequest{
			Index:  []string{s.index},
			Body:   bytes.NewReader(s.body),
			Scroll: s.keepAlive,
			Size:   &size,
		}
		res, err = searchRequest.Do(ctx, s.transport)
		if err != nil {
			return errors.Wrapf(err, "search index %s", s.index)
		}
		s.started = true
	} else {
		scrollBody, _ := json.Marshal(map[string]string{
			"scroll":    strconv.FormatInt(s.keepAlive.Milliseconds(), 10) + "ms",
			"scroll_id": s.scrollID,
		})
		scrollRequest := esapi.ScrollRequest{
			Body: bytes.NewReader(scrollBody),
		}
		res, err = scrollRequest.Do(ctx, s.transport)
		if err != nil {
			return errors.Wrapf(err, "scroll index %s", s.index)
		}
	}
	defer res.Body.Close()

	data, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return errors.Wrap(err, "read search response")
	}
	if res.IsError() {
		return errors.Newf("search index %s returned %d: %s", s.index, res.StatusCode, gjson.GetBytes(data, "error").Raw)
	}

	if scrollID := gjson.GetBytes(data, "_scroll_id"); scrollID.Exists() {
		s.scrollID = scrollID.String()
	}
	s.page = gjson.GetBytes(data, "hits.hits").Array()
	s.pos = 0
	logrus.WithFields(logrus.Fields{"index": s.index, "hits": len(s.page)}).Debug("fetched page")
	if len(s.page) == 0 || s.scrollID == "" {
		s.done = true
	}
	return nil
}

// Close releases the server-side scroll context, if one was opened.
func (s *Scroller) Close(ctx context.Context) error {
	if s.scrollID == "" {
		return nil
	}
	clearRequest := esapi.ClearScrollRequest{
		ScrollID: []string{s.scrollID},
	}
	res, err := clearRequest.Do(ctx, s.transport)
	s.scrollID = ""
	if err != nil {
		return errors.Wrap(err, "clear scroll")
	}
	defer res.Body.Close()
	if res.IsError() {
		return errors.Newf("clear scroll returned %d", res.StatusCode)
	}
	return nil
}
