package dump

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/skhatri/esurldump/tasks/emit"
	"github.com/skhatri/esurldump/tasks/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type sliceSource struct {
	hits  []string
	pulls int
	err   error
}

func (s *sliceSource) Next(context.Context) (gjson.Result, error) {
	if s.pulls >= len(s.hits) {
		if s.err != nil {
			return gjson.Result{}, s.err
		}
		return gjson.Result{}, io.EOF
	}
	hit := s.hits[s.pulls]
	s.pulls++
	return gjson.Parse(hit), nil
}

func validHit(i int) string {
	return fmt.Sprintf(`{"_id":"%d","fields":{"part1":[{"activity":{"seqId":%d}}]}}`, i, i)
}

const invalidHit = `{"_id":"bad","fields":{"part1":[]}}`

func runDump(t *testing.T, src *sliceSource, limit int) (Stats, []string) {
	t.Helper()
	var buf bytes.Buffer
	e := emit.NewEmitter("/", &buf)
	stats, err := Run(context.Background(), src, transform.New(nil, time.UTC), e, limit)
	require.NoError(t, err)
	require.NoError(t, e.Flush())
	out := strings.TrimSuffix(buf.String(), "\n")
	if out == "" {
		return stats, nil
	}
	return stats, strings.Split(out, "\n")
}

func TestRunStopsAtLimit(t *testing.T) {
	src := &sliceSource{hits: []string{validHit(1), validHit(2), validHit(3), validHit(4)}}

	stats, lines := runDump(t, src, 2)

	assert.Equal(t, []string{"/?seq_id=1", "/?seq_id=2"}, lines)
	assert.Equal(t, Stats{Emitted: 2}, stats)
	assert.Equal(t, 2, src.pulls)
}

func TestRunSourceExhausted(t *testing.T) {
	src := &sliceSource{hits: []string{validHit(1), validHit(2)}}

	stats, lines := runDump(t, src, 10)

	assert.Len(t, lines, 2)
	assert.Equal(t, 2, stats.Emitted)
}

func TestRunSkipsDoNotCount(t *testing.T) {
	src := &sliceSource{hits: []string{invalidHit, validHit(1), invalidHit, invalidHit, validHit(2), validHit(3)}}

	stats, lines := runDump(t, src, 2)

	assert.Equal(t, []string{"/?seq_id=1", "/?seq_id=2"}, lines)
	assert.Equal(t, Stats{Emitted: 2, Skipped: 3}, stats)
}

func TestRunAllInvalid(t *testing.T) {
	src := &sliceSource{hits: []string{invalidHit, invalidHit}}

	stats, lines := runDump(t, src, 5)

	assert.Empty(t, lines)
	assert.Equal(t, Stats{Skipped: 2}, stats)
}

func TestRunZeroLimit(t *testing.T) {
	src := &sliceSource{hits: []string{validHit(1)}}

	stats, lines := runDump(t, src, 0)

	assert.Empty(t, lines)
	assert.Equal(t, Stats{}, stats)
	assert.Zero(t, src.pulls)
}

func TestRunSourceError(t *testing.T) {
	boom := errors.New("connection refused")
	src := &sliceSource{hits: []string{validHit(1)}, err: boom}

	var buf bytes.Buffer
	stats, err := Run(context.Background(), src, transform.New(nil, time.UTC), emit.NewEmitter("/", &buf), 5)

	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 1, stats.Emitted)
}
