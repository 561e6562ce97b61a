package replay

import (
	"bufio"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const perfTestHeader = "X-Perf-Test"

// Config controls one replay run. Requests <= 0 means no count limit, which
// needs a Duration.
type Config struct {
	Method      string
	Header      http.Header
	Body        string
	Requests    int
	Concurrency int
	QPS         float64
	Duration    time.Duration
	PerfKey     string
}

// LoadURLs reads one URL per line. Lines that are not absolute URLs are
// appended to base.
func LoadURLs(r io.Reader, base string) ([]string, error) {
	base = strings.TrimRight(base, "/")
	var urls []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.IsAbs() {
			urls = append(urls, raw)
			continue
		}
		if base == "" {
			return nil, errors.Newf("line %d: %q is relative and no base url is set", line, raw)
		}
		if !strings.HasPrefix(raw, "/") {
			raw = "/" + raw
		}
		urls = append(urls, base+raw)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read url file")
	}
	if len(urls) == 0 {
		return nil, errors.New("url file has no urls")
	}
	return urls, nil
}

// PerfTestFlag is the md5 of the current hour and key, sent so the target can
// tell load-test traffic apart.
func PerfTestFlag(key string, t time.Time) string {
	hash := md5.New()
	hash.Write([]byte(t.Format("2006010215")))
	hash.Write([]byte(key))
	return fmt.Sprintf("%x", hash.Sum(nil))
}

type result struct {
	status  int
	err     error
	latency time.Duration
}

// Run sends requests for urls, cycling through them, until cfg.Requests were
// sent or cfg.Duration elapsed.
func Run(ctx context.Context, client *http.Client, urls []string, cfg Config) (*Report, error) {
	if len(urls) == 0 {
		return nil, errors.New("no urls to replay")
	}
	if cfg.Requests <= 0 && cfg.Duration <= 0 {
		return nil, errors.New("either a request count or a duration is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	header := cfg.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if cfg.PerfKey != "" {
		header.Set(perfTestHeader, PerfTestFlag(cfg.PerfKey, time.Now()))
	}
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	var limiter *rate.Limiter
	if cfg.QPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.QPS), 1)
	}

	report := newReport()
	var mu sync.Mutex
	jobs := make(chan string)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for i := 0; cfg.Requests <= 0 || i < cfg.Requests; i++ {
			select {
			case jobs <- urls[i%len(urls)]:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for w := 0; w < cfg.Concurrency; w++ {
		g.Go(func() error {
			for target := range jobs {
				if limiter != nil {
					if err := limiter.Wait(gctx); err != nil {
						return nil
					}
				}
				res, err := send(gctx, client, cfg, header, target)
				if err != nil {
					return err
				}
				if res.err != nil && gctx.Err() != nil {
					// cut short by the deadline, not a failure of the target
					return nil
				}
				mu.Lock()
				report.add(res)
				mu.Unlock()
			}
			return nil
		})
	}

	start := time.Now()
	err := g.Wait()
	report.Elapsed = time.Since(start)
	if err != nil {
		return report, err
	}
	return report, nil
}

func send(ctx context.Context, client *http.Client, cfg Config, header http.Header, target string) (result, error) {
	var body io.Reader
	if cfg.Body != "" {
		body = strings.NewReader(cfg.Body)
	}
	req, err := http.NewRequestWithContext(ctx, cfg.Method, target, body)
	if err != nil {
		return result{}, errors.Wrapf(err, "build request for %s", target)
	}
	req.Header = header.Clone()

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return result{err: err, latency: time.Since(start)}, nil
	}
	io.Copy(ioutil.Discard, resp.Body)
	resp.Body.Close()
	return result{status: resp.StatusCode, latency: time.Since(start)}, nil
}
