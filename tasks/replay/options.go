package replay

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/skhatri/esurldump/utils"
	"github.com/spf13/pflag"
)

var headerRegexp = regexp.MustCompile(`^([\w-]+):\s*(.+)`)

// Options holds raw replay flag values.
type Options struct {
	Base        string
	Method      string
	Headers     []string
	Body        string
	Requests    int
	Concurrency int
	QPS         float64
	Timeout     time.Duration
	Duration    time.Duration
	PerfKey     string
}

func RegisterFlags(fs *pflag.FlagSet) *Options {
	opts := &Options{}
	fs.StringVarP(&opts.Base, "base", "b", "", "base url prepended to relative lines, e.g. http://localhost:8080")
	fs.StringVarP(&opts.Method, "method", "m", http.MethodGet, "HTTP method")
	fs.StringArrayVarP(&opts.Headers, "header", "H", nil, "custom header \"Name: value\", repeatable")
	fs.StringVarP(&opts.Body, "body", "d", "", "request body")
	fs.IntVarP(&opts.Requests, "requests", "n", 200, "number of requests to send, unlimited with --duration")
	fs.IntVarP(&opts.Concurrency, "concurrency", "c", 4, "number of requests in flight")
	fs.Float64VarP(&opts.QPS, "qps", "q", 0, "rate limit in queries per second, 0 for none")
	fs.DurationVarP(&opts.Timeout, "timeout", "s", 0, "per request timeout, 0 for none")
	fs.DurationVarP(&opts.Duration, "duration", "t", 0, "stop after this long")
	fs.StringVarP(&opts.PerfKey, "perf-key", "k", "", "send an X-Perf-Test header derived from this key")
	return opts
}

// Config validates the flags and builds a Config.
func (o *Options) Config() (Config, error) {
	if o.Concurrency <= 0 {
		return Config{}, errors.Wrapf(utils.ErrUsage, "concurrency must be positive, got %d", o.Concurrency)
	}
	if o.Requests < 0 || o.QPS < 0 || o.Timeout < 0 || o.Duration < 0 {
		return Config{}, errors.Wrap(utils.ErrUsage, "requests, qps, timeout and duration must not be negative")
	}
	cfg := Config{
		Method:      strings.ToUpper(o.Method),
		Header:      make(http.Header),
		Body:        o.Body,
		Requests:    o.Requests,
		Concurrency: o.Concurrency,
		QPS:         o.QPS,
		Duration:    o.Duration,
		PerfKey:     o.PerfKey,
	}
	if cfg.Duration > 0 {
		cfg.Requests = 0
	}
	if cfg.Requests == 0 && cfg.Duration == 0 {
		return Config{}, errors.Wrap(utils.ErrUsage, "requests must be positive without --duration")
	}
	for _, h := range o.Headers {
		match := headerRegexp.FindStringSubmatch(h)
		if match == nil {
			return Config{}, errors.Wrapf(utils.ErrUsage, "header %q is not \"Name: value\"", h)
		}
		cfg.Header.Add(match[1], match[2])
	}
	return cfg, nil
}
