package replay

import (
	"fmt"
	"io"
	"sort"
	"time"
)

// Report summarises a replay run.
type Report struct {
	Requests    int
	StatusCodes map[int]int
	Errors      map[string]int
	Fastest     time.Duration
	Slowest     time.Duration
	Elapsed     time.Duration

	latencies time.Duration
}

func newReport() *Report {
	return &Report{StatusCodes: make(map[int]int), Errors: make(map[string]int)}
}

func (r *Report) add(res result) {
	r.Requests++
	if res.err != nil {
		r.Errors[res.err.Error()]++
		return
	}
	r.StatusCodes[res.status]++
	r.latencies += res.latency
	if r.Fastest == 0 || res.latency < r.Fastest {
		r.Fastest = res.latency
	}
	if res.latency > r.Slowest {
		r.Slowest = res.latency
	}
}

// Responses counts requests that got an HTTP response.
func (r *Report) Responses() int {
	n := 0
	for _, count := range r.StatusCodes {
		n += count
	}
	return n
}

// Average is the mean latency of requests that got a response.
func (r *Report) Average() time.Duration {
	n := r.Responses()
	if n == 0 {
		return 0
	}
	return r.latencies / time.Duration(n)
}

func (r *Report) RequestsPerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Requests) / r.Elapsed.Seconds()
}

func (r *Report) Print(w io.Writer) error {
	var err error
	printf := func(format string, args ...interface{}) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	printf("\nSummary:\n")
	printf("  Total:\t%4.4f secs\n", r.Elapsed.Seconds())
	printf("  Requests:\t%d\n", r.Requests)
	printf("  Slowest:\t%4.4f secs\n", r.Slowest.Seconds())
	printf("  Fastest:\t%4.4f secs\n", r.Fastest.Seconds())
	printf("  Average:\t%4.4f secs\n", r.Average().Seconds())
	printf("  Requests/sec:\t%4.4f\n", r.RequestsPerSecond())

	if len(r.StatusCodes) > 0 {
		codes := make([]int, 0, len(r.StatusCodes))
		for code := range r.StatusCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		printf("\nStatus code distribution:\n")
		for _, code := range codes {
			printf("  [%d]\t%d responses\n", code, r.StatusCodes[code])
		}
	}

	if len(r.Errors) > 0 {
		messages := make([]string, 0, len(r.Errors))
		for msg := range r.Errors {
			messages = append(messages, msg)
		}
		sort.Strings(messages)
		printf("\nError distribution:\n")
		for _, msg := range messages {
			printf("  [%d]\t%s\n", r.Errors[msg], msg)
		}
	}
	return err
}
