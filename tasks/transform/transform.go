package transform

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/skhatri/esurldump/model"
	"github.com/tidwall/gjson"
	"golang.org/x/text/encoding/unicode"
)

const (
	activityPath       = "fields.part1.0.activity"
	eventOccurTime     = "event_occur_time"
	eventTimeLayout    = "2006-01-02 15:04:05"
	millisecondsPerSec = 1000

	// 0001-01-01 00:00:00 and 9999-12-31 23:59:59 UTC
	minEventSeconds = -62135596800
	maxEventSeconds = 253402300799

	// float64 bounds of int64, the upper one exclusive
	minInt64Float = -9223372036854775808.0
	maxInt64Float = 9223372036854775808.0
)

// ErrNoActivity is the skip reason for hits without fields.part1[0].activity.
var ErrNoActivity = errors.New("hit has no activity object")

// Result is the outcome of transforming one hit: an Activity, or the reason
// the hit was skipped.
type Result struct {
	Activity model.Activity
	Skip     error
}

func (r Result) Ok() bool {
	return r.Skip == nil
}

func skip(err error) Result {
	return Result{Skip: err}
}

type Transformer struct {
	ignored  func(field string) bool
	location *time.Location
}

// New returns a Transformer dropping the snake_case fields ignored reports
// true for; a nil ignored keeps every field. Event times are rendered in loc,
// or in local time when loc is nil.
func New(ignored func(field string) bool, loc *time.Location) *Transformer {
	if ignored == nil {
		ignored = func(string) bool { return false }
	}
	if loc == nil {
		loc = time.Local
	}
	return &Transformer{ignored: ignored, location: loc}
}

// Apply extracts the activity object of hit and rewrites its fields.
func (t *Transformer) Apply(hit gjson.Result) Result {
	activity := hit.Get(activityPath)
	if !activity.Exists() || !activity.IsObject() {
		return skip(ErrNoActivity)
	}

	var out model.Activity
	var failure error
	activity.ForEach(func(key, value gjson.Result) bool {
		name := CamelToSnake(key.String())
		if t.ignored(name) {
			return true
		}
		if name == eventOccurTime {
			formatted, err := FormatDatetime(value, t.location)
			if err != nil {
				failure = errors.Wrapf(err, "field %s", key.String())
				return false
			}
			out.Set(name, model.String(formatted))
			return true
		}
		out.Set(name, toValue(value))
		return true
	})
	if failure != nil {
		return skip(failure)
	}
	return Result{Activity: out}
}

// CamelToSnake replaces every ASCII uppercase letter with an underscore and
// its lowercase form. Names without uppercase letters are returned as is.
func CamelToSnake(name string) string {
	if strings.ToLower(name) == name {
		return name
	}
	var b strings.Builder
	b.Grow(len(name) + 4)
	for _, c := range name {
		if 'A' <= c && c <= 'Z' {
			b.WriteByte('_')
			b.WriteRune(c + ('a' - 'A'))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// FormatDatetime reads v as epoch milliseconds, either a JSON number or a
// numeric string, and formats the whole seconds in loc.
func FormatDatetime(v gjson.Result, loc *time.Location) (string, error) {
	var millis int64
	switch v.Type {
	case gjson.Number:
		if strings.ContainsAny(v.Raw, ".eE") {
			f := v.Float()
			if math.IsNaN(f) || f < minInt64Float || f >= maxInt64Float {
				return "", errors.Newf("epoch millis %s out of range", v.Raw)
			}
			millis = int64(f)
		} else {
			parsed, err := strconv.ParseInt(v.Raw, 10, 64)
			if err != nil {
				return "", errors.Wrapf(err, "epoch millis %s", v.Raw)
			}
			millis = parsed
		}
	case gjson.String:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		if err != nil {
			return "", errors.Wrapf(err, "epoch millis %q", v.Str)
		}
		millis = parsed
	default:
		return "", errors.Newf("epoch millis must be a number, got %s", v.Type)
	}
	seconds := millis / millisecondsPerSec
	if seconds < minEventSeconds || seconds > maxEventSeconds {
		return "", errors.Newf("epoch millis %d out of range", millis)
	}
	t := time.Unix(seconds, 0).In(loc)
	if t.Year() < 1 || t.Year() > 9999 {
		return "", errors.Newf("epoch millis %d out of range in %s", millis, loc)
	}
	return t.Format(eventTimeLayout), nil
}

func toValue(v gjson.Result) model.Value {
	switch v.Type {
	case gjson.String:
		return model.String(normalize(v.Str))
	case gjson.Number:
		if !strings.ContainsAny(v.Raw, ".eE") {
			if i, err := strconv.ParseInt(v.Raw, 10, 64); err == nil {
				return model.Int(i)
			}
		}
		return model.Float(v.Float())
	case gjson.Null:
		return model.String("")
	default:
		// booleans, arrays and objects keep their JSON text
		return model.String(normalize(v.Raw))
	}
}

// normalize replaces invalid UTF-8 sequences with U+FFFD.
func normalize(s string) string {
	out, err := unicode.UTF8.NewDecoder().String(s)
	if err != nil {
		return strings.ToValidUTF8(s, "\uFFFD")
	}
	return out
}
