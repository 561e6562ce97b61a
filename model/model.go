package model

import (
	"strconv"
	"strings"
	"time"
)

type RunConfig struct {
	ElasticSearch ElasticSearchConfig
	Partner       *string
	Output        string
	Num           int
	Prefix        string
	Ignore        map[string]struct{}
	Verbose       bool
	Scroll        ScrollConfig
	S3            S3Config
}

// Ignored reports whether the snake_case field name was excluded with --ignore.
func (c RunConfig) Ignored(field string) bool {
	_, ok := c.Ignore[field]
	return ok
}

type FileConfig struct {
	ElasticSearch ElasticSearchConfig `json:"elasticsearch"`
	S3            S3Config            `json:"s3"`
}

type ElasticSearchConfig struct {
	Host     string  `json:"host"`
	Index    string  `json:"index"`
	Username *string `json:"username"`
	Password *string `json:"password"`
}

type ScrollConfig struct {
	PageSize  int
	KeepAlive time.Duration
}

type S3Config struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Region string `json:"region"`
}

type Query struct {
	Query         map[string]interface{}  `json:"query"`
	PartialFields map[string]PartialField `json:"partial_fields"`
}

type PartialField struct {
	Include string `json:"include"`
}

type ValueKind int

const (
	StringValue ValueKind = iota
	IntValue
	FloatValue
)

// Value is a scalar activity field. Only the member selected by Kind is set.
type Value struct {
	Kind  ValueKind
	Str   string
	Int   int64
	Float float64
}

func String(s string) Value {
	return Value{Kind: StringValue, Str: s}
}

func Int(i int64) Value {
	return Value{Kind: IntValue, Int: i}
}

func Float(f float64) Value {
	return Value{Kind: FloatValue, Float: f}
}

func (v Value) String() string {
	switch v.Kind {
	case IntValue:
		return strconv.FormatInt(v.Int, 10)
	case FloatValue:
		s := strconv.FormatFloat(v.Float, 'f', -1, 64)
		if !strings.ContainsAny(s, ".nN") {
			// integral floats render as 100.0
			s += ".0"
		}
		return s
	default:
		return v.Str
	}
}

type Field struct {
	Name  string
	Value Value
}

// Activity maps snake_case field names to their values, in the order the
// fields appeared in the document.
type Activity []Field

// Set replaces the value of name, or appends it when absent.
func (a *Activity) Set(name string, value Value) {
	for i := range *a {
		if (*a)[i].Name == name {
			(*a)[i].Value = value
			return
		}
	}
	*a = append(*a, Field{Name: name, Value: value})
}

func (a Activity) Get(name string) (Value, bool) {
	for _, f := range a {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}
