package emit

import (
	"bufio"
	"io"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/skhatri/esurldump/model"
)

// GenerateURL form-encodes activity in field order and appends it to prefix
// after a '?'.
func GenerateURL(prefix string, activity model.Activity) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte('?')
	for i, f := range activity {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(f.Name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(f.Value.String()))
	}
	return b.String()
}

// Emitter writes one URL per line.
type Emitter struct {
	prefix string
	out    *bufio.Writer
}

func NewEmitter(prefix string, w io.Writer) *Emitter {
	return &Emitter{prefix: prefix, out: bufio.NewWriter(w)}
}

func (e *Emitter) Emit(activity model.Activity) error {
	if _, err := e.out.WriteString(GenerateURL(e.prefix, activity)); err != nil {
		return errors.Wrap(err, "write url")
	}
	if err := e.out.WriteByte('\n'); err != nil {
		return errors.Wrap(err, "write url")
	}
	return nil
}

// Flush pushes buffered lines to the underlying writer.
func (e *Emitter) Flush() error {
	return errors.Wrap(e.out.Flush(), "flush output")
}
