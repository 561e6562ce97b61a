package dump

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/skhatri/esurldump/model"
	"github.com/skhatri/esurldump/tasks/transform"
	"github.com/tidwall/gjson"
)

// HitSource yields raw search hits until it returns io.EOF.
type HitSource interface {
	Next(ctx context.Context) (gjson.Result, error)
}

type Transformer interface {
	Apply(hit gjson.Result) transform.Result
}

type Emitter interface {
	Emit(activity model.Activity) error
}

type Stats struct {
	Emitted int
	Skipped int
}

// Run emits one URL per transformable hit until limit URLs are written or
// the source is exhausted. Skipped hits do not count towards limit.
func Run(ctx context.Context, source HitSource, t Transformer, out Emitter, limit int) (Stats, error) {
	var stats Stats
	for stats.Emitted < limit {
		hit, err := source.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, errors.Wrap(err, "next hit")
		}

		res := t.Apply(hit)
		if !res.Ok() {
			stats.Skipped++
			logrus.WithError(res.Skip).WithField("id", hit.Get("_id").String()).Debug("skipping document")
			continue
		}
		if err := out.Emit(res.Activity); err != nil {
			return stats, err
		}
		stats.Emitted++
	}
	return stats, nil
}
