// Package archive mirrors stored runs to S3-compatible object storage.
package archive

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/ethpandaops/dperf/pkg/api/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Archiver stores copies of run documents outside the database.
type Archiver interface {
	// Preflight verifies the destination is writable.
	Preflight(ctx context.Context) error

	// Archive writes one run document.
	Archive(ctx context.Context, name string, runID int64, doc []byte) error
}

// ObjectKey builds the object key for a run: <prefix>/<name>/<runId>.json.
// The name is escaped so that it always occupies a single path segment.
func ObjectKey(prefix, name string, runID int64) string {
	return strings.TrimRight(prefix, "/") + "/" +
		url.PathEscape(name) + "/" +
		strconv.FormatInt(runID, 10) + ".json"
}

// Backfill archives every stored run, running up to concurrency uploads at
// once. It stops at the first failed upload and returns the number of runs
// archived before that point.
func Backfill(
	ctx context.Context,
	log logrus.FieldLogger,
	s store.Store,
	a Archiver,
	concurrency int,
) (int64, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	var archived atomic.Int64

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	err := s.ListDocuments(gCtx, func(doc *store.RunDocument) error {
		// Stop walking the table once an upload has failed.
		if err := gCtx.Err(); err != nil {
			return err
		}

		name, runID, body := doc.Name, doc.RunID, []byte(doc.Document)

		g.Go(func() error {
			if err := a.Archive(gCtx, name, runID, body); err != nil {
				return fmt.Errorf("archiving %s run %d: %w", name, runID, err)
			}

			archived.Add(1)

			return nil
		})

		return nil
	})

	if werr := g.Wait(); werr != nil {
		return archived.Load(), werr
	}

	if err != nil {
		return archived.Load(), fmt.Errorf("walking stored runs: %w", err)
	}

	log.WithField("runs", archived.Load()).Info("Backfill completed")

	return archived.Load(), nil
}
