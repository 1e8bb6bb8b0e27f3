package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/dperf/pkg/api/store"
	"github.com/ethpandaops/dperf/pkg/config"
	"github.com/ethpandaops/dperf/pkg/run"
)

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{
			Path: filepath.Join(t.TempDir(), "dperf.db"),
		},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func insert(t *testing.T, s store.Store, r *run.Run) []byte {
	t.Helper()

	doc, err := json.Marshal(r)
	require.NoError(t, err)
	require.NoError(t, s.InsertRun(context.Background(), r, doc))

	return doc
}

func TestStore_InsertAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r := &run.Run{
		Name:       "ios-app",
		RunID:      7,
		Time:       1000,
		Version:    "1.0",
		Model:      "iPhone",
		SampleRate: 60,
		Duration:   5,
		Samples:    []float64{0, 1, 2},
	}
	doc := insert(t, s, r)

	got, err := s.GetRunByID(ctx, 7)
	require.NoError(t, err)
	assert.JSONEq(t, string(doc), string(got))
}

func TestStore_GetRunPreservesDocumentVerbatim(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	doc := []byte(`{"name":"a","runId":1,"time":5,"extra":{"os":"17.1"}}`)
	require.NoError(t, s.InsertRun(ctx, &run.Run{Name: "a", RunID: 1, Time: 5}, doc))

	got, err := s.GetRunByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, string(doc), string(got))
}

func TestStore_GetRunNotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetRunByID(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrRunNotFound))
}

func TestStore_DuplicateRunIDReturnsFirstStored(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := insert(t, s, &run.Run{Name: "first", RunID: 3, Time: 10})
	insert(t, s, &run.Run{Name: "second", RunID: 3, Time: 20})

	got, err := s.GetRunByID(ctx, 3)
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(got))

	summaries, err := s.ListSummaries(ctx)
	require.NoError(t, err)
	assert.Len(t, summaries, 2, "duplicate run ids must both be stored")
}

func TestStore_ListSummariesOrderedByTimeDesc(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	insert(t, s, &run.Run{Name: "a", RunID: 1, Time: 100})
	insert(t, s, &run.Run{Name: "b", RunID: 2, Time: 300})
	insert(t, s, &run.Run{Name: "a", RunID: 3, Time: 200})
	insert(t, s, &run.Run{Name: "a", RunID: 4, Time: 200})

	summaries, err := s.ListSummaries(ctx)
	require.NoError(t, err)

	assert.Equal(t, []run.Summary{
		{RunID: 2, Name: "b", Time: 300},
		{RunID: 3, Name: "a", Time: 200},
		{RunID: 4, Name: "a", Time: 200},
		{RunID: 1, Name: "a", Time: 100},
	}, summaries)
}

func TestStore_ListSummariesEmpty(t *testing.T) {
	s := setupTestStore(t)

	summaries, err := s.ListSummaries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestStore_ListDocuments(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	const total = 250

	for i := 1; i <= total; i++ {
		insert(t, s, &run.Run{Name: fmt.Sprintf("app-%d", i%3), RunID: int64(i), Time: float64(i)})
	}

	var ids []int64

	require.NoError(t, s.ListDocuments(ctx, func(doc *store.RunDocument) error {
		ids = append(ids, doc.RunID)

		return nil
	}))

	require.Len(t, ids, total)
	assert.Equal(t, int64(1), ids[0])
	assert.Equal(t, int64(total), ids[total-1])

	// An error from the callback stops iteration and is returned.
	errStop := errors.New("stop")
	err := s.ListDocuments(ctx, func(_ *store.RunDocument) error { return errStop })
	require.Error(t, err)
	assert.True(t, errors.Is(err, errStop))
}

func TestStore_ConcurrentInserts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	const workers = 8

	var wg sync.WaitGroup

	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func(id int64) {
			defer wg.Done()

			r := &run.Run{Name: "concurrent", RunID: id, Time: float64(id)}
			doc, _ := json.Marshal(r)
			errs <- s.InsertRun(ctx, r, doc)
		}(int64(i))
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	summaries, err := s.ListSummaries(ctx)
	require.NoError(t, err)
	assert.Len(t, summaries, workers)
}

func TestStore_ErrorsAfterStop(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.Stop())

	ctx := context.Background()

	_, err := s.ListSummaries(ctx)
	require.Error(t, err)

	_, err = s.GetRunByID(ctx, 1)
	require.Error(t, err)
	assert.False(t, errors.Is(err, store.ErrRunNotFound))

	err = s.InsertRun(ctx, &run.Run{Name: "x", RunID: 1}, []byte(`{}`))
	require.Error(t, err)
}

func TestStore_UnsupportedDriver(t *testing.T) {
	s := store.NewStore(logrus.New(), &config.DatabaseConfig{Driver: "mongodb"})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}
