package backfill

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lead-enricher/internal/common/logging"
	"lead-enricher/internal/enrichment"
	"lead-enricher/internal/storage"
)

func writeSubjectsFile(t *testing.T, path string, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestFileSubjectSourceReadsFileEachCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subjects.json")
	writeSubjectsFile(t, path, `[{"subject_id":"a","street":"123 Main St","zip":"60601"}]`)

	source := NewFileSubjectSource(path)

	subjects, err := source.Subjects(context.Background())
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, "a", subjects[0].SubjectID)

	writeSubjectsFile(t, path, `[
		{"subject_id":"a","street":"123 Main St","zip":"60601"},
		{"subject_id":"b","street":"456 Oak Ave","zip":"60602"}
	]`)

	subjects, err = source.Subjects(context.Background())
	require.NoError(t, err)
	assert.Len(t, subjects, 2)
}

func TestFileSubjectSourceMissingFile(t *testing.T) {
	source := NewFileSubjectSource(filepath.Join(t.TempDir(), "absent.json"))
	_, err := source.Subjects(context.Background())
	require.Error(t, err)
}

func TestFileSubjectSourceMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subjects.json")
	writeSubjectsFile(t, path, `{"not":"an array"}`)

	source := NewFileSubjectSource(path)
	_, err := source.Subjects(context.Background())
	require.Error(t, err)
}

func TestSchedulerRunsFromSubjectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subjects.json")
	writeSubjectsFile(t, path, `[
		{"subject_id":"a","street":"123 Main St","zip":"60601"},
		{"subject_id":"b","street":"456 Oak Ave","zip":"60602"}
	]`)

	var calls int32
	enricher := &fakeEnricher{
		enrichFn: func(ctx context.Context, req enrichment.Request) (*enrichment.Outcome, error) {
			atomic.AddInt32(&calls, 1)
			return &enrichment.Outcome{Source: enrichment.SourceProvider, CostCents: 25}, nil
		},
	}
	runner, store := newTestRunner(t, enricher, fastConfig())
	scheduler := NewScheduler(runner, logging.GetGlobalLogger())

	_, err := scheduler.Register("@every 25ms", "filed", NewFileSubjectSource(path))
	require.NoError(t, err)

	scheduler.Start()
	defer scheduler.Stop()

	runID := "filed-" + time.Now().UTC().Format("20060102")
	require.Eventually(t, func() bool {
		state, err := store.GetRunState(context.Background(), runID)
		return err == nil && state != nil && state.Status == storage.RunStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}
