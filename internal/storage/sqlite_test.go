package storage

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/masahif/pageprobe/internal/probe"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	dbFile := filepath.Join(t.TempDir(), "test_archive.db")
	storage, err := NewSQLiteStorage(dbFile)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func testResults() []*probe.PageResult {
	return []*probe.PageResult{
		{
			URL:  "https://example.com",
			Type: probe.TypeHTML,
			PageData: &probe.PageData{
				Title:           "Example",
				H1:              "Hi",
				WordCount:       3,
				LinksCount:      1,
				LinksSample:     []string{"https://example.com/a"},
				ScriptSrcSample: []string{},
				StructuredData:  []json.RawMessage{},
			},
		},
		{
			URL:   "https://example.com/private",
			Error: probe.MsgDisallowed,
		},
		{
			URL:  "https://guarded.example",
			Type: probe.TypeHTML,
			Note: probe.MsgFallbackNote,
			PageData: &probe.PageData{
				Title:           "Just a moment...",
				LinksSample:     []string{},
				ScriptSrcSample: []string{},
				StructuredData:  []json.RawMessage{},
				Blocked:         true,
				BlockedBy:       "just-a-moment",
			},
			FallbackResult: &probe.PageResult{Error: "navigation failed"},
		},
	}
}

func TestSQLiteStorage(t *testing.T) {
	storage := newTestStorage(t)
	results := testResults()

	runID, err := storage.StartRun("urls.txt", "output.json", len(results))
	if err != nil {
		t.Fatalf("Failed to start run: %v", err)
	}

	t.Run("SaveAndLoadResults", func(t *testing.T) {
		// Save out of order; positions decide the load order
		for _, i := range []int{2, 0, 1} {
			if err := storage.SaveResult(runID, i, results[i]); err != nil {
				t.Fatalf("Failed to save result %d: %v", i, err)
			}
		}

		loaded, err := storage.LoadResults(runID)
		if err != nil {
			t.Fatalf("Failed to load results: %v", err)
		}
		if len(loaded) != len(results) {
			t.Fatalf("Expected %d results, got %d", len(results), len(loaded))
		}

		for i := range results {
			want, _ := json.Marshal(results[i])
			got, _ := json.Marshal(loaded[i])
			if string(want) != string(got) {
				t.Errorf("Result %d mismatch:\nwant %s\ngot  %s", i, want, got)
			}
		}
	})

	t.Run("DuplicatePositionRejected", func(t *testing.T) {
		if err := storage.SaveResult(runID, 0, results[0]); err == nil {
			t.Error("Expected duplicate position to fail")
		}
	})

	t.Run("Summary", func(t *testing.T) {
		summary, err := storage.GetRunSummary(runID)
		if err != nil {
			t.Fatalf("Failed to get summary: %v", err)
		}
		if summary.Recorded != 3 || summary.Succeeded != 2 || summary.Failed != 1 || summary.Blocked != 1 {
			t.Errorf("Unexpected summary: %+v", summary)
		}
	})

	t.Run("FinishRun", func(t *testing.T) {
		if err := storage.FinishRun(runID, RunCompleted); err != nil {
			t.Fatalf("Failed to finish run: %v", err)
		}

		run, err := storage.GetRun(runID)
		if err != nil {
			t.Fatalf("Failed to get run: %v", err)
		}
		if run.Status != RunCompleted {
			t.Errorf("Expected status %s, got %s", RunCompleted, run.Status)
		}
		if run.URLCount != 3 || run.InputPath != "urls.txt" || run.OutputPath != "output.json" {
			t.Errorf("Unexpected run record: %+v", run)
		}
		if run.FinishedAt == nil || run.FinishedAt.Before(run.StartedAt) {
			t.Errorf("Expected finish time after start, got %+v", run)
		}
	})
}

func TestRunsAreIsolated(t *testing.T) {
	storage := newTestStorage(t)
	results := testResults()

	first, _ := storage.StartRun("a.txt", "a.json", 1)
	second, _ := storage.StartRun("b.txt", "b.json", 1)

	sink := storage.Sink(first)
	if err := sink.SaveResult(0, results[0]); err != nil {
		t.Fatalf("Failed to save via sink: %v", err)
	}
	if err := storage.Sink(second).SaveResult(0, results[1]); err != nil {
		t.Fatalf("Failed to save via sink: %v", err)
	}

	loaded, err := storage.LoadResults(first)
	if err != nil {
		t.Fatalf("Failed to load results: %v", err)
	}
	if len(loaded) != 1 || loaded[0].URL != "https://example.com" {
		t.Errorf("Unexpected results for first run: %+v", loaded)
	}

	empty, err := storage.LoadResults(9999)
	if err != nil {
		t.Fatalf("Failed to load missing run: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected no results for unknown run, got %d", len(empty))
	}
}

func TestRunNotFound(t *testing.T) {
	storage := newTestStorage(t)

	if _, err := storage.GetRun(42); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
	if err := storage.FinishRun(42, RunFailed); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
}

func TestResultForeignKey(t *testing.T) {
	storage := newTestStorage(t)

	if err := storage.SaveResult(7, 0, testResults()[0]); err == nil {
		t.Error("Expected result for unknown run to be rejected")
	}
}

func TestInvalidStatusRejected(t *testing.T) {
	storage := newTestStorage(t)

	runID, _ := storage.StartRun("a.txt", "a.json", 0)
	if err := storage.FinishRun(runID, "exploded"); err == nil {
		t.Error("Expected CHECK constraint to reject unknown status")
	}
}
