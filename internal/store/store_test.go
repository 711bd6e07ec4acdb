package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/foreman/internal/errors"
	"github.com/Iron-Ham/foreman/internal/pipeline"
)

func samplePipeline(t *testing.T, status pipeline.Status) *pipeline.Pipeline {
	t.Helper()
	stages, err := pipeline.Resolve(pipeline.Definition{
		Phases: []pipeline.Phase{
			{Name: "research", Owner: "researcher", Output: "r.md"},
			{Name: "design", Owner: "architect", Output: "d.md"},
		},
	}, pipeline.ResolveOptions{})
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 2, 3, 4, 5, 6, 7, time.UTC)
	stages[0].Attempt = 2
	stages[0].RevisionPrompt = "add sources"
	stages[0].Findings = []string{"no citations"}
	stages[0].Result = &pipeline.StageOutcome{ExitStatus: pipeline.ExitSuccess, OutputPath: "r.md"}
	stages[1].Attempt = 2
	stages[1].StartedAt = &now

	return &pipeline.Pipeline{
		ID:        pipeline.NewID(),
		Project:   "acme",
		Label:     "store test",
		Workspace: pipeline.Workspace{Path: "/tmp/ws", Branch: "foreman/x"},
		Stages:    stages,
		Cursor:    1,
		Status:    status,
		Revisions: []pipeline.Revision{{StageIndex: 0, Attempt: 2, Prompt: "add sources", At: now}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

type backendCase struct {
	name string
	open func(t *testing.T) Backend
}

func backends() []backendCase {
	return []backendCase{
		{"file", func(t *testing.T) Backend {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "pipelines"))
			if err != nil {
				t.Fatal(err)
			}
			return s
		}},
		{"sqlite", func(t *testing.T) Backend {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "foreman.db"))
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
	}
}

func mustEncode(t *testing.T, p *pipeline.Pipeline) []byte {
	t.Helper()
	data, err := Encode(p)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestBackends_RoundTrip(t *testing.T) {
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			s := bc.open(t)
			ctx := context.Background()
			p := samplePipeline(t, pipeline.StatusRunning)

			if err := s.Save(ctx, p); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			got, err := s.Load(ctx, p.ID)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if !bytes.Equal(mustEncode(t, got), mustEncode(t, p)) {
				t.Errorf("loaded snapshot differs:\n%s\nwant:\n%s", mustEncode(t, got), mustEncode(t, p))
			}

			outcome := pipeline.StageOutcome{ExitStatus: pipeline.ExitSuccess, RawPayload: `{"kind":"revision","revision_prompt":"more"}`}
			if a, b := pipeline.NextAction(p, outcome), pipeline.NextAction(got, outcome); a.Kind != b.Kind || a.Target != b.Target {
				t.Errorf("NextAction differs after round trip: %+v vs %+v", a, b)
			}
		})
	}
}

func TestBackends_OverwriteListDelete(t *testing.T) {
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			s := bc.open(t)
			ctx := context.Background()

			first := samplePipeline(t, pipeline.StatusRunning)
			second := samplePipeline(t, pipeline.StatusCompleted)
			for _, p := range []*pipeline.Pipeline{second, first} {
				if err := s.Save(ctx, p); err != nil {
					t.Fatal(err)
				}
			}

			first.Status = pipeline.StatusAwaitingEscalation
			first.Escalation = &pipeline.Escalation{Reason: "stalled", StageIndex: 1, RetryIndex: 1}
			if err := s.Save(ctx, first); err != nil {
				t.Fatal(err)
			}

			all, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(all) != 2 || all[0].ID != first.ID || all[1].ID != second.ID {
				t.Fatalf("List() = %d pipelines, want first then second", len(all))
			}
			if all[0].Status != pipeline.StatusAwaitingEscalation || all[0].Escalation.Reason != "stalled" {
				t.Errorf("overwrite not visible: %+v", all[0])
			}

			if err := s.Delete(ctx, second.ID); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if _, err := s.Load(ctx, second.ID); !errors.Is(err, errors.ErrPipelineNotFound) {
				t.Errorf("Load(deleted) error = %v", err)
			}
			if err := s.Delete(ctx, second.ID); !errors.Is(err, errors.ErrPipelineNotFound) {
				t.Errorf("Delete(deleted) error = %v", err)
			}
			if all, _ := s.List(ctx); len(all) != 1 {
				t.Errorf("List() after delete = %d", len(all))
			}
		})
	}
}

func TestBackends_Empty(t *testing.T) {
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			all, err := bc.open(t).List(context.Background())
			if err != nil || len(all) != 0 {
				t.Errorf("List() = %v, %v", all, err)
			}
		})
	}
}

func TestFileStore_AtomicAndTolerant(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	p := samplePipeline(t, pipeline.StatusRunning)

	for range 3 {
		if err := s.Save(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "archive.json"), 0755); err != nil {
		t.Fatal(err)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 1 || all[0].ID != p.ID {
		t.Errorf("List() = %v", all)
	}
}

func TestFileStore_RejectsMalformedIDs(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for _, id := range []string{"", "../escape", "not-a-ulid"} {
		if _, err := s.Load(ctx, id); !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("Load(%q) error = %v, want ErrInvalidInput", id, err)
		}
		if err := s.Save(ctx, &pipeline.Pipeline{ID: id}); !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("Save(%q) error = %v, want ErrInvalidInput", id, err)
		}
	}
}

func TestSQLiteStore_ListByStatus(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "foreman.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	statuses := []pipeline.Status{
		pipeline.StatusRunning, pipeline.StatusCompleted, pipeline.StatusRunning, pipeline.StatusAborted,
	}
	for _, st := range statuses {
		if err := s.Save(ctx, samplePipeline(t, st)); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		filter []pipeline.Status
		want   int
	}{
		{nil, 4},
		{[]pipeline.Status{pipeline.StatusRunning}, 2},
		{[]pipeline.Status{pipeline.StatusCompleted, pipeline.StatusAborted}, 2},
		{[]pipeline.Status{pipeline.StatusAwaitingEscalation}, 0},
	}
	for _, tt := range tests {
		got, err := s.ListByStatus(ctx, tt.filter...)
		if err != nil {
			t.Fatalf("ListByStatus(%v) error = %v", tt.filter, err)
		}
		if len(got) != tt.want {
			t.Errorf("ListByStatus(%v) = %d, want %d", tt.filter, len(got), tt.want)
		}
		for _, p := range got {
			if len(tt.filter) > 0 && !containsStatus(tt.filter, p.Status) {
				t.Errorf("ListByStatus(%v) returned %s", tt.filter, p.Status)
			}
		}
	}
}

func containsStatus(list []pipeline.Status, s pipeline.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"future version", `{"version":2,"pipeline":{"id":"x"}}`, ErrUnsupportedVersion},
		{"missing version", `{"pipeline":{"id":"x"}}`, ErrUnsupportedVersion},
		{"missing pipeline", `{"version":1}`, nil},
		{"garbage", `{{`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			if err == nil {
				t.Fatal("Decode() succeeded")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	fs, err := Open(BackendFile, dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if got := fs.(*FileStore).Dir(); got != filepath.Join(dir, "pipelines") {
		t.Errorf("file store dir = %s", got)
	}

	db, err := Open(BackendSQLite, dir, filepath.Join(dir, "nested", "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := os.Stat(filepath.Join(dir, "nested", "state.db")); err != nil {
		t.Errorf("sqlite file not created: %v", err)
	}

	if _, err := Open("etcd", dir, ""); err == nil {
		t.Error("Open() accepted an unknown backend")
	}
}
