package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/foreman/internal/errors"
	"github.com/Iron-Ham/foreman/internal/event"
	"github.com/Iron-Ham/foreman/internal/pipeline"
)

const testID = "01JB7ZQ4X8N6V2K3M5P9R1T0SW"

// fakeManager records commands and answers from a fixed pipeline table.
type fakeManager struct {
	mu        sync.Mutex
	pipelines map[string]*pipeline.Pipeline
	launched  []pipeline.Definition
	decisions []pipeline.Decision
	reasons   []string
	err       error
}

func newFakeManager() *fakeManager {
	return &fakeManager{pipelines: map[string]*pipeline.Pipeline{
		testID: {
			ID:     testID,
			Label:  "docs",
			Status: pipeline.StatusAwaitingEscalation,
			Stages: []pipeline.Stage{
				{Name: "research", Kind: pipeline.StageExecution, Owner: "researcher", ExpectedOutput: "r.md", Attempt: 1, MaxAttempts: 2},
				{Name: "research", Kind: pipeline.StageValidation, Owner: "validator", ExpectedOutput: "r.md", Attempt: 1, MaxAttempts: 2},
			},
			Cursor: 1,
		},
	}}
}

func (f *fakeManager) Launch(_ context.Context, def pipeline.Definition) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := pipeline.Resolve(def, pipeline.ResolveOptions{}); err != nil {
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}
	f.launched = append(f.launched, def)
	return "01JB7ZQ4X8N6V2K3M5P9R1T0AA", nil
}

func (f *fakeManager) lookup(id string) (*pipeline.Pipeline, error) {
	p, ok := f.pipelines[id]
	if !ok {
		return nil, errors.NewNotFoundError("pipeline", id).WithCause(errors.ErrPipelineNotFound)
	}
	return p, nil
}

func (f *fakeManager) Abort(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.lookup(id)
	if err != nil {
		return err
	}
	if p.Status.IsFinal() {
		return errors.NewPipelineError("cannot abort", errors.ErrPipelineTerminal).WithPipelineID(id)
	}
	p.Status = pipeline.StatusAborted
	return nil
}

func (f *fakeManager) Escalate(_ context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.lookup(id); err != nil {
		return err
	}
	f.reasons = append(f.reasons, reason)
	return f.err
}

func (f *fakeManager) ResumeFromEscalation(_ context.Context, id string, d pipeline.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.lookup(id)
	if err != nil {
		return err
	}
	if d.Action != pipeline.DecisionRetry && d.Action != pipeline.DecisionAbort {
		return errors.NewValidationError("decision must be retry or abort").WithCause(errors.ErrInvalidDecision)
	}
	f.decisions = append(f.decisions, d)
	p.Status = pipeline.StatusRunning
	return nil
}

func (f *fakeManager) Get(id string) (*pipeline.Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

func (f *fakeManager) List(statuses ...pipeline.Status) []*pipeline.Pipeline {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*pipeline.Pipeline
	for _, p := range f.pipelines {
		if len(statuses) == 0 || slices.Contains(statuses, p.Status) {
			out = append(out, p.Clone())
		}
	}
	return out
}

func (f *fakeManager) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.lookup(id)
	if err != nil {
		return err
	}
	if !p.Status.IsFinal() {
		return errors.NewPipelineError("cannot delete", errors.ErrPipelineActive).WithPipelineID(id)
	}
	delete(f.pipelines, id)
	return nil
}

func newTestServer(t *testing.T) (*fakeManager, *event.Bus, *httptest.Server) {
	t.Helper()
	mgr := newFakeManager()
	bus := event.NewBus(nil)
	ts := httptest.NewServer(New(mgr, bus, nil, WithHeartbeat(20*time.Millisecond)))
	t.Cleanup(ts.Close)
	return mgr, bus, ts
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"definition", errors.NewDefinitionError("bad", errors.ErrEmptyDefinition), http.StatusBadRequest, KindDefinition},
		{"validation", errors.NewValidationError("bad"), http.StatusBadRequest, KindValidation},
		{"not found", errors.NewNotFoundError("pipeline", "x"), http.StatusNotFound, KindNotFound},
		{"wrapped sentinel", errors.Wrap(errors.ErrPipelineNotFound, "load"), http.StatusNotFound, KindNotFound},
		{"terminal", errors.NewPipelineError("no", errors.ErrPipelineTerminal), http.StatusConflict, KindConflict},
		{"not escalated", errors.NewPipelineError("no", errors.ErrNotEscalated), http.StatusConflict, KindConflict},
		{"workspace", errors.NewWorkspaceError("git failed", nil), http.StatusBadGateway, KindWorkspace},
		{"other", errors.New("disk full"), http.StatusInternalServerError, KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, kind := classify(tt.err)
			if status != tt.status || kind != tt.kind {
				t.Errorf("classify() = %d %s, want %d %s", status, kind, tt.status, tt.kind)
			}
		})
	}
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{
			name:    "operator error keeps its message",
			err:     errors.NewPipelineError("cannot abort", errors.ErrPipelineTerminal).WithPipelineID("p1"),
			status:  http.StatusConflict,
			message: "pipeline error [pipeline=p1]: cannot abort: pipeline is in a terminal state",
		},
		{
			name:    "store failure is hidden",
			err:     errors.Wrap(errors.New("open /var/foreman/p1.json: permission denied"), "persist pipeline"),
			status:  http.StatusInternalServerError,
			message: "internal server error",
		},
		{
			name:    "transport failure is hidden",
			err:     errors.NewExecutorTransportError("spawn failed", errors.ErrSpawnFailed),
			status:  http.StatusInternalServerError,
			message: "internal server error",
		},
		{
			name:    "wrapped not found is hidden but classified",
			err:     errors.Wrap(errors.ErrPipelineNotFound, "load"),
			status:  http.StatusNotFound,
			message: "not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := errorResponse(tt.err)
			if status != tt.status || resp.Error != tt.message {
				t.Errorf("errorResponse() = %d %q, want %d %q", status, resp.Error, tt.status, tt.message)
			}
		})
	}
}

func TestHandlers(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"launch phases", http.MethodPost, "/api/pipelines", `{"phases":[{"name":"a","owner":"o","output":"a.md"}]}`, http.StatusCreated},
		{"launch template yaml", http.MethodPost, "/api/pipelines", "template: standard\n", http.StatusCreated},
		{"launch empty phases", http.MethodPost, "/api/pipelines", `{"phases":[]}`, http.StatusBadRequest},
		{"launch unknown template", http.MethodPost, "/api/pipelines", `{"template":"nope"}`, http.StatusBadRequest},
		{"launch garbage", http.MethodPost, "/api/pipelines", `{`, http.StatusBadRequest},
		{"list", http.MethodGet, "/api/pipelines", "", http.StatusOK},
		{"list filtered", http.MethodGet, "/api/pipelines?status=running,awaiting_escalation", "", http.StatusOK},
		{"list bad status", http.MethodGet, "/api/pipelines?status=sleeping", "", http.StatusBadRequest},
		{"get", http.MethodGet, "/api/pipelines/" + testID, "", http.StatusOK},
		{"get missing", http.MethodGet, "/api/pipelines/nope", "", http.StatusNotFound},
		{"resume bad action", http.MethodPost, "/api/pipelines/" + testID + "/resume", `{"action":"maybe"}`, http.StatusBadRequest},
		{"resume unknown field", http.MethodPost, "/api/pipelines/" + testID + "/resume", `{"verb":"retry"}`, http.StatusBadRequest},
		{"resume retry", http.MethodPost, "/api/pipelines/" + testID + "/resume", `{"action":"retry","stage_index":0}`, http.StatusOK},
		{"delete active", http.MethodDelete, "/api/pipelines/" + testID, "", http.StatusConflict},
		{"escalate", http.MethodPost, "/api/pipelines/" + testID + "/escalate", `{"reason":"looks stuck"}`, http.StatusOK},
		{"escalate no body", http.MethodPost, "/api/pipelines/" + testID + "/escalate", "", http.StatusOK},
	}

	_, _, ts := newTestServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != tt.status {
				var body ErrorResponse
				_ = json.NewDecoder(resp.Body).Decode(&body)
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.status, body.Error)
			}
		})
	}
}

func TestClient_Commands(t *testing.T) {
	mgr, _, ts := newTestServer(t)
	c := NewClient(ts.URL)
	ctx := context.Background()

	id, err := c.Launch(ctx, []byte("label: x\ntemplate: bugfix\n"))
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if id == "" {
		t.Error("Launch() returned empty id")
	}
	mgr.mu.Lock()
	launched := slices.Clone(mgr.launched)
	mgr.mu.Unlock()
	if len(launched) != 1 || len(launched[0].Roles) != 2 {
		t.Errorf("launched = %+v, want the bugfix roles expanded", launched)
	}

	list, err := c.List(ctx, pipeline.StatusAwaitingEscalation)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != testID || list[0].CurrentStage != "research/validate" {
		t.Errorf("List() = %+v", list)
	}

	p, err := c.Get(ctx, testID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p.Label != "docs" || len(p.Stages) != 2 {
		t.Errorf("Get() = %+v", p)
	}

	idx := 0
	p, err = c.Resume(ctx, testID, pipeline.Decision{Action: pipeline.DecisionRetry, StageIndex: &idx})
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if p.Status != pipeline.StatusRunning {
		t.Errorf("status after resume = %s", p.Status)
	}
	mgr.mu.Lock()
	decisions := slices.Clone(mgr.decisions)
	mgr.mu.Unlock()
	if len(decisions) != 1 || decisions[0].StageIndex == nil || *decisions[0].StageIndex != 0 {
		t.Errorf("decisions = %+v", decisions)
	}

	if _, err := c.Escalate(ctx, testID, "operator saw a loop"); err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}
	mgr.mu.Lock()
	reasons := slices.Clone(mgr.reasons)
	mgr.mu.Unlock()
	if !slices.Equal(reasons, []string{"operator saw a loop"}) {
		t.Errorf("reasons = %v", reasons)
	}

	p, err = c.Abort(ctx, testID)
	if err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	if p.Status != pipeline.StatusAborted {
		t.Errorf("status after abort = %s", p.Status)
	}

	_, err = c.Abort(ctx, testID)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		t.Errorf("second Abort() error = %v, want 409", err)
	}

	if err := c.Delete(ctx, testID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := c.Get(ctx, testID); !errors.Is(err, errors.ErrPipelineNotFound) {
		t.Errorf("Get() after delete error = %v, want not found", err)
	}
}

func TestClient_LaunchRejected(t *testing.T) {
	_, _, ts := newTestServer(t)
	c := NewClient(strings.TrimPrefix(ts.URL, "http://"))

	_, err := c.Launch(context.Background(), []byte(`{"phases":[{"name":"a","owner":"o","output":""}]}`))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Launch() error = %v, want *APIError", err)
	}
	if apiErr.Kind != KindDefinition || !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestEvents_Stream(t *testing.T) {
	_, bus, ts := newTestServer(t)
	c := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan StreamEvent, 256)
	done := make(chan error, 1)
	go func() {
		done <- c.Events(ctx, testID, func(se StreamEvent) bool {
			received <- se
			return se.Type != string(event.PipelineCompleted)
		})
	}()

	// Publish until the subscriber is attached and sees the first event.
	other := event.NewPipelineEvent("01JB7ZQ4X8N6V2K3M5P9R1T0ZZ", event.StageStarted, 0, "")
	first := event.NewPipelineEvent(testID, event.StageStarted, 1, "research/validate")
	deadline := time.After(3 * time.Second)
	var got StreamEvent
wait:
	for {
		bus.Publish(other)
		bus.Publish(first)
		select {
		case got = <-received:
			break wait
		case <-deadline:
			t.Fatal("no event received")
		case <-time.After(20 * time.Millisecond):
		}
	}
	if got.PipelineID != testID || got.Type != string(event.StageStarted) || got.StageIndex != 1 {
		t.Errorf("event = %+v", got)
	}

	bus.Publish(event.NewStageStalledEvent(testID, 1, time.Now()))
	bus.Publish(event.NewPipelineEvent(testID, event.PipelineCompleted, 1, ""))

	if err := <-done; err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	var types []string
	close(received)
	for se := range received {
		if se.PipelineID != testID {
			t.Errorf("received event for %s", se.PipelineID)
		}
		types = append(types, se.Type)
	}
	if !slices.Contains(types, "stage.stalled") || types[len(types)-1] != string(event.PipelineCompleted) {
		t.Errorf("types = %v", types)
	}
}

func TestEvents_UnknownPipeline(t *testing.T) {
	_, _, ts := newTestServer(t)
	err := NewClient(ts.URL).Events(context.Background(), "nope", func(StreamEvent) bool { return true })
	if !errors.Is(err, errors.ErrPipelineNotFound) {
		t.Errorf("Events() error = %v, want not found", err)
	}
}

func TestEvents_NoBus(t *testing.T) {
	ts := httptest.NewServer(New(newFakeManager(), nil, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/events")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := New(newFakeManager(), event.NewBus(nil), nil)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	_ = resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
