package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NTDK5/vibespot-sub000/module/visit/domain"
	"github.com/NTDK5/vibespot-sub000/module/visit/service"
)

type mockAttemptService struct {
	startFn    func(ctx context.Context, req domain.AttemptRequest) (domain.Snapshot, error)
	cancelFn   func(attemptID string) (domain.Snapshot, error)
	snapshotFn func(attemptID string) (domain.Snapshot, error)
	watchFn    func(attemptID string) (<-chan domain.Snapshot, func(), error)
}

func (m *mockAttemptService) StartAttempt(ctx context.Context, req domain.AttemptRequest) (domain.Snapshot, error) {
	return m.startFn(ctx, req)
}

func (m *mockAttemptService) CancelAttempt(attemptID string) (domain.Snapshot, error) {
	return m.cancelFn(attemptID)
}

func (m *mockAttemptService) AttemptSnapshot(attemptID string) (domain.Snapshot, error) {
	return m.snapshotFn(attemptID)
}

func (m *mockAttemptService) WatchAttempt(attemptID string) (<-chan domain.Snapshot, func(), error) {
	return m.watchFn(attemptID)
}

type mockVisitService struct {
	listFn       func(ctx context.Context, userID string) ([]domain.VisitRecord, error)
	hasVisitedFn func(ctx context.Context, userID, spotID string) (bool, error)
}

func (m *mockVisitService) ListVisits(ctx context.Context, userID string) ([]domain.VisitRecord, error) {
	return m.listFn(ctx, userID)
}

func (m *mockVisitService) HasVisited(ctx context.Context, userID, spotID string) (bool, error) {
	return m.hasVisitedFn(ctx, userID, spotID)
}

// streamRecorder lets gin's Stream run against a recorder.
type streamRecorder struct {
	*httptest.ResponseRecorder
}

func (r *streamRecorder) CloseNotify() <-chan bool {
	return make(chan bool)
}

func setupRouter(attempts attemptService, visits visitService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewVisitHandler(attempts, visits)
	h.Register(r.Group(""))
	return r
}

func startBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(b)
}

func TestStartAttempt_Success(t *testing.T) {
	svc := &mockAttemptService{
		startFn: func(_ context.Context, req domain.AttemptRequest) (domain.Snapshot, error) {
			if req.UserID != "u1" || req.SpotID != "s1" {
				t.Fatalf("unexpected key: %+v", req.Key())
			}
			if req.Target.Lat != -6.2088 || req.Target.Lon != 106.8456 || req.RadiusMeters != 50 || req.DwellSeconds != 30 {
				t.Fatalf("unexpected request: %+v", req)
			}
			return domain.Snapshot{AttemptID: "a1", UserID: "u1", SpotID: "s1", Status: domain.StatusMonitoring, RemainingSeconds: 30}, nil
		},
	}

	r := setupRouter(svc, &mockVisitService{})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/visits/attempts", startBody(t, startAttemptRequest{
		UserID: "u1", SpotID: "s1", Latitude: -6.2088, Longitude: 106.8456, RadiusMeters: 50, DwellSeconds: 30,
	}))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}

	var resp domain.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.AttemptID != "a1" || resp.Status != domain.StatusMonitoring {
		t.Errorf("unexpected snapshot %+v", resp)
	}
}

func TestStartAttempt_InvalidBody(t *testing.T) {
	r := setupRouter(&mockAttemptService{}, &mockVisitService{})

	for _, body := range []string{"invalid", `{"spot_id":"s1"}`, `{"user_id":"u1"}`} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/visits/attempts", strings.NewReader(body))
		r.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, w.Code)
		}
	}
}

func TestStartAttempt_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantReason domain.TerminationReason
	}{
		{"invalid", fmt.Errorf("%w: radius_meters: must be positive", service.ErrInvalidAttempt), http.StatusBadRequest, ""},
		{"overlap", service.ErrAttemptInProgress, http.StatusConflict, ""},
		{"shutting down", service.ErrShuttingDown, http.StatusServiceUnavailable, ""},
		{"permission", &service.StartError{Reason: domain.ReasonPermissionDenied}, http.StatusUnprocessableEntity, domain.ReasonPermissionDenied},
		{"no fix", &service.StartError{Reason: domain.ReasonLocationUnavailable, Err: errors.New("timeout")}, http.StatusUnprocessableEntity, domain.ReasonLocationUnavailable},
		{"too far", &service.StartError{Reason: domain.ReasonOutOfRange, DistanceMeters: 120}, http.StatusUnprocessableEntity, domain.ReasonOutOfRange},
		{"unexpected", errors.New("redis down"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAttemptService{
				startFn: func(context.Context, domain.AttemptRequest) (domain.Snapshot, error) {
					return domain.Snapshot{}, tt.err
				},
			}
			r := setupRouter(svc, &mockVisitService{})
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("POST", "/visits/attempts", startBody(t, startAttemptRequest{UserID: "u1", SpotID: "s1"}))
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, w.Code)
			}
			if tt.wantReason == "" {
				return
			}
			var resp struct {
				Reason         domain.TerminationReason `json:"reason"`
				DistanceMeters float64                  `json:"distance_meters"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.Reason != tt.wantReason {
				t.Errorf("expected reason %s, got %s", tt.wantReason, resp.Reason)
			}
			if tt.wantReason == domain.ReasonOutOfRange && resp.DistanceMeters != 120 {
				t.Errorf("expected distance 120, got %f", resp.DistanceMeters)
			}
		})
	}
}

func TestGetAttempt(t *testing.T) {
	svc := &mockAttemptService{
		snapshotFn: func(id string) (domain.Snapshot, error) {
			if id != "a1" {
				return domain.Snapshot{}, service.ErrAttemptNotFound
			}
			return domain.Snapshot{AttemptID: "a1", Status: domain.StatusVerifying}, nil
		},
	}
	r := setupRouter(svc, &mockVisitService{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/visits/attempts/a1", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/visits/attempts/unknown", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCancelAttempt(t *testing.T) {
	var cancelled string
	svc := &mockAttemptService{
		cancelFn: func(id string) (domain.Snapshot, error) {
			cancelled = id
			return domain.Snapshot{AttemptID: id, Status: domain.StatusCancelled, TerminationReason: domain.ReasonUserCancelled}, nil
		},
	}
	r := setupRouter(svc, &mockVisitService{})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("DELETE", "/visits/attempts/a1", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if cancelled != "a1" {
		t.Errorf("expected a1 to be cancelled, got %q", cancelled)
	}
	var resp domain.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.TerminationReason != domain.ReasonUserCancelled {
		t.Errorf("unexpected reason %s", resp.TerminationReason)
	}
}

func TestStreamAttempt_UntilTerminal(t *testing.T) {
	unsubscribed := false
	svc := &mockAttemptService{
		watchFn: func(string) (<-chan domain.Snapshot, func(), error) {
			ch := make(chan domain.Snapshot, 3)
			ch <- domain.Snapshot{AttemptID: "a1", Status: domain.StatusMonitoring, RemainingSeconds: 2}
			ch <- domain.Snapshot{AttemptID: "a1", Status: domain.StatusVerifying}
			ch <- domain.Snapshot{AttemptID: "a1", Status: domain.StatusCompleted}
			return ch, func() { unsubscribed = true }, nil
		},
	}
	r := setupRouter(svc, &mockVisitService{})
	w := &streamRecorder{httptest.NewRecorder()}
	req, _ := http.NewRequest("GET", "/visits/attempts/a1/stream", nil)

	done := make(chan struct{})
	go func() {
		r.ServeHTTP(w, req)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after terminal snapshot")
	}

	body := w.Body.String()
	if n := strings.Count(body, "event:snapshot"); n != 3 {
		t.Fatalf("expected 3 events, got %d: %s", n, body)
	}
	if !strings.Contains(body, `"status":"completed"`) {
		t.Errorf("missing terminal snapshot: %s", body)
	}
	if !unsubscribed {
		t.Error("expected subscription to be released")
	}
}

func TestStreamAttempt_NotFound(t *testing.T) {
	svc := &mockAttemptService{
		watchFn: func(string) (<-chan domain.Snapshot, func(), error) {
			return nil, nil, service.ErrAttemptNotFound
		},
	}
	r := setupRouter(svc, &mockVisitService{})
	w := &streamRecorder{httptest.NewRecorder()}
	req, _ := http.NewRequest("GET", "/visits/attempts/missing/stream", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListVisits(t *testing.T) {
	visits := &mockVisitService{
		listFn: func(_ context.Context, userID string) ([]domain.VisitRecord, error) {
			if userID != "u1" {
				t.Fatalf("unexpected userID: %s", userID)
			}
			return []domain.VisitRecord{
				{UserID: "u1", SpotID: "s2", VisitedAt: time.Unix(1715005000, 0)},
				{UserID: "u1", SpotID: "s1", VisitedAt: time.Unix(1715000000, 0)},
			}, nil
		},
	}
	r := setupRouter(&mockAttemptService{}, visits)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/users/u1/visits", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp []visitResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp))
	}
	if resp[0].SpotID != "s2" || resp[0].VisitedAt != 1715005000 {
		t.Errorf("unexpected first visit %+v", resp[0])
	}
}

func TestListVisits_Error(t *testing.T) {
	visits := &mockVisitService{
		listFn: func(context.Context, string) ([]domain.VisitRecord, error) {
			return nil, errors.New("db down")
		},
	}
	r := setupRouter(&mockAttemptService{}, visits)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/users/u1/visits", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestGetVisited(t *testing.T) {
	visits := &mockVisitService{
		hasVisitedFn: func(_ context.Context, userID, spotID string) (bool, error) {
			if userID != "u1" {
				t.Fatalf("unexpected userID: %s", userID)
			}
			return spotID == "s1", nil
		},
	}
	r := setupRouter(&mockAttemptService{}, visits)

	for spotID, want := range map[string]bool{"s1": true, "s2": false} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/users/u1/visits/"+spotID, nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var resp visitedResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if resp.SpotID != spotID || resp.Visited != want {
			t.Errorf("spot %s: unexpected response %+v", spotID, resp)
		}
	}
}

func TestGetVisited_Error(t *testing.T) {
	visits := &mockVisitService{
		hasVisitedFn: func(context.Context, string, string) (bool, error) {
			return false, errors.New("db down")
		},
	}
	r := setupRouter(&mockAttemptService{}, visits)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/users/u1/visits/s1", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
