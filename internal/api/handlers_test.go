package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/zapline/zapline/internal/config"
	"github.com/zapline/zapline/internal/crm"
	"github.com/zapline/zapline/internal/metrics"
	"github.com/zapline/zapline/internal/scheduler"
	"github.com/zapline/zapline/internal/store"
)

type stubChannel struct{ connected bool }

func (c *stubChannel) Connected() bool { return c.connected }
func (c *stubChannel) SendText(ctx context.Context, to, text string) (string, error) {
	return "m1", nil
}
func (c *stubChannel) SendMedia(ctx context.Context, to, url string, kind crm.MediaKind) (string, error) {
	return "m2", nil
}

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()

	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	retry := scheduler.NewRetryService(st, metrics.New(), logger)
	cfg := &config.APIConfig{ListenAddr: ":0", APIKey: "test-key"}

	return NewServer(st, retry, &stubChannel{connected: true}, cfg, logger), st
}

func doRequest(s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer test-key")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}

	// Health is open
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", w.Code)
	}
}

func TestCampaignLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/v1/campaigns", crm.Campaign{
		Name:            "welcome",
		MessageTemplate: "Hi {{name}}",
		Active:          true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}

	var created crm.Campaign
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" {
		t.Fatal("created campaign should get an ID")
	}

	w = doRequest(s, http.MethodGet, "/api/v1/campaigns/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("get status = %d", w.Code)
	}

	created.Name = "welcome-v2"
	w = doRequest(s, http.MethodPut, "/api/v1/campaigns/"+created.ID, created)
	if w.Code != http.StatusOK {
		t.Errorf("update status = %d", w.Code)
	}

	w = doRequest(s, http.MethodGet, "/api/v1/campaigns", nil)
	var list []crm.Campaign
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Name != "welcome-v2" {
		t.Errorf("list = %+v, want one renamed campaign", list)
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/v1/campaigns", crm.Campaign{Name: "no-template"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestEnrollLead(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()

	if err := st.PutCampaign(ctx, &crm.Campaign{ID: "c1", Name: "x", MessageTemplate: "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutLead(ctx, &crm.Lead{ID: "l1", Phone: "5511999990001"}); err != nil {
		t.Fatal(err)
	}

	w := doRequest(s, http.MethodPost, "/api/v1/positions", EnrollRequest{LeadID: "l1", CampaignID: "c1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("enroll status = %d, body %s", w.Code, w.Body.String())
	}

	var pos crm.Position
	if err := json.Unmarshal(w.Body.Bytes(), &pos); err != nil {
		t.Fatal(err)
	}
	if pos.Status != crm.StatusPending {
		t.Errorf("status = %s, want pending", pos.Status)
	}

	// Enrolling twice returns the same position
	w = doRequest(s, http.MethodPost, "/api/v1/positions", EnrollRequest{LeadID: "l1", CampaignID: "c1"})
	if w.Code != http.StatusOK {
		t.Fatalf("re-enroll status = %d, want 200", w.Code)
	}
	var again crm.Position
	if err := json.Unmarshal(w.Body.Bytes(), &again); err != nil {
		t.Fatal(err)
	}
	if again.ID != pos.ID {
		t.Errorf("re-enroll returned %s, want existing %s", again.ID, pos.ID)
	}

	// Unknown lead
	w = doRequest(s, http.MethodPost, "/api/v1/positions", EnrollRequest{LeadID: "ghost", CampaignID: "c1"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown lead status = %d, want 404", w.Code)
	}
}

func TestRetryPositionErrors(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()

	w := doRequest(s, http.MethodPost, "/api/v1/positions/ghost/retry", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing position status = %d, want 404", w.Code)
	}

	future := time.Now().Add(time.Hour)
	if err := st.PutPosition(ctx, &crm.Position{
		ID: "p1", LeadID: "l1", CampaignID: "c1",
		Status: crm.StatusSent, NextScheduledAt: &future,
	}); err != nil {
		t.Fatal(err)
	}

	w = doRequest(s, http.MethodPost, "/api/v1/positions/p1/retry", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("not retryable status = %d, want 409", w.Code)
	}
}

func TestRetryPositionWithOptions(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()

	if err := st.PutPosition(ctx, &crm.Position{
		ID: "p1", LeadID: "l1", CampaignID: "c1", Status: crm.StatusFailed,
	}); err != nil {
		t.Fatal(err)
	}

	w := doRequest(s, http.MethodPost, "/api/v1/positions/p1/retry",
		scheduler.RetryOptions{BypassGate: true, ManualRetry: true})
	if w.Code != http.StatusOK {
		t.Fatalf("retry status = %d, body %s", w.Code, w.Body.String())
	}

	pos, err := st.GetPosition(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if pos.Status != crm.StatusPending || !pos.BypassGate || !pos.ManualRetry {
		t.Errorf("position = %+v, want pending with flags set", pos)
	}
}

func TestRetryCampaignAndAll(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()

	if err := st.PutCampaign(ctx, &crm.Campaign{ID: "c1", Name: "x", DispatchIntervalSeconds: 60}); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"p1", "p2"} {
		if err := st.PutPosition(ctx, &crm.Position{
			ID: id, LeadID: "l-" + id, CampaignID: "c1", Status: crm.StatusFailed,
		}); err != nil {
			t.Fatal(err)
		}
	}

	w := doRequest(s, http.MethodPost, "/api/v1/campaigns/c1/retry", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("retry campaign status = %d", w.Code)
	}
	var resp RetryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Requeued != 2 {
		t.Errorf("requeued = %d, want 2", resp.Requeued)
	}

	w = doRequest(s, http.MethodPost, "/api/v1/campaigns/ghost/retry", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing campaign status = %d, want 404", w.Code)
	}

	w = doRequest(s, http.MethodPost, "/api/v1/retry-all", nil)
	if w.Code != http.StatusOK {
		t.Errorf("retry-all status = %d", w.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/v1/settings", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unset settings status = %d, want 404", w.Code)
	}

	w = doRequest(s, http.MethodPut, "/api/v1/settings", crm.Settings{
		SendOnlyBusinessHours: true,
		BusinessHourStart:     9,
		BusinessHourEnd:       18,
		Timezone:              "America/Sao_Paulo",
		MaxMessagesPerHour:    50,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("put settings status = %d, body %s", w.Code, w.Body.String())
	}

	w = doRequest(s, http.MethodGet, "/api/v1/settings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get settings status = %d", w.Code)
	}
	var got crm.Settings
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Timezone != "America/Sao_Paulo" || got.MaxMessagesPerHour != 50 {
		t.Errorf("settings = %+v", got)
	}
}

func TestPutSettingsValidation(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name     string
		settings crm.Settings
	}{
		{"bad timezone", crm.Settings{Timezone: "Mars/Olympus"}},
		{"inverted hours", crm.Settings{SendOnlyBusinessHours: true, BusinessHourStart: 18, BusinessHourEnd: 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(s, http.MethodPut, "/api/v1/settings", tt.settings)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestDeletePosition(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()

	if err := st.PutPosition(ctx, &crm.Position{ID: "p1", LeadID: "l1", CampaignID: "c1", Status: crm.StatusPending}); err != nil {
		t.Fatal(err)
	}

	w := doRequest(s, http.MethodDelete, "/api/v1/positions/p1", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", w.Code)
	}

	pos, err := st.GetPosition(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if pos != nil {
		t.Error("position should be gone")
	}
}
