package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/signcast/signcast/internal/action"
	"github.com/signcast/signcast/internal/audit"
	"github.com/signcast/signcast/internal/auth"
	"github.com/signcast/signcast/internal/config"
	"github.com/signcast/signcast/internal/engine"
	"github.com/signcast/signcast/internal/events"
	"github.com/signcast/signcast/internal/media"
	"github.com/signcast/signcast/internal/models"
	"github.com/signcast/signcast/internal/schedule"
)

type testAPI struct {
	server *httptest.Server
	token  string
	db     *gorm.DB
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Organization{},
		&models.User{},
		&models.APIKey{},
		&models.DisplaySlot{},
		&models.MediaList{},
		&models.MediaItem{},
		&models.ActionExecution{},
		&models.PlaybackLog{},
		&models.Schedule{},
		&models.AuditEntry{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	hash, err := auth.HashPassword("hunter22")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	fixtures := []any{
		&models.Organization{ID: "org-1", Name: "acme"},
		&models.User{ID: "u1", OrganizationID: "org-1", Email: "op@example.com", Password: hash, Role: models.RoleAdmin},
		&models.DisplaySlot{ID: "slot-1", OrganizationID: "org-1", Name: "lobby"},
		&models.DisplaySlot{ID: "slot-2", OrganizationID: "org-1", Name: "cafeteria"},
		&models.MediaList{ID: "list-1", OrganizationID: "org-1", Name: "lobby loop", Loop: true, Items: []models.MediaItem{
			{ID: "item-1", MediaListID: "list-1", Position: 0, Title: "welcome", Duration: time.Minute},
		}},
	}
	for _, f := range fixtures {
		if err := db.Create(f).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	logger := zerolog.Nop()
	bus := events.NewBus()
	manager := engine.NewManager(bus, logger)
	t.Cleanup(manager.Dispose)

	mediaSvc, err := media.NewService(db, &config.Config{MediaRoot: t.TempDir()}, logger)
	if err != nil {
		t.Fatalf("media service: %v", err)
	}
	actions := action.NewService(db, manager, mediaSvc, bus, logger)
	schedules := schedule.NewService(db, bus, logger)
	auditSvc := audit.NewService(db, bus, logger)

	secret := []byte("test-jwt-secret")
	a := New(db, secret, actions, schedules, mediaSvc, manager, auditSvc, bus, logger)

	r := chi.NewRouter()
	a.Routes(r)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	token, err := auth.Issue(secret, auth.Claims{UserID: "u1", OrganizationID: "org-1", Role: models.RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	return &testAPI{server: server, token: token, db: db}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (ta *testAPI) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ta.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+ta.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ta.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return resp.StatusCode, env
}

func TestHealth(t *testing.T) {
	ta := newTestAPI(t)

	resp, err := http.Get(ta.server.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestLogin(t *testing.T) {
	ta := newTestAPI(t)

	body, _ := json.Marshal(map[string]string{"email": "op@example.com", "password": "hunter22"})
	resp, err := http.Post(ta.server.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		t.Fatalf("expected token in response, got %s", env.Data)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	ta := newTestAPI(t)

	body, _ := json.Marshal(map[string]string{"email": "op@example.com", "password": "wrong"})
	resp, err := http.Post(ta.server.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	ta := newTestAPI(t)

	resp, err := http.Get(ta.server.URL + "/api/v1/slots")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestActionExecuteLifecycle(t *testing.T) {
	ta := newTestAPI(t)

	status, env := ta.do(t, http.MethodPost, "/api/v1/actions/execute", map[string]string{
		"sourceAppId":    "cms",
		"organizationId": "org-1",
		"mediaListId":    "list-1",
		"displaySlotId":  "slot-1",
	})
	if status != http.StatusCreated || !env.Success {
		t.Fatalf("execute status = %d success = %v error = %s", status, env.Success, env.Error)
	}

	var exec struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &exec); err != nil {
		t.Fatalf("decode execution: %v", err)
	}
	if exec.Status != "running" {
		t.Fatalf("status = %q, want running", exec.Status)
	}

	status, env = ta.do(t, http.MethodGet, "/api/v1/actions/slot-status/slot-1", nil)
	if status != http.StatusOK {
		t.Fatalf("slot status = %d", status)
	}
	var slotStatus struct {
		HasEngine   bool    `json:"hasEngine"`
		State       *string `json:"state"`
		ExecutionID *string `json:"executionId"`
	}
	if err := json.Unmarshal(env.Data, &slotStatus); err != nil {
		t.Fatalf("decode slot status: %v", err)
	}
	if !slotStatus.HasEngine {
		t.Fatal("expected hasEngine after execute")
	}
	if slotStatus.State == nil || *slotStatus.State != "RUNNING" {
		t.Fatalf("state = %v, want RUNNING", slotStatus.State)
	}
	if slotStatus.ExecutionID == nil || *slotStatus.ExecutionID != exec.ID {
		t.Fatalf("executionId = %v, want %s", slotStatus.ExecutionID, exec.ID)
	}

	status, env = ta.do(t, http.MethodPost, "/api/v1/actions/"+exec.ID+"/pause", nil)
	if status != http.StatusOK {
		t.Fatalf("pause status = %d error = %s", status, env.Error)
	}
	status, env = ta.do(t, http.MethodPost, "/api/v1/actions/"+exec.ID+"/resume", nil)
	if status != http.StatusOK {
		t.Fatalf("resume status = %d error = %s", status, env.Error)
	}

	status, env = ta.do(t, http.MethodPost, "/api/v1/actions/"+exec.ID+"/stop", map[string]string{"stoppedBy": "user:tester"})
	if status != http.StatusOK {
		t.Fatalf("stop status = %d error = %s", status, env.Error)
	}
	var stopped struct {
		Status    string `json:"status"`
		StoppedBy string `json:"stoppedBy"`
	}
	if err := json.Unmarshal(env.Data, &stopped); err != nil {
		t.Fatalf("decode stopped: %v", err)
	}
	if stopped.Status != "stopped" || stopped.StoppedBy != "user:tester" {
		t.Fatalf("unexpected stop result: %+v", stopped)
	}
}

func TestSlotStatusUnboundSlotReportsNulls(t *testing.T) {
	ta := newTestAPI(t)

	status, env := ta.do(t, http.MethodGet, "/api/v1/actions/slot-status/slot-2", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}

	var slotStatus struct {
		DisplaySlotID string  `json:"displaySlotId"`
		HasEngine     bool    `json:"hasEngine"`
		State         *string `json:"state"`
		ExecutionID   *string `json:"executionId"`
	}
	if err := json.Unmarshal(env.Data, &slotStatus); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if slotStatus.HasEngine || slotStatus.State != nil || slotStatus.ExecutionID != nil {
		t.Fatalf("expected null state for unbound slot, got %+v", slotStatus)
	}
}

func TestExecuteValidationEnvelope(t *testing.T) {
	ta := newTestAPI(t)

	status, env := ta.do(t, http.MethodPost, "/api/v1/actions/execute", map[string]string{
		"sourceAppId": "cms",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if env.Success || env.Error == "" {
		t.Fatalf("expected failure envelope, got %+v", env)
	}
}

func TestUnknownExecutionEnvelope(t *testing.T) {
	ta := newTestAPI(t)

	status, env := ta.do(t, http.MethodGet, "/api/v1/actions/nope", nil)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
	if env.Success {
		t.Fatal("expected failure envelope")
	}
}

func TestWriteServiceErrorMapping(t *testing.T) {
	a := &API{logger: zerolog.Nop()}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fmt.Errorf("wrap: %w", action.ErrValidation), http.StatusBadRequest},
		{"conflict", fmt.Errorf("wrap: %w", action.ErrConflict), http.StatusBadRequest},
		{"not found", fmt.Errorf("wrap: %w", action.ErrNotFound), http.StatusNotFound},
		{"schedule validation", fmt.Errorf("wrap: %w", schedule.ErrValidation), http.StatusBadRequest},
		{"media not found", media.ErrNotFound, http.StatusNotFound},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			a.writeServiceError(rr, tc.err)
			if rr.Code != tc.want {
				t.Fatalf("status = %d, want %d", rr.Code, tc.want)
			}
			var env envelope
			if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if env.Success || env.Error == "" {
				t.Fatalf("expected failure envelope, got %+v", env)
			}
		})
	}
}

func TestScheduleCRUDOverHTTP(t *testing.T) {
	ta := newTestAPI(t)

	status, env := ta.do(t, http.MethodPost, "/api/v1/schedules/", map[string]any{
		"organizationId": "org-1",
		"displaySlotId":  "slot-1",
		"mediaListId":    "list-1",
		"startTime":      "09:00",
		"endTime":        "17:00",
		"daysOfWeek":     "mon,tue,wed,thu,fri",
		"timezone":       "UTC",
	})
	if status != http.StatusCreated || !env.Success {
		t.Fatalf("create status = %d error = %s", status, env.Error)
	}
	var sched struct {
		ID       string `json:"ID"`
		IsActive bool   `json:"IsActive"`
	}
	if err := json.Unmarshal(env.Data, &sched); err != nil || sched.ID == "" {
		t.Fatalf("decode schedule: %v data=%s", err, env.Data)
	}
	if !sched.IsActive {
		t.Fatal("new schedule not active")
	}

	status, _ = ta.do(t, http.MethodPut, "/api/v1/schedules/"+sched.ID+"/deactivate", nil)
	if status != http.StatusOK {
		t.Fatalf("deactivate status = %d", status)
	}

	status, env = ta.do(t, http.MethodGet, "/api/v1/schedules/slot/slot-1", nil)
	if status != http.StatusOK {
		t.Fatalf("slot schedules status = %d", status)
	}
	var scheds []json.RawMessage
	if err := json.Unmarshal(env.Data, &scheds); err != nil || len(scheds) != 1 {
		t.Fatalf("expected 1 schedule for slot, got %s", env.Data)
	}

	status, _ = ta.do(t, http.MethodDelete, "/api/v1/schedules/"+sched.ID+"/", nil)
	if status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}

	status, _ = ta.do(t, http.MethodGet, "/api/v1/schedules/"+sched.ID+"/", nil)
	if status != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", status)
	}
}

func TestMediaListCRUDOverHTTP(t *testing.T) {
	ta := newTestAPI(t)

	status, env := ta.do(t, http.MethodPost, "/api/v1/media-lists/", map[string]any{
		"organizationId": "org-1",
		"name":           "evening loop",
		"items": []map[string]any{
			{"title": "closing", "contentType": "image/png", "duration": int64(20 * time.Second)},
		},
	})
	if status != http.StatusCreated || !env.Success {
		t.Fatalf("create status = %d error = %s", status, env.Error)
	}
	var list struct {
		ID string `json:"ID"`
	}
	if err := json.Unmarshal(env.Data, &list); err != nil || list.ID == "" {
		t.Fatalf("decode list: %v data=%s", err, env.Data)
	}

	status, _ = ta.do(t, http.MethodGet, "/api/v1/media-lists/"+list.ID+"/", nil)
	if status != http.StatusOK {
		t.Fatalf("get status = %d", status)
	}

	status, _ = ta.do(t, http.MethodDelete, "/api/v1/media-lists/"+list.ID+"/", nil)
	if status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}
}

func TestActiveSlots(t *testing.T) {
	ta := newTestAPI(t)

	status, env := ta.do(t, http.MethodGet, "/api/v1/slots/active", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var data struct {
		SlotIDs []string `json:"slotIds"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(data.SlotIDs) != 0 {
		t.Fatalf("expected no active slots, got %v", data.SlotIDs)
	}

	ta.do(t, http.MethodPost, "/api/v1/actions/execute", map[string]string{
		"sourceAppId":    "cms",
		"organizationId": "org-1",
		"mediaListId":    "list-1",
		"displaySlotId":  "slot-1",
	})

	_, env = ta.do(t, http.MethodGet, "/api/v1/slots/active", nil)
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(data.SlotIDs) != 1 || data.SlotIDs[0] != "slot-1" {
		t.Fatalf("active slots = %v, want [slot-1]", data.SlotIDs)
	}
}
