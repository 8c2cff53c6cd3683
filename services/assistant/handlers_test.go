// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PeterGuk540/aristai-sub000/services/assistant/actions"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/results"
	badgerstore "github.com/PeterGuk540/aristai-sub000/services/assistant/storage/badger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := badgerstore.OpenDB(badgerstore.Config{InMemory: true, Logger: logger})
	if err != nil {
		t.Fatalf("open in-memory badger: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close badger: %v", err)
		}
	})

	svc := NewService(db, actions.NewMemoryStore(), ServiceConfig{
		ActionTTL:  time.Minute,
		ContextTTL: time.Minute,
		SeedCampus: true,
		Logger:     logger,
	})
	if err := svc.Warmup(context.Background()); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	return svc
}

func setupTestRouter(svc *Service) *gin.Engine {
	RegisterValidations()
	r := gin.New()
	handlers := NewHandlers(svc)
	v1 := r.Group("/v1")
	RegisterRoutes(v1, handlers, WarmupGuard(svc))
	RegisterHealthRoutes(r, handlers)
	return r
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewBuffer(raw)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) results.Envelope {
	t.Helper()
	var resp ExecuteToolResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal envelope: %v (%s)", err, w.Body.String())
	}
	return resp.Envelope
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error: %v (%s)", err, w.Body.String())
	}
	return resp
}

// stageWrite plans a create_course write and returns the action id.
func stageWrite(t *testing.T, router *gin.Engine, actor string) string {
	t.Helper()
	w := doJSON(t, router, "POST", "/v1/assistant/tools/execute", ExecuteToolRequest{
		ToolName:  "create_course",
		Arguments: map[string]any{"title": "Topology", "subject": "Math"},
		ActorID:   actor,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("stage status = %d: %s", w.Code, w.Body.String())
	}
	env := decodeEnvelope(t, w)
	if env.Type != results.TypePlan {
		t.Fatalf("staging a write must return a plan, got %q", env.Type)
	}
	id, _ := env.Data["action_id"].(string)
	if id == "" {
		t.Fatalf("plan envelope missing action_id: %v", env.Data)
	}
	return id
}

func TestExecuteReadTool(t *testing.T) {
	router := setupTestRouter(newTestService(t))

	w := doJSON(t, router, "POST", "/v1/assistant/tools/execute", ExecuteToolRequest{
		ToolName: "list_courses",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	env := decodeEnvelope(t, w)
	if !env.OK || env.Type != results.TypeResult {
		t.Fatalf("envelope = %+v", env)
	}
	if !strings.Contains(env.Summary, "3 courses") {
		t.Fatalf("summary = %q, want seeded course count", env.Summary)
	}
}

func TestExecuteWriteToolStagesPlan(t *testing.T) {
	svc := newTestService(t)
	router := setupTestRouter(svc)

	id := stageWrite(t, router, "alice")
	if id == "" {
		t.Fatal("no action id")
	}

	// Nothing committed yet.
	courses, err := svc.campus.ListCourses(context.Background())
	if err != nil {
		t.Fatalf("list courses: %v", err)
	}
	for _, course := range courses {
		if course.Title == "Topology" {
			t.Fatal("staged write must not execute before confirm")
		}
	}
}

func TestConfirmFlow(t *testing.T) {
	router := setupTestRouter(newTestService(t))
	id := stageWrite(t, router, "alice")

	w := doJSON(t, router, "POST", "/v1/assistant/actions/"+id+"/confirm", ActionRequest{ActorID: "alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("confirm status = %d: %s", w.Code, w.Body.String())
	}
	env := decodeEnvelope(t, w)
	if !env.OK || env.Type != results.TypeResult {
		t.Fatalf("envelope = %+v", env)
	}
	if !strings.Contains(env.Summary, "Topology") {
		t.Fatalf("summary = %q", env.Summary)
	}

	// Confirm is not idempotent: the second attempt reports the terminal
	// state instead of running twice.
	w = doJSON(t, router, "POST", "/v1/assistant/actions/"+id+"/confirm", ActionRequest{ActorID: "alice"})
	if w.Code != http.StatusConflict {
		t.Fatalf("second confirm status = %d, want 409", w.Code)
	}
	errResp := decodeError(t, w)
	if errResp.Code != "INVALID_STATE" || !strings.Contains(errResp.Error, "already executed") {
		t.Fatalf("error = %+v", errResp)
	}
}

func TestConfirmWrongOwner(t *testing.T) {
	router := setupTestRouter(newTestService(t))
	id := stageWrite(t, router, "alice")

	w := doJSON(t, router, "POST", "/v1/assistant/actions/"+id+"/confirm", ActionRequest{ActorID: "bob"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	errResp := decodeError(t, w)
	if errResp.Code != "NOT_OWNER" {
		t.Fatalf("code = %q", errResp.Code)
	}
	if strings.Contains(w.Body.String(), "Topology") {
		t.Fatal("ownership error must not disclose arguments")
	}

	// The action is still live for its owner.
	w = doJSON(t, router, "POST", "/v1/assistant/actions/"+id+"/confirm", ActionRequest{ActorID: "alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("owner confirm after foreign attempt = %d: %s", w.Code, w.Body.String())
	}
}

func TestCancelFlow(t *testing.T) {
	router := setupTestRouter(newTestService(t))
	id := stageWrite(t, router, "alice")

	w := doJSON(t, router, "POST", "/v1/assistant/actions/"+id+"/cancel", ActionRequest{ActorID: "alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d: %s", w.Code, w.Body.String())
	}
	env := decodeEnvelope(t, w)
	if env.Summary != "Cancelled. Nothing was changed." {
		t.Fatalf("summary = %q", env.Summary)
	}

	w = doJSON(t, router, "POST", "/v1/assistant/actions/"+id+"/confirm", ActionRequest{ActorID: "alice"})
	if w.Code != http.StatusConflict {
		t.Fatalf("confirm after cancel = %d, want 409", w.Code)
	}
	if !strings.Contains(decodeError(t, w).Error, "already cancelled") {
		t.Fatalf("error = %s", w.Body.String())
	}
}

func TestActionPeek(t *testing.T) {
	router := setupTestRouter(newTestService(t))
	id := stageWrite(t, router, "alice")

	w := doJSON(t, router, "GET", "/v1/assistant/actions/"+id+"?actor_id=alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("peek status = %d: %s", w.Code, w.Body.String())
	}
	var view ActionView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("unmarshal view: %v", err)
	}
	if view.Status != "planned" || view.Tool != "create_course" {
		t.Fatalf("view = %+v", view)
	}
	if view.Preview.Summary == "" {
		t.Fatal("peek must include the preview")
	}
	if view.ExpiresInSeconds <= 0 || view.ExpiresInSeconds > 60 {
		t.Fatalf("expires_in_seconds = %d", view.ExpiresInSeconds)
	}

	w = doJSON(t, router, "GET", "/v1/assistant/actions/"+id+"?actor_id=bob", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign peek status = %d, want 403", w.Code)
	}
	if strings.Contains(w.Body.String(), "Topology") {
		t.Fatal("foreign peek must not disclose arguments")
	}

	w = doJSON(t, router, "GET", "/v1/assistant/actions/act_nope?actor_id=alice", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown peek status = %d, want 404", w.Code)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	router := setupTestRouter(newTestService(t))

	w := doJSON(t, router, "POST", "/v1/assistant/tools/execute", ExecuteToolRequest{
		ToolName: "launch_rocket",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if decodeError(t, w).Code != "UNKNOWN_TOOL" {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestExecuteValidationFailure(t *testing.T) {
	router := setupTestRouter(newTestService(t))

	w := doJSON(t, router, "POST", "/v1/assistant/tools/execute", ExecuteToolRequest{
		ToolName:  "create_course",
		Arguments: map[string]any{"subject": "Math"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	errResp := decodeError(t, w)
	if errResp.Code != "VALIDATION_FAILED" || !strings.Contains(errResp.Error, "title") {
		t.Fatalf("error = %+v", errResp)
	}
}

func TestExecuteRejectsMalformedToolName(t *testing.T) {
	router := setupTestRouter(newTestService(t))

	w := doJSON(t, router, "POST", "/v1/assistant/tools/execute", map[string]any{
		"tool_name": "Drop Tables!",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if decodeError(t, w).Code != "INVALID_REQUEST" {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestExpectedToolFailureIsRecovered(t *testing.T) {
	router := setupTestRouter(newTestService(t))

	w := doJSON(t, router, "POST", "/v1/assistant/tools/execute", ExecuteToolRequest{
		ToolName:  "get_course",
		Arguments: map[string]any{"course_id": "ghost"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (recovered)", w.Code)
	}
	env := decodeEnvelope(t, w)
	if env.OK || env.Type != results.TypeError {
		t.Fatalf("envelope = %+v", env)
	}
	if !strings.Contains(env.Summary, "no course") {
		t.Fatalf("summary = %q", env.Summary)
	}
}

func TestListTools(t *testing.T) {
	router := setupTestRouter(newTestService(t))

	w := doJSON(t, router, "GET", "/v1/assistant/tools", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ListToolsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 14 || len(resp.Tools) != 14 {
		t.Fatalf("count = %d, tools = %d", resp.Count, len(resp.Tools))
	}

	var create *ToolInfo
	for i := range resp.Tools {
		if resp.Tools[i].Name == "create_course" {
			create = &resp.Tools[i]
			break
		}
	}
	if create == nil {
		t.Fatal("create_course missing from catalog")
	}
	if create.Mode != "write" || create.Category != "courses" {
		t.Fatalf("create_course = %+v", create)
	}
	if len(create.Fields) != 4 || create.Fields[0].Name != "title" || !create.Fields[0].Required {
		t.Fatalf("create_course fields = %+v", create.Fields)
	}
}

func TestConversationTurnFlow(t *testing.T) {
	router := setupTestRouter(newTestService(t))

	turn := func(input string) TurnResponse {
		t.Helper()
		w := doJSON(t, router, "POST", "/v1/assistant/conversation/turn", TurnRequest{
			ActorID: "prof-1",
			Input:   input,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("turn status = %d: %s", w.Code, w.Body.String())
		}
		var resp TurnResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal turn: %v", err)
		}
		return resp
	}

	resp := turn("start form create_course")
	if resp.State != "awaiting_field_input" {
		t.Fatalf("state = %q", resp.State)
	}
	if !strings.Contains(resp.Text, "title") {
		t.Fatalf("text = %q", resp.Text)
	}

	turn("Topology")
	turn("Math")
	turn("skip")
	// Skipping the last optional field (description) completes the form.
	resp = turn("skip")
	if resp.State != "awaiting_confirmation" {
		t.Fatalf("state after form = %q (%s)", resp.State, resp.Text)
	}
	if resp.Envelope == nil || resp.Envelope.Type != results.TypePlan {
		t.Fatalf("completed form must stage a plan, got %+v", resp.Envelope)
	}

	resp = turn("yes")
	if resp.State != "idle" {
		t.Fatalf("state after confirm = %q (%s)", resp.State, resp.Text)
	}
	if !strings.Contains(resp.Text, "Topology") {
		t.Fatalf("text = %q", resp.Text)
	}
}

func TestConversationTurnRequiresInput(t *testing.T) {
	router := setupTestRouter(newTestService(t))

	w := doJSON(t, router, "POST", "/v1/assistant/conversation/turn", map[string]any{
		"actor_id": "prof-1",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestResetConversation(t *testing.T) {
	svc := newTestService(t)
	router := setupTestRouter(svc)

	doJSON(t, router, "POST", "/v1/assistant/conversation/turn", TurnRequest{
		ActorID: "prof-1",
		Input:   "start form create_course",
	})
	if svc.contexts.Len() != 1 {
		t.Fatalf("contexts = %d, want 1", svc.contexts.Len())
	}

	w := doJSON(t, router, "DELETE", "/v1/assistant/conversation?actor_id=prof-1", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("reset status = %d, want 204", w.Code)
	}
	if svc.contexts.Len() != 0 {
		t.Fatalf("contexts after reset = %d, want 0", svc.contexts.Len())
	}
}

func TestHealthAndReadiness(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := badgerstore.OpenDB(badgerstore.Config{InMemory: true, Logger: logger})
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	svc := NewService(db, actions.NewMemoryStore(), ServiceConfig{Logger: logger})
	router := setupTestRouter(svc)

	// Liveness is unconditional.
	w := doJSON(t, router, "GET", "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}

	// Before warmup: readyz gates and guarded routes reject.
	w = doJSON(t, router, "GET", "/readyz", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before warmup = %d, want 503", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("readyz 503 must set Retry-After")
	}
	w = doJSON(t, router, "GET", "/v1/assistant/tools", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("guarded route before warmup = %d, want 503", w.Code)
	}
	if decodeError(t, w).Code != "SERVICE_WARMING_UP" {
		t.Fatalf("body = %s", w.Body.String())
	}

	if err := svc.Warmup(context.Background()); err != nil {
		t.Fatalf("warmup: %v", err)
	}

	w = doJSON(t, router, "GET", "/readyz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("readyz after warmup = %d", w.Code)
	}
	w = doJSON(t, router, "GET", "/v1/assistant/tools", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("guarded route after warmup = %d", w.Code)
	}
}
