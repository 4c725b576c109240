package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"sensor-agent/agent"
	"sensor-agent/config"
	apperrors "sensor-agent/errors"
	"sensor-agent/team"
	"sensor-agent/web/format"
	"sensor-agent/web/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func testHandler(t *testing.T) (*ChatHandler, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		WorkspaceDir:     filepath.Join(t.TempDir(), "workspaces"),
		ArtifactDir:      filepath.Join(t.TempDir(), "artifacts"),
		ReportDir:        filepath.Join(t.TempDir(), "report"),
		DatasetCacheSize: 4,
		MaxTurns:         20,
	}
	a, err := agent.New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("agent.New() error = %v", err)
	}
	return NewChatHandler(a, nil, cfg, zap.NewNop()), cfg
}

func requestWithSession(t *testing.T, handler gin.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Set("sessionID", uuid.New())
	handler(c)
	return w
}

func multipartUpload(t *testing.T, field string, names map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range names {
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUploadStoresDatasetsInOrder(t *testing.T) {
	h, _ := testHandler(t)
	body, contentType := multipartUpload(t, "datasets", map[string]string{
		"readings.csv": "temperature_one\n20\n",
	})
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)

	w := requestWithSession(t, h.Upload, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Files []string `json:"files"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Files) != 1 || resp.Files[0] != "data1.csv" {
		t.Errorf("files = %v, want [data1.csv]", resp.Files)
	}
}

func TestUploadRejectsUnknownExtension(t *testing.T) {
	h, _ := testHandler(t)
	body, contentType := multipartUpload(t, "datasets", map[string]string{
		"malware.exe": "nope",
	})
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)

	w := requestWithSession(t, h.Upload, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestUploadClearsPreviousDatasets(t *testing.T) {
	h, cfg := testHandler(t)
	sessionID := uuid.New()
	dir := filepath.Join(cfg.WorkspaceDir, sessionID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(dir, "data1.csv")
	if err := os.WriteFile(stale, []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	keep := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(keep, []byte("keep\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	body, contentType := multipartUpload(t, "datasets", map[string]string{
		"new.tsv": "temperature_one\n21\n",
	})
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Set("sessionID", sessionID)
	h.Upload(c)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	if _, err := os.Stat(filepath.Join(dir, "data1.tsv")); err != nil {
		t.Errorf("new dataset missing: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("old dataset should have been cleared, stat err = %v", err)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("non-dataset file must survive a re-upload: %v", err)
	}
}

func TestReportBeforeGeneration(t *testing.T) {
	h, _ := testHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/report", nil)
	w := requestWithSession(t, h.Report, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHistoryWithoutStore(t *testing.T) {
	h, _ := testHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	w := requestWithSession(t, h.History, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Messages []any `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
}

func TestSessionsWithoutStore(t *testing.T) {
	h, _ := testHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	w := requestWithSession(t, h.Sessions, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Sessions []types.Session `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Sessions == nil {
		t.Error("sessions should decode to an empty list, not null")
	}
}

func TestPersistMessageMirrorsTranscript(t *testing.T) {
	h, _ := testHandler(t)
	ctx := context.Background()
	sessionID := uuid.New()

	h.persistMessage(ctx, sessionID, "user", "what is the mean temperature?")
	h.persistMessage(ctx, sessionID, "assistant", "code_developer: The mean is 21.4.")

	sctx := h.sessionContext(ctx, sessionID)
	want := []string{
		"user: what is the mean temperature?",
		"assistant: code_developer: The mean is 21.4.",
	}
	if len(sctx.Messages) != len(want) {
		t.Fatalf("Messages = %v, want %v", sctx.Messages, want)
	}
	for i := range want {
		if sctx.Messages[i] != want[i] {
			t.Errorf("Messages[%d] = %q, want %q", i, sctx.Messages[i], want[i])
		}
	}
}

func TestStreamSpeakerLabeling(t *testing.T) {
	tests := []struct {
		name string
		ev   team.Event
		want string
	}{
		{"developer_turn", team.Event{Source: team.DeveloperName, Content: "plan"}, team.DeveloperName},
		{"executor_turn", team.Event{Source: team.ExecutorName, Content: "exitcode: 0"}, team.ExecutorName},
		{"stop_marker", team.Event{Stop: true, StopReason: "Text 'TERMINATE' mentioned"}, "system"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := format.Line(tt.ev)
			data := StreamData{Type: "message", Speaker: format.SpeakerLabel(line), Content: line}
			if data.Speaker != tt.want {
				t.Errorf("Speaker = %q, want %q", data.Speaker, tt.want)
			}
			payload, err := json.Marshal(data)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Contains(payload, []byte(`"speaker":"`+tt.want+`"`)) {
				t.Errorf("payload %s missing speaker field", payload)
			}
		})
	}
}

func TestUserFacingError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"no_dataset", apperrors.WrapError(apperrors.ErrNoDataset, "nothing uploaded"), "no dataset"},
		{"parse", apperrors.WrapError(apperrors.ErrDatasetParse, "bad csv"), "could not be parsed"},
		{"invalid_input", apperrors.WrapError(apperrors.ErrInvalidInput, "no columns"), "sensor columns"},
		{"sandbox_start", apperrors.WrapError(apperrors.ErrSandboxStart, "no python"), "could not be started"},
		{"other", os.ErrPermission, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := userFacingError(tt.err)
			if !bytes.Contains([]byte(got), []byte(tt.want)) {
				t.Errorf("userFacingError() = %q, want substring %q", got, tt.want)
			}
		})
	}
}
