package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"sensor-agent/agent"
	"sensor-agent/config"
	"sensor-agent/database"
	apperrors "sensor-agent/errors"
	"sensor-agent/report"
	"sensor-agent/team"
	"sensor-agent/web/format"
	"sensor-agent/web/middleware"
	"sensor-agent/web/types"
	"sensor-agent/workspace"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChatHandler serves the chat page, dataset uploads, query streaming, and
// report downloads. Per-session state lives in an in-memory registry and is
// mirrored to the database best-effort.
type ChatHandler struct {
	agent  *agent.Agent
	store  *database.PostgresStore
	cfg    *config.Config
	logger *zap.Logger

	mu       sync.Mutex
	contexts map[uuid.UUID]*types.SessionContext
}

type ChatRequest struct {
	Message string `json:"message" form:"message"`
}

// StreamData is one SSE payload of the query stream. Speaker carries the
// transcript speaker for message frames so the client can style turns.
type StreamData struct {
	Type    string `json:"type"`
	Speaker string `json:"speaker,omitempty"`
	Content string `json:"content,omitempty"`
}

func NewChatHandler(a *agent.Agent, store *database.PostgresStore, cfg *config.Config, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		agent:    a,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		contexts: make(map[uuid.UUID]*types.SessionContext),
	}
}

// sessionContext returns the registry entry for the session, creating it and
// hydrating it from the database on first access.
func (h *ChatHandler) sessionContext(ctx context.Context, sessionID uuid.UUID) *types.SessionContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sctx, ok := h.contexts[sessionID]; ok {
		return sctx
	}
	sctx := &types.SessionContext{}
	if h.store != nil {
		if err := h.store.LoadAgentState(ctx, sessionID, sctx); err != nil {
			h.logger.Warn("Could not load agent state",
				zap.String("session_id", sessionID.String()),
				zap.Error(err))
		}
		messages, err := h.store.GetMessagesBySession(ctx, sessionID)
		if err != nil {
			h.logger.Warn("Could not hydrate transcript",
				zap.String("session_id", sessionID.String()),
				zap.Error(err))
		}
		for _, msg := range messages {
			sctx.Messages = append(sctx.Messages, msg.Role+": "+msg.Content)
		}
	}
	h.contexts[sessionID] = sctx
	return sctx
}

func (h *ChatHandler) sessionDir(sessionID uuid.UUID) (string, error) {
	dir := filepath.Join(h.cfg.WorkspaceDir, sessionID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session workspace: %w", err)
	}
	return dir, nil
}

func (h *ChatHandler) Index(c *gin.Context) {
	sessionID, ok := middleware.SessionID(c)
	if !ok {
		c.String(http.StatusInternalServerError, "No session.")
		return
	}
	if _, err := h.sessionDir(sessionID); err != nil {
		h.logger.Error("Failed to create workspace directory", zap.Error(err))
		c.String(http.StatusInternalServerError, "Could not create workspace.")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexPage)
}

// History replays the stored transcript for the session.
func (h *ChatHandler) History(c *gin.Context) {
	sessionID, _ := middleware.SessionID(c)
	if h.store == nil {
		c.JSON(http.StatusOK, gin.H{"messages": []types.ChatMessage{}})
		return
	}
	messages, err := h.store.GetMessagesBySession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Warn("Could not fetch session history", zap.Error(err))
		messages = nil
	}
	// Assistant turns are stored as markdown; render them for replay.
	for i := range messages {
		if messages[i].Role != "user" {
			messages[i].Content = format.RenderHTML(messages[i].Content)
		}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// Upload stores the posted files as the session's datasets. Previous datasets
// are cleared first; files are renamed data1, data2, ... in upload order.
func (h *ChatHandler) Upload(c *gin.Context) {
	sessionID, _ := middleware.SessionID(c)
	dir, err := h.sessionDir(sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not create workspace"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid upload"})
		return
	}
	files := form.File["datasets"]
	if len(files) == 0 {
		files = form.File["file"]
	}
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No files in upload"})
		return
	}

	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f.Filename))
		if !workspace.DatasetExtensions[ext] {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("Unsupported file type %q", ext),
			})
			return
		}
	}

	h.clearDatasets(dir)

	var stored []string
	for i, f := range files {
		ext := strings.ToLower(filepath.Ext(f.Filename))
		name := fmt.Sprintf("data%d%s", i+1, ext)
		if err := c.SaveUploadedFile(f, filepath.Join(dir, name)); err != nil {
			h.logger.Error("Failed to store uploaded dataset",
				zap.String("file", f.Filename),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not store upload"})
			return
		}
		stored = append(stored, name)
	}

	h.logger.Info("Datasets uploaded",
		zap.String("session_id", sessionID.String()),
		zap.Strings("files", stored))
	c.JSON(http.StatusOK, gin.H{"files": stored})
}

// clearDatasets removes prior data* files from the session workspace. The
// persistent artifact lives elsewhere and is never touched.
func (h *ChatHandler) clearDatasets(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !workspace.IsDatasetFile(entry.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			h.logger.Warn("Could not remove previous dataset",
				zap.String("file", entry.Name()),
				zap.Error(err))
		}
	}
}

// Query answers one chat message, streaming progress as SSE. Report requests
// short-circuit to the deterministic generator; everything else goes through
// the developer/executor loop.
func (h *ChatHandler) Query(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBind(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message cannot be empty"})
		return
	}
	sessionID, _ := middleware.SessionID(c)
	dir, err := h.sessionDir(sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not create workspace"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	h.writeSSE(c, StreamData{Type: "connection_established"})

	ctx := c.Request.Context()
	h.persistMessage(ctx, sessionID, "user", req.Message)

	if agent.WantsReport(req.Message) {
		h.serveReport(c, sessionID, req.Message, dir)
		return
	}
	h.serveOrchestration(c, sessionID, req.Message, dir)
}

func (h *ChatHandler) serveReport(c *gin.Context, sessionID uuid.UUID, prompt, dir string) {
	ctx := c.Request.Context()
	_, columns, err := h.agent.GenerateReport(ctx, prompt, dir)
	if err != nil {
		content := "I could not generate that report: " + userFacingError(err)
		h.writeSSE(c, StreamData{Type: "message", Content: content})
		h.writeSSE(c, StreamData{Type: "done"})
		h.persistMessage(ctx, sessionID, "assistant", content)
		return
	}

	content := format.ReportLink(columns)
	h.writeSSE(c, StreamData{Type: "message", Content: content})
	h.writeSSE(c, StreamData{Type: "done"})
	h.persistMessage(ctx, sessionID, "assistant", content)
}

func (h *ChatHandler) serveOrchestration(c *gin.Context, sessionID uuid.UUID, prompt, dir string) {
	ctx := c.Request.Context()
	sctx := h.sessionContext(ctx, sessionID)

	result, err := h.agent.RunQuery(ctx, prompt, dir, sctx, func(ev team.Event) {
		line := format.Line(ev)
		h.writeSSE(c, StreamData{Type: "message", Speaker: format.SpeakerLabel(line), Content: line})
	})
	if err != nil {
		h.logger.Error("Query run failed",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		h.writeSSE(c, StreamData{Type: "message", Content: "The analysis run failed: " + userFacingError(err)})
		h.writeSSE(c, StreamData{Type: "done"})
		return
	}

	if !result.Artifact.Empty() && result.GeneratedFile != "" {
		h.writeSSE(c, StreamData{Type: "artifact", Content: result.Artifact.Name})
	}
	h.writeSSE(c, StreamData{Type: "done"})

	// Only the final developer message stays in the durable transcript.
	if result.LastDeveloperMessage != "" {
		h.persistMessage(ctx, sessionID, "assistant",
			team.DeveloperName+": "+result.LastDeveloperMessage)
	}
	if !result.Artifact.Empty() && result.GeneratedFile != "" {
		h.persistMessage(ctx, sessionID, "assistant", format.ArtifactLink(result.Artifact.Name))
	}
	h.saveAgentState(sessionID, sctx)
	h.maybeTitleSession(sessionID, prompt)
}

func (h *ChatHandler) writeSSE(c *gin.Context, data StreamData) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
	if flusher, ok := c.Writer.(http.Flusher); ok {
		flusher.Flush()
	}
}

// persistMessage appends a turn to the in-memory transcript mirror and writes
// it through to the database when one is configured.
func (h *ChatHandler) persistMessage(ctx context.Context, sessionID uuid.UUID, role, content string) {
	sctx := h.sessionContext(ctx, sessionID)
	sctx.Messages = append(sctx.Messages, role+": "+content)

	if h.store == nil {
		return
	}
	msg := types.ChatMessage{
		ID:        uuid.New().String(),
		SessionID: sessionID.String(),
		Role:      role,
		Content:   content,
	}
	if err := h.store.CreateMessage(ctx, msg); err != nil {
		h.logger.Warn("Could not persist chat message",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
	}
}

func (h *ChatHandler) saveAgentState(sessionID uuid.UUID, sctx *types.SessionContext) {
	if h.store == nil {
		return
	}
	if err := h.store.SaveAgentState(context.Background(), sessionID, sctx); err != nil {
		h.logger.Warn("Could not save agent state",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
	}
}

// maybeTitleSession generates an LLM title for sessions still carrying the
// default date-based title, off the request path.
func (h *ChatHandler) maybeTitleSession(sessionID uuid.UUID, prompt string) {
	if h.store == nil {
		return
	}
	go func() {
		ctx := context.Background()
		sess, err := h.store.GetSession(ctx, sessionID)
		if err != nil || sess == nil || !strings.HasPrefix(sess.Title, "Chat from ") {
			return
		}
		title := h.agent.GenerateTitle(ctx, prompt)
		if err := h.store.UpdateSessionTitle(ctx, sessionID, title); err != nil {
			h.logger.Warn("Could not update session title", zap.Error(err))
		}
	}()
}

// Sessions lists the active sessions, most recently active first.
func (h *ChatHandler) Sessions(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusOK, gin.H{"sessions": []types.Session{}})
		return
	}
	sessions, err := h.store.GetSessions(c.Request.Context())
	if err != nil {
		h.logger.Warn("Could not list sessions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not list sessions"})
		return
	}
	if sessions == nil {
		sessions = []types.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// Report serves the most recently generated summary PDF.
func (h *ChatHandler) Report(c *gin.Context) {
	path := filepath.Join(h.cfg.ReportDir, report.ReportFilename)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No report has been generated yet"})
		return
	}
	c.FileAttachment(path, report.ReportFilename)
}

func userFacingError(err error) string {
	switch {
	case apperrors.IsNoDataset(err):
		return "no dataset has been uploaded that matches the request."
	case apperrors.IsDatasetParse(err):
		return "the dataset could not be parsed."
	case errors.Is(err, apperrors.ErrInvalidInput):
		return "I did not recognize any sensor columns in the request."
	case apperrors.IsSandboxStart(err):
		return "the analysis environment could not be started."
	default:
		return "an internal error occurred."
	}
}
