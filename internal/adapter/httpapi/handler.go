package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"docqa/internal/domain"
	"docqa/internal/pipeline"
	"docqa/internal/usecase"
)

const tenantHeader = "X-Tenant-ID"

// Handler exposes the document QA service over HTTP.
type Handler struct {
	ingest usecase.IngestDocumentUsecase
	chat   usecase.ChatUsecase
	search usecase.SearchUsecase
	logger *slog.Logger
}

// NewHandler wires the HTTP surface.
func NewHandler(ingest usecase.IngestDocumentUsecase, chat usecase.ChatUsecase, search usecase.SearchUsecase, logger *slog.Logger) *Handler {
	return &Handler{ingest: ingest, chat: chat, search: search, logger: logger}
}

// Register mounts all routes on the echo instance.
func (h *Handler) Register(e *echo.Echo) {
	v1 := e.Group("/v1")

	v1.POST("/documents", h.UploadDocument)
	v1.GET("/documents", h.ListDocuments)
	v1.GET("/documents/:id", h.GetDocument)
	v1.DELETE("/documents/:id", h.DeleteDocument)

	v1.POST("/chat", h.Chat)
	v1.POST("/search", h.Search)

	v1.POST("/sessions", h.CreateSession)
	v1.GET("/sessions", h.ListSessions)
	v1.GET("/sessions/:id", h.GetSession)
	v1.DELETE("/sessions/:id", h.DeleteSession)
}

func tenantID(c echo.Context) (uuid.UUID, error) {
	raw := c.Request().Header.Get(tenantHeader)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("missing %s header", tenantHeader)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s header", tenantHeader)
	}
	return id, nil
}

func (h *Handler) errorResponse(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unsupported file format"})
	case errors.Is(err, usecase.ErrFileTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "file too large"})
	default:
		h.logger.Error("request_failed",
			slog.String("path", c.Path()),
			slog.String("error", err.Error()))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

type documentResponse struct {
	ID               string `json:"id"`
	OriginalFilename string `json:"original_filename"`
	FileType         string `json:"file_type"`
	FileSize         int64  `json:"file_size"`
	Status           string `json:"status"`
	ErrorMessage     string `json:"error_message,omitempty"`
	PageCount        int    `json:"page_count"`
	ChunkCount       int    `json:"chunk_count"`
	VectorsIndexed   bool   `json:"vectors_indexed"`
	CreatedAt        string `json:"created_at"`
}

func toDocumentResponse(doc *domain.Document) documentResponse {
	return documentResponse{
		ID:               doc.ID.String(),
		OriginalFilename: doc.OriginalFilename,
		FileType:         string(doc.FileType),
		FileSize:         doc.FileSize,
		Status:           string(doc.Status),
		ErrorMessage:     doc.ErrorMessage,
		PageCount:        doc.PageCount,
		ChunkCount:       doc.ChunkCount,
		VectorsIndexed:   doc.VectorsIndexed,
		CreatedAt:        doc.CreatedAt.Format(time.RFC3339),
	}
}

// UploadDocument ingests a multipart file upload.
// (POST /v1/documents)
func (h *Handler) UploadDocument(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing file field"})
	}
	if fileHeader.Size > usecase.MaxUploadBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "file too large"})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return h.errorResponse(c, err)
	}
	defer func() { _ = src.Close() }()

	content, err := io.ReadAll(io.LimitReader(src, usecase.MaxUploadBytes+1))
	if err != nil {
		return h.errorResponse(c, err)
	}
	if len(content) > usecase.MaxUploadBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "file too large"})
	}

	doc, err := h.ingest.Ingest(c.Request().Context(), tenant, fileHeader.Filename, content)
	if err != nil && doc == nil {
		return h.errorResponse(c, err)
	}
	if doc == nil {
		return h.errorResponse(c, fmt.Errorf("ingestion returned no document"))
	}

	status := http.StatusCreated
	if doc.Status == domain.DocumentStatusFailed {
		status = http.StatusUnprocessableEntity
	}
	return c.JSON(status, toDocumentResponse(doc))
}

// ListDocuments lists the tenant's documents.
// (GET /v1/documents)
func (h *Handler) ListDocuments(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	docs, err := h.ingest.ListDocuments(c.Request().Context(), tenant)
	if err != nil {
		return h.errorResponse(c, err)
	}

	out := make([]documentResponse, 0, len(docs))
	for i := range docs {
		out = append(out, toDocumentResponse(&docs[i]))
	}
	return c.JSON(http.StatusOK, map[string]any{"documents": out})
}

// GetDocument fetches one document.
// (GET /v1/documents/:id)
func (h *Handler) GetDocument(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid document id"})
	}

	doc, err := h.ingest.GetDocument(c.Request().Context(), tenant, id)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, toDocumentResponse(doc))
}

// DeleteDocument removes a document and its index entries.
// (DELETE /v1/documents/:id)
func (h *Handler) DeleteDocument(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid document id"})
	}

	if err := h.ingest.Remove(c.Request().Context(), tenant, id); err != nil {
		return h.errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type chatRequest struct {
	Question    string   `json:"question"`
	SessionID   *string  `json:"session_id,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

type chatResponse struct {
	SessionID string             `json:"session_id"`
	Answer    string             `json:"answer"`
	Sources   []domain.SourceRef `json:"sources"`
	Revisions int                `json:"revisions"`
	LatencyMS int                `json:"latency_ms"`
	Cached    bool               `json:"cached"`
}

// Chat answers a question, either as one JSON response or as an SSE stream.
// (POST /v1/chat)
func (h *Handler) Chat(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if req.Question == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "question is required"})
	}

	var sessionID *uuid.UUID
	if req.SessionID != nil {
		id, err := uuid.Parse(*req.SessionID)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid session id"})
		}
		sessionID = &id
	}

	documentIDs := make([]uuid.UUID, 0, len(req.DocumentIDs))
	for _, raw := range req.DocumentIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid document id"})
		}
		documentIDs = append(documentIDs, id)
	}

	if req.Stream {
		return h.chatStream(c, tenant, sessionID, req.Question, documentIDs)
	}

	result, err := h.chat.Ask(c.Request().Context(), tenant, sessionID, req.Question, documentIDs)
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, chatResponse{
		SessionID: result.SessionID.String(),
		Answer:    result.Answer,
		Sources:   result.Sources,
		Revisions: result.Revisions,
		LatencyMS: result.LatencyMS,
		Cached:    result.Cached,
	})
}

type streamPayload struct {
	Type      string             `json:"type"`
	Text      string             `json:"text,omitempty"`
	Sources   []domain.SourceRef `json:"sources,omitempty"`
	SessionID string             `json:"session_id,omitempty"`
	Error     string             `json:"error,omitempty"`
}

func (h *Handler) chatStream(c echo.Context, tenant uuid.UUID, sessionID *uuid.UUID, question string, documentIDs []uuid.UUID) error {
	id, events, err := h.chat.AskStream(c.Request().Context(), tenant, sessionID, question, documentIDs)
	if err != nil {
		return h.errorResponse(c, err)
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream; charset=utf-8")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	if err := writeSSE(c, streamPayload{Type: "session", SessionID: id.String()}); err != nil {
		return err
	}

	for ev := range events {
		var payload streamPayload
		switch ev.Kind {
		case pipeline.StreamEventText:
			payload = streamPayload{Type: "text", Text: ev.Text}
		case pipeline.StreamEventSources:
			payload = streamPayload{Type: "sources", Sources: ev.Sources}
		case pipeline.StreamEventDone:
			payload = streamPayload{Type: "done"}
		case pipeline.StreamEventError:
			payload = streamPayload{Type: "error", Error: ev.Err.Error()}
		}
		if err := writeSSE(c, payload); err != nil {
			return err
		}
	}
	return nil
}

func writeSSE(c echo.Context, payload streamPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response().Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}

type searchRequest struct {
	Query       string   `json:"query"`
	TopK        int      `json:"top_k,omitempty"`
	Threshold   float64  `json:"threshold,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

type searchResultResponse struct {
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	ChunkID      string  `json:"chunk_id"`
	Content      string  `json:"content"`
	PageNumber   *int    `json:"page_number,omitempty"`
	Score        float64 `json:"score"`
}

// Search runs a standalone hybrid search without answer generation.
// (POST /v1/search)
func (h *Handler) Search(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if req.Query == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "query is required"})
	}

	documentIDs := make([]uuid.UUID, 0, len(req.DocumentIDs))
	for _, raw := range req.DocumentIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid document id"})
		}
		documentIDs = append(documentIDs, id)
	}

	results, err := h.search.Search(c.Request().Context(), tenant, req.Query, req.TopK, req.Threshold, documentIDs)
	if err != nil {
		return h.errorResponse(c, err)
	}

	out := make([]searchResultResponse, 0, len(results))
	for _, r := range results {
		out = append(out, searchResultResponse{
			DocumentID:   r.DocumentID.String(),
			DocumentName: r.DocumentName,
			ChunkID:      r.ChunkID,
			Content:      r.Content,
			PageNumber:   r.PageNumber,
			Score:        r.Score,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"results": out,
		"query":   req.Query,
		"total":   len(out),
	})
}

type createSessionRequest struct {
	Title       string   `json:"title"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

type sessionResponse struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	DocumentIDs []string `json:"document_ids"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

func toSessionResponse(s *domain.ChatSession) sessionResponse {
	ids := make([]string, 0, len(s.DocumentIDs))
	for _, id := range s.DocumentIDs {
		ids = append(ids, id.String())
	}
	return sessionResponse{
		ID:          s.ID.String(),
		Title:       s.Title,
		DocumentIDs: ids,
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   s.UpdatedAt.Format(time.RFC3339),
	}
}

// CreateSession opens a new conversation thread.
// (POST /v1/sessions)
func (h *Handler) CreateSession(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	documentIDs := make([]uuid.UUID, 0, len(req.DocumentIDs))
	for _, raw := range req.DocumentIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid document id"})
		}
		documentIDs = append(documentIDs, id)
	}

	session, err := h.chat.CreateSession(c.Request().Context(), tenant, req.Title, documentIDs)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, toSessionResponse(session))
}

// ListSessions lists the tenant's sessions.
// (GET /v1/sessions)
func (h *Handler) ListSessions(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	sessions, err := h.chat.ListSessions(c.Request().Context(), tenant)
	if err != nil {
		return h.errorResponse(c, err)
	}
	out := make([]sessionResponse, 0, len(sessions))
	for i := range sessions {
		out = append(out, toSessionResponse(&sessions[i]))
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": out})
}

type messageResponse struct {
	ID        string             `json:"id"`
	Role      string             `json:"role"`
	Content   string             `json:"content"`
	Sources   []domain.SourceRef `json:"sources,omitempty"`
	LatencyMS int                `json:"latency_ms,omitempty"`
	Revisions int                `json:"revisions,omitempty"`
	CreatedAt string             `json:"created_at"`
}

// GetSession fetches a session with its message history.
// (GET /v1/sessions/:id)
func (h *Handler) GetSession(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid session id"})
	}

	session, messages, err := h.chat.GetSession(c.Request().Context(), tenant, id)
	if err != nil {
		return h.errorResponse(c, err)
	}

	msgs := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, messageResponse{
			ID:        m.ID.String(),
			Role:      string(m.Role),
			Content:   m.Content,
			Sources:   m.Sources,
			LatencyMS: m.LatencyMS,
			Revisions: m.Revisions,
			CreatedAt: m.CreatedAt.Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session":  toSessionResponse(session),
		"messages": msgs,
	})
}

// DeleteSession removes a session and its messages.
// (DELETE /v1/sessions/:id)
func (h *Handler) DeleteSession(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid session id"})
	}

	if err := h.chat.DeleteSession(c.Request().Context(), tenant, id); err != nil {
		return h.errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
