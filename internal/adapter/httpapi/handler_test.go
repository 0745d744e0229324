package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docqa/internal/adapter/httpapi"
	"docqa/internal/domain"
	"docqa/internal/pipeline"
	"docqa/internal/usecase"
)

type MockIngestUsecase struct {
	mock.Mock
}

func (m *MockIngestUsecase) Ingest(ctx context.Context, tenantID uuid.UUID, filename string, content []byte) (*domain.Document, error) {
	args := m.Called(ctx, tenantID, filename, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockIngestUsecase) Remove(ctx context.Context, tenantID, documentID uuid.UUID) error {
	return m.Called(ctx, tenantID, documentID).Error(0)
}

func (m *MockIngestUsecase) ListDocuments(ctx context.Context, tenantID uuid.UUID) ([]domain.Document, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Document), args.Error(1)
}

func (m *MockIngestUsecase) GetDocument(ctx context.Context, tenantID, documentID uuid.UUID) (*domain.Document, error) {
	args := m.Called(ctx, tenantID, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

type MockChatUsecase struct {
	mock.Mock
}

func (m *MockChatUsecase) Ask(ctx context.Context, tenantID uuid.UUID, sessionID *uuid.UUID, question string, documentIDs []uuid.UUID) (*usecase.ChatResult, error) {
	args := m.Called(ctx, tenantID, sessionID, question, documentIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.ChatResult), args.Error(1)
}

func (m *MockChatUsecase) AskStream(ctx context.Context, tenantID uuid.UUID, sessionID *uuid.UUID, question string, documentIDs []uuid.UUID) (uuid.UUID, <-chan pipeline.StreamEvent, error) {
	args := m.Called(ctx, tenantID, sessionID, question, documentIDs)
	var events <-chan pipeline.StreamEvent
	if args.Get(1) != nil {
		events = args.Get(1).(<-chan pipeline.StreamEvent)
	}
	return args.Get(0).(uuid.UUID), events, args.Error(2)
}

func (m *MockChatUsecase) CreateSession(ctx context.Context, tenantID uuid.UUID, title string, documentIDs []uuid.UUID) (*domain.ChatSession, error) {
	args := m.Called(ctx, tenantID, title, documentIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ChatSession), args.Error(1)
}

func (m *MockChatUsecase) GetSession(ctx context.Context, tenantID, sessionID uuid.UUID) (*domain.ChatSession, []domain.ChatMessage, error) {
	args := m.Called(ctx, tenantID, sessionID)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*domain.ChatSession), args.Get(1).([]domain.ChatMessage), args.Error(2)
}

func (m *MockChatUsecase) ListSessions(ctx context.Context, tenantID uuid.UUID) ([]domain.ChatSession, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ChatSession), args.Error(1)
}

func (m *MockChatUsecase) DeleteSession(ctx context.Context, tenantID, sessionID uuid.UUID) error {
	return m.Called(ctx, tenantID, sessionID).Error(0)
}

type MockSearchUsecase struct {
	mock.Mock
}

func (m *MockSearchUsecase) Search(ctx context.Context, tenantID uuid.UUID, query string, topK int, threshold float64, documentIDs []uuid.UUID) ([]usecase.SearchResult, error) {
	args := m.Called(ctx, tenantID, query, topK, threshold, documentIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]usecase.SearchResult), args.Error(1)
}

type handlerFixture struct {
	e        *echo.Echo
	ingest   *MockIngestUsecase
	chat     *MockChatUsecase
	search   *MockSearchUsecase
	tenantID uuid.UUID
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	ingest := new(MockIngestUsecase)
	chat := new(MockChatUsecase)
	searchUC := new(MockSearchUsecase)
	h := httpapi.NewHandler(ingest, chat, searchUC, slog.New(slog.DiscardHandler))

	e := echo.New()
	h.Register(e)

	return &handlerFixture{e: e, ingest: ingest, chat: chat, search: searchUC, tenantID: uuid.New()}
}

func (fx *handlerFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	fx.e.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func TestTenantHeader(t *testing.T) {
	fx := newHandlerFixture(t)

	t.Run("Missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
		rec := fx.do(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
		req.Header.Set("X-Tenant-ID", "not-a-uuid")
		rec := fx.do(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUploadDocument(t *testing.T) {
	t.Run("Successful upload", func(t *testing.T) {
		fx := newHandlerFixture(t)
		doc := &domain.Document{
			ID:               uuid.New(),
			TenantID:         fx.tenantID,
			OriginalFilename: "report.txt",
			FileType:         domain.DocumentTypeText,
			Status:           domain.DocumentStatusCompleted,
			ChunkCount:       3,
			VectorsIndexed:   true,
			CreatedAt:        time.Now(),
		}
		fx.ingest.On("Ingest", mock.Anything, fx.tenantID, "report.txt", []byte("file content")).
			Return(doc, nil)

		body, contentType := multipartBody(t, "report.txt", "file content")
		req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
		req.Header.Set("X-Tenant-ID", fx.tenantID.String())
		req.Header.Set(echo.HeaderContentType, contentType)
		rec := fx.do(req)

		require.Equal(t, http.StatusCreated, rec.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "completed", resp["status"])
		assert.Equal(t, "report.txt", resp["original_filename"])
	})

	t.Run("Failed ingestion returns 422 with the document", func(t *testing.T) {
		fx := newHandlerFixture(t)
		doc := &domain.Document{
			ID:           uuid.New(),
			Status:       domain.DocumentStatusFailed,
			ErrorMessage: "extraction failed",
		}
		fx.ingest.On("Ingest", mock.Anything, fx.tenantID, mock.Anything, mock.Anything).
			Return(doc, assert.AnError)

		body, contentType := multipartBody(t, "broken.pdf", "junk")
		req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
		req.Header.Set("X-Tenant-ID", fx.tenantID.String())
		req.Header.Set(echo.HeaderContentType, contentType)
		rec := fx.do(req)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("Unsupported format returns 400", func(t *testing.T) {
		fx := newHandlerFixture(t)
		fx.ingest.On("Ingest", mock.Anything, fx.tenantID, mock.Anything, mock.Anything).
			Return(nil, domain.ErrUnsupportedFormat)

		body, contentType := multipartBody(t, "image.png", "pixels")
		req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
		req.Header.Set("X-Tenant-ID", fx.tenantID.String())
		req.Header.Set(echo.HeaderContentType, contentType)
		rec := fx.do(req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Missing file field", func(t *testing.T) {
		fx := newHandlerFixture(t)
		req := httptest.NewRequest(http.MethodPost, "/v1/documents", strings.NewReader("{}"))
		req.Header.Set("X-Tenant-ID", fx.tenantID.String())
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := fx.do(req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetDocument_NotFound(t *testing.T) {
	fx := newHandlerFixture(t)
	docID := uuid.New()
	fx.ingest.On("GetDocument", mock.Anything, fx.tenantID, docID).
		Return(nil, domain.ErrNotFound)

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/"+docID.String(), nil)
	req.Header.Set("X-Tenant-ID", fx.tenantID.String())
	rec := fx.do(req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteDocument(t *testing.T) {
	fx := newHandlerFixture(t)
	docID := uuid.New()
	fx.ingest.On("Remove", mock.Anything, fx.tenantID, docID).Return(nil)

	req := httptest.NewRequest(http.MethodDelete, "/v1/documents/"+docID.String(), nil)
	req.Header.Set("X-Tenant-ID", fx.tenantID.String())
	rec := fx.do(req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestChat(t *testing.T) {
	t.Run("Answers a question", func(t *testing.T) {
		fx := newHandlerFixture(t)
		sessionID := uuid.New()
		fx.chat.On("Ask", mock.Anything, fx.tenantID, (*uuid.UUID)(nil), "what is the warranty period", []uuid.UUID{}).
			Return(&usecase.ChatResult{
				SessionID: sessionID,
				Answer:    "24 months [Source 1]",
				Sources:   []domain.SourceRef{{Index: 1}},
				LatencyMS: 1234,
			}, nil)

		payload := `{"question": "what is the warranty period"}`
		req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(payload))
		req.Header.Set("X-Tenant-ID", fx.tenantID.String())
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := fx.do(req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, sessionID.String(), resp["session_id"])
		assert.Equal(t, "24 months [Source 1]", resp["answer"])
	})

	t.Run("Empty question rejected", func(t *testing.T) {
		fx := newHandlerFixture(t)
		req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"question": ""}`))
		req.Header.Set("X-Tenant-ID", fx.tenantID.String())
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := fx.do(req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		fx.chat.AssertNotCalled(t, "Ask", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Invalid session id rejected", func(t *testing.T) {
		fx := newHandlerFixture(t)
		payload := `{"question": "q", "session_id": "garbage"}`
		req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(payload))
		req.Header.Set("X-Tenant-ID", fx.tenantID.String())
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := fx.do(req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Streamed answer", func(t *testing.T) {
		fx := newHandlerFixture(t)
		sessionID := uuid.New()

		events := make(chan pipeline.StreamEvent, 4)
		events <- pipeline.StreamEvent{Kind: pipeline.StreamEventText, Text: "24 "}
		events <- pipeline.StreamEvent{Kind: pipeline.StreamEventText, Text: "months"}
		events <- pipeline.StreamEvent{Kind: pipeline.StreamEventSources, Sources: []domain.SourceRef{{Index: 1}}}
		events <- pipeline.StreamEvent{Kind: pipeline.StreamEventDone}
		close(events)

		fx.chat.On("AskStream", mock.Anything, fx.tenantID, (*uuid.UUID)(nil), "warranty?", []uuid.UUID{}).
			Return(sessionID, (<-chan pipeline.StreamEvent)(events), nil)

		payload := `{"question": "warranty?", "stream": true}`
		req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(payload))
		req.Header.Set("X-Tenant-ID", fx.tenantID.String())
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := fx.do(req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/event-stream")
		assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

		body := rec.Body.String()
		lines := strings.Split(strings.TrimSpace(body), "\n\n")
		require.GreaterOrEqual(t, len(lines), 5)
		assert.Contains(t, lines[0], `"type":"session"`)
		assert.Contains(t, lines[0], sessionID.String())
		assert.Contains(t, lines[1], `"type":"text"`)
		assert.Contains(t, body, `"type":"sources"`)
		assert.Contains(t, strings.TrimSpace(lines[len(lines)-1]), `"type":"done"`)
	})
}

func TestSearch(t *testing.T) {
	t.Run("Returns fused results", func(t *testing.T) {
		fx := newHandlerFixture(t)
		docID := uuid.New()
		fx.search.On("Search", mock.Anything, fx.tenantID, "warranty period", 5, 0.0, []uuid.UUID{}).
			Return([]usecase.SearchResult{
				{
					DocumentID:   docID,
					DocumentName: "contract.pdf",
					ChunkID:      docID.String() + "_1",
					ChunkIndex:   1,
					Content:      "The warranty period lasts twenty four months.",
					Score:        0.032,
				},
			}, nil)

		body := `{"query":"warranty period","top_k":5}`
		req := httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader(body))
		req.Header.Set("X-Tenant-ID", fx.tenantID.String())
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := fx.do(req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Results []map[string]any `json:"results"`
			Query   string           `json:"query"`
			Total   int              `json:"total"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "warranty period", resp.Query)
		assert.Equal(t, 1, resp.Total)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, "contract.pdf", resp.Results[0]["document_name"])
		assert.Equal(t, docID.String()+"_1", resp.Results[0]["chunk_id"])
	})

	t.Run("Empty query rejected", func(t *testing.T) {
		fx := newHandlerFixture(t)

		req := httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader(`{"query":""}`))
		req.Header.Set("X-Tenant-ID", fx.tenantID.String())
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := fx.do(req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		fx.search.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Invalid document id rejected", func(t *testing.T) {
		fx := newHandlerFixture(t)

		body := `{"query":"warranty","document_ids":["nope"]}`
		req := httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader(body))
		req.Header.Set("X-Tenant-ID", fx.tenantID.String())
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := fx.do(req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSessions(t *testing.T) {
	t.Run("Create", func(t *testing.T) {
		fx := newHandlerFixture(t)
		session := &domain.ChatSession{
			ID:        uuid.New(),
			TenantID:  fx.tenantID,
			Title:     "contract questions",
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		fx.chat.On("CreateSession", mock.Anything, fx.tenantID, "contract questions", []uuid.UUID{}).
			Return(session, nil)

		payload := `{"title": "contract questions"}`
		req := httptest.NewRequest(http.MethodPost, "/v1/sessions", strings.NewReader(payload))
		req.Header.Set("X-Tenant-ID", fx.tenantID.String())
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := fx.do(req)

		require.Equal(t, http.StatusCreated, rec.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, session.ID.String(), resp["id"])
	})

	t.Run("Get with messages", func(t *testing.T) {
		fx := newHandlerFixture(t)
		session := &domain.ChatSession{ID: uuid.New(), TenantID: fx.tenantID, Title: "t"}
		messages := []domain.ChatMessage{
			{ID: uuid.New(), Role: domain.RoleUser, Content: "q"},
			{ID: uuid.New(), Role: domain.RoleAssistant, Content: "a", LatencyMS: 10},
		}
		fx.chat.On("GetSession", mock.Anything, fx.tenantID, session.ID).
			Return(session, messages, nil)

		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/"+session.ID.String(), nil)
		req.Header.Set("X-Tenant-ID", fx.tenantID.String())
		rec := fx.do(req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Messages []map[string]any `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Messages, 2)
	})

	t.Run("Delete not found", func(t *testing.T) {
		fx := newHandlerFixture(t)
		sessionID := uuid.New()
		fx.chat.On("DeleteSession", mock.Anything, fx.tenantID, sessionID).
			Return(domain.ErrNotFound)

		req := httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+sessionID.String(), nil)
		req.Header.Set("X-Tenant-ID", fx.tenantID.String())
		rec := fx.do(req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
