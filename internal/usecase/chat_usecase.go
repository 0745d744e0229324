package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"docqa/internal/domain"
	"docqa/internal/pipeline"
)

const (
	answerCacheSize = 256
	answerCacheTTL  = 10 * time.Minute
	sessionTitleMax = 80
)

// ChatResult is the outcome of one answered question.
type ChatResult struct {
	SessionID uuid.UUID
	Answer    string
	Sources   []domain.SourceRef
	Trace     []string
	Revisions int
	LatencyMS int
	Cached    bool
}

type cachedAnswer struct {
	Answer  string
	Sources []domain.SourceRef
}

// ChatUsecase answers questions over a tenant's documents, maintaining
// session history around the pipeline.
type ChatUsecase interface {
	// Ask runs the full pipeline including the revision loop.
	Ask(ctx context.Context, tenantID uuid.UUID, sessionID *uuid.UUID, question string, documentIDs []uuid.UUID) (*ChatResult, error)

	// AskStream runs the single-pass streaming path. The returned session id
	// is valid immediately; events follow on the channel.
	AskStream(ctx context.Context, tenantID uuid.UUID, sessionID *uuid.UUID, question string, documentIDs []uuid.UUID) (uuid.UUID, <-chan pipeline.StreamEvent, error)

	CreateSession(ctx context.Context, tenantID uuid.UUID, title string, documentIDs []uuid.UUID) (*domain.ChatSession, error)
	GetSession(ctx context.Context, tenantID, sessionID uuid.UUID) (*domain.ChatSession, []domain.ChatMessage, error)
	ListSessions(ctx context.Context, tenantID uuid.UUID) ([]domain.ChatSession, error)
	DeleteSession(ctx context.Context, tenantID, sessionID uuid.UUID) error
}

type chatUsecase struct {
	orchestrator *pipeline.Orchestrator
	sessions     domain.SessionRepository
	cache        *expirable.LRU[string, cachedAnswer]
	logger       *slog.Logger
}

// NewChatUsecase wires the chat surface around the pipeline.
func NewChatUsecase(
	orchestrator *pipeline.Orchestrator,
	sessions domain.SessionRepository,
	logger *slog.Logger,
) ChatUsecase {
	return &chatUsecase{
		orchestrator: orchestrator,
		sessions:     sessions,
		cache:        expirable.NewLRU[string, cachedAnswer](answerCacheSize, nil, answerCacheTTL),
		logger:       logger,
	}
}

func (u *chatUsecase) Ask(ctx context.Context, tenantID uuid.UUID, sessionID *uuid.UUID, question string, documentIDs []uuid.UUID) (*ChatResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question must not be empty")
	}

	session, history, err := u.resolveSession(ctx, tenantID, sessionID, question, documentIDs)
	if err != nil {
		return nil, err
	}
	scope := u.scopeFor(session, documentIDs)

	// Only first turns are cacheable; follow-ups depend on history.
	cacheKey := ""
	if len(history) == 0 {
		cacheKey = answerCacheKey(tenantID, scope, question)
		if hit, ok := u.cache.Get(cacheKey); ok {
			u.logger.Info("answer_cache_hit", slog.String("tenant_id", tenantID.String()))
			if err := u.persistTurn(ctx, session.ID, question, hit.Answer, hit.Sources, nil, 0, 0); err != nil {
				return nil, err
			}
			return &ChatResult{
				SessionID: session.ID,
				Answer:    hit.Answer,
				Sources:   hit.Sources,
				Cached:    true,
			}, nil
		}
	}

	pc := pipeline.NewContext(question, tenantID, scope, history)
	result, err := u.orchestrator.Run(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("pipeline failed: %w", err)
	}

	latencyMS := int(result.Latency.Milliseconds())
	if err := u.persistTurn(ctx, session.ID, question, result.Answer, result.Sources, result.Trace, result.Revisions, latencyMS); err != nil {
		return nil, err
	}

	if cacheKey != "" && result.Answer != pipeline.NoInformationAnswer {
		u.cache.Add(cacheKey, cachedAnswer{Answer: result.Answer, Sources: result.Sources})
	}

	return &ChatResult{
		SessionID: session.ID,
		Answer:    result.Answer,
		Sources:   result.Sources,
		Trace:     result.Trace,
		Revisions: result.Revisions,
		LatencyMS: latencyMS,
	}, nil
}

func (u *chatUsecase) AskStream(ctx context.Context, tenantID uuid.UUID, sessionID *uuid.UUID, question string, documentIDs []uuid.UUID) (uuid.UUID, <-chan pipeline.StreamEvent, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return uuid.Nil, nil, fmt.Errorf("question must not be empty")
	}

	session, history, err := u.resolveSession(ctx, tenantID, sessionID, question, documentIDs)
	if err != nil {
		return uuid.Nil, nil, err
	}
	scope := u.scopeFor(session, documentIDs)

	pc := pipeline.NewContext(question, tenantID, scope, history)
	start := time.Now()
	inner := u.orchestrator.Stream(ctx, pc)

	// Relay events and persist the finished turn once the stream completes.
	events := make(chan pipeline.StreamEvent, 4)
	go func() {
		defer close(events)
		completed := false
		for ev := range inner {
			if ev.Kind == pipeline.StreamEventDone {
				completed = true
			}
			select {
			case <-ctx.Done():
				return
			case events <- ev:
			}
		}
		if !completed {
			return
		}
		latencyMS := int(time.Since(start).Milliseconds())
		if err := u.persistTurn(context.WithoutCancel(ctx), session.ID, question, pc.FinalAnswer, pc.FinalSources, pc.Trace, 0, latencyMS); err != nil {
			u.logger.Error("failed_to_persist_streamed_turn",
				slog.String("session_id", session.ID.String()),
				slog.String("error", err.Error()))
		}
	}()

	return session.ID, events, nil
}

func (u *chatUsecase) resolveSession(ctx context.Context, tenantID uuid.UUID, sessionID *uuid.UUID, question string, documentIDs []uuid.UUID) (*domain.ChatSession, []domain.ChatTurn, error) {
	if sessionID != nil {
		session, err := u.sessions.GetSession(ctx, *sessionID)
		if err != nil {
			return nil, nil, err
		}
		if session.TenantID != tenantID {
			return nil, nil, domain.ErrNotFound
		}
		messages, err := u.sessions.ListMessages(ctx, session.ID)
		if err != nil {
			return nil, nil, err
		}
		history := make([]domain.ChatTurn, 0, len(messages))
		for _, m := range messages {
			history = append(history, domain.ChatTurn{Role: m.Role, Content: m.Content})
		}
		return session, history, nil
	}

	session, err := u.CreateSession(ctx, tenantID, sessionTitle(question), documentIDs)
	if err != nil {
		return nil, nil, err
	}
	return session, nil, nil
}

func (u *chatUsecase) scopeFor(session *domain.ChatSession, documentIDs []uuid.UUID) []uuid.UUID {
	if len(documentIDs) > 0 {
		return documentIDs
	}
	return session.DocumentIDs
}

func (u *chatUsecase) persistTurn(ctx context.Context, sessionID uuid.UUID, question, answer string, sources []domain.SourceRef, trace []string, revisions, latencyMS int) error {
	now := time.Now()
	userMsg := &domain.ChatMessage{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      domain.RoleUser,
		Content:   question,
		CreatedAt: now,
	}
	if err := u.sessions.AppendMessage(ctx, userMsg); err != nil {
		return fmt.Errorf("failed to persist user message: %w", err)
	}

	assistantMsg := &domain.ChatMessage{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      domain.RoleAssistant,
		Content:   answer,
		Sources:   sources,
		LatencyMS: latencyMS,
		Trace:     trace,
		Revisions: revisions,
		CreatedAt: now.Add(time.Millisecond),
	}
	if err := u.sessions.AppendMessage(ctx, assistantMsg); err != nil {
		return fmt.Errorf("failed to persist assistant message: %w", err)
	}
	return nil
}

func (u *chatUsecase) CreateSession(ctx context.Context, tenantID uuid.UUID, title string, documentIDs []uuid.UUID) (*domain.ChatSession, error) {
	now := time.Now()
	session := &domain.ChatSession{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Title:       title,
		DocumentIDs: documentIDs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := u.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

func (u *chatUsecase) GetSession(ctx context.Context, tenantID, sessionID uuid.UUID) (*domain.ChatSession, []domain.ChatMessage, error) {
	session, err := u.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session.TenantID != tenantID {
		return nil, nil, domain.ErrNotFound
	}
	messages, err := u.sessions.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return session, messages, nil
}

func (u *chatUsecase) ListSessions(ctx context.Context, tenantID uuid.UUID) ([]domain.ChatSession, error) {
	return u.sessions.ListSessions(ctx, tenantID)
}

func (u *chatUsecase) DeleteSession(ctx context.Context, tenantID, sessionID uuid.UUID) error {
	session, err := u.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.TenantID != tenantID {
		return domain.ErrNotFound
	}
	return u.sessions.DeleteSession(ctx, sessionID)
}

func answerCacheKey(tenantID uuid.UUID, scope []uuid.UUID, question string) string {
	ids := make([]string, len(scope))
	for i, id := range scope {
		ids[i] = id.String()
	}
	sort.Strings(ids)
	return fmt.Sprintf("%s|%s|%s", tenantID, strings.Join(ids, ","), strings.ToLower(question))
}

func sessionTitle(question string) string {
	title := strings.TrimSpace(question)
	if len(title) > sessionTitleMax {
		title = title[:sessionTitleMax]
	}
	return title
}
