package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wuwenbin0122/kbagent/internal/models"
	"github.com/wuwenbin0122/kbagent/services"
)

var ErrEmptyQuestion = errors.New("session: question is required")

// KnowledgeLoader builds a knowledge base from a documents folder.
type KnowledgeLoader interface {
	Load(ctx context.Context, dir string) (*models.KnowledgeBase, error)
}

// AnswerGenerator answers one question against a knowledge base text.
type AnswerGenerator interface {
	Answer(ctx context.Context, question, knowledgeBase string) services.Answer
}

// Session owns one user's cached knowledge base and transcript.
// Every operation holds mu, so a session handles one interaction at a time.
type Session struct {
	ID        string
	CreatedAt time.Time

	lastSeen atomic.Int64

	mu        sync.Mutex
	dir       string
	loader    KnowledgeLoader
	generator AnswerGenerator
	kb        *models.KnowledgeBase
	history   *Conversation
}

func newSession(id, dir string, loader KnowledgeLoader, generator AnswerGenerator, now time.Time) *Session {
	s := &Session{
		ID:        id,
		CreatedAt: now,
		dir:       dir,
		loader:    loader,
		generator: generator,
		history:   NewConversation(),
	}
	s.touch(now)
	return s
}

// KnowledgeBase returns the cached knowledge base, aggregating on first access.
func (s *Session) KnowledgeBase(ctx context.Context) (*models.KnowledgeBase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLoadedLocked(ctx)
}

// Cached returns the knowledge base without triggering a load; nil when not loaded.
func (s *Session) Cached() *models.KnowledgeBase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kb
}

// Ask answers question from the cached knowledge base and records the turn.
// A failed remote call still produces a turn; only a missing knowledge base is an error.
func (s *Session) Ask(ctx context.Context, question string) (models.ConversationTurn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return models.ConversationTurn{}, ErrEmptyQuestion
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kb, err := s.ensureLoadedLocked(ctx)
	if err != nil {
		return models.ConversationTurn{}, err
	}

	answer := s.generator.Answer(ctx, question, kb.Text)
	turn := models.ConversationTurn{
		Question: question,
		Answer:   answer.Text,
		Failed:   answer.Failed(),
		AskedAt:  time.Now().UTC(),
	}
	s.history.Append(turn)

	return turn, nil
}

// Reload discards the cached knowledge base and aggregates again.
// On failure the session is left without a knowledge base.
func (s *Session) Reload(ctx context.Context) (*models.KnowledgeBase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.kb = nil
	return s.ensureLoadedLocked(ctx)
}

func (s *Session) Turns() []models.ConversationTurn {
	return s.history.All()
}

func (s *Session) TurnCount() int {
	return s.history.Len()
}

func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Clear()
}

func (s *Session) ensureLoadedLocked(ctx context.Context) (*models.KnowledgeBase, error) {
	if s.kb != nil {
		return s.kb, nil
	}

	kb, err := s.loader.Load(ctx, s.dir)
	if err != nil {
		return nil, err
	}

	s.kb = kb
	return kb, nil
}

// lastSeen is kept outside mu so that pruning never waits on a running question.
func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}
