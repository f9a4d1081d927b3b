package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/claudio/backend/internal/model/chat"
)

var (
	ErrPersonaRequired = errors.New("persona id is required")
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidRole     = errors.New("invalid turn role")
)

// Service encapsulates conversation state management. Nothing is persisted:
// conversations live as long as the process.
type Service struct {
	mu            sync.RWMutex
	sessions      map[string]chat.Session
	conversations map[string]*chat.Conversation
	now           func() time.Time
}

// NewService bootstraps the in-memory chat service.
func NewService() *Service {
	return &Service{
		sessions:      make(map[string]chat.Session),
		conversations: make(map[string]*chat.Conversation),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession provisions an anonymous session bound to a persona.
func (s *Service) CreateSession(_ context.Context, personaID string) (chat.Session, error) {
	personaID = strings.TrimSpace(personaID)
	if personaID == "" {
		return chat.Session{}, ErrPersonaRequired
	}

	session := chat.Session{
		ID:        uuid.NewString(),
		PersonaID: personaID,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.conversations[session.ID] = chat.NewConversation()
	s.mu.Unlock()

	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// AppendTurn records a new turn at the end of the session's conversation.
func (s *Service) AppendTurn(_ context.Context, sessionID string, role chat.Role, text string) (chat.Turn, error) {
	if !role.Valid() {
		return chat.Turn{}, ErrInvalidRole
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[sessionID]
	if !ok {
		return chat.Turn{}, ErrSessionNotFound
	}

	turn := chat.Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		CreatedAt: s.now(),
	}
	conv.Append(turn)
	return turn, nil
}

// LoadTranscript returns every turn of the session in order.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return conv.Turns(), nil
}

// ClearTranscript drops the session's turns but keeps the session itself.
func (s *Service) ClearTranscript(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	conv.Reset()
	return nil
}
