package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ayurscan/backend/internal/model/chat"
	"github.com/ayurscan/backend/internal/model/report"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrBusy            = errors.New("session flow already in progress")
)

type entry struct {
	session  chat.Session
	messages []chat.Message
	flow     sync.Mutex
}

// Service encapsulates capture and conversation state for anonymous sessions.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewService bootstraps the in-memory session store.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]*entry),
	}
}

// CreateSession provisions a fresh session with the camera hidden.
func (s *Service) CreateSession(_ context.Context) (chat.Session, error) {
	session := chat.Session{
		ID:        uuid.NewString(),
		Stage:     chat.StageIdle,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = &entry{
		session:  session,
		messages: make([]chat.Message, 0, 16),
	}
	s.mu.Unlock()

	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return copySession(e.session), nil
}

// Snapshot returns the session together with a copy of its transcript.
func (s *Service) Snapshot(_ context.Context, sessionID string) (chat.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		return chat.State{}, ErrSessionNotFound
	}
	return chat.State{
		Session:    copySession(e.session),
		Transcript: copyMessages(e.messages),
	}, nil
}

// DeleteSession drops the session and its transcript.
func (s *Service) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

// AcquireFlow reserves the session for a single flow. The returned release
// function must be called once the flow is done.
func (s *Service) AcquireFlow(_ context.Context, sessionID string) (func(), error) {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !e.flow.TryLock() {
		return nil, ErrBusy
	}
	return e.flow.Unlock, nil
}

// SetCamera toggles the live camera view.
func (s *Service) SetCamera(_ context.Context, sessionID string, show bool) error {
	return s.update(sessionID, func(e *entry) {
		e.session.ShowCamera = show
	})
}

// SetLoading marks the session busy in the given stage, or idle when loading is false.
func (s *Service) SetLoading(_ context.Context, sessionID string, loading bool, stage chat.Stage) error {
	return s.update(sessionID, func(e *entry) {
		e.session.Loading = loading
		if loading {
			e.session.Stage = stage
		} else {
			e.session.Stage = chat.StageIdle
		}
	})
}

// SetImageURL records the hosted URL of the last uploaded frame.
func (s *Service) SetImageURL(_ context.Context, sessionID, url string) error {
	return s.update(sessionID, func(e *entry) {
		e.session.ImageURL = url
	})
}

// SetReport replaces the current report.
func (s *Service) SetReport(_ context.Context, sessionID string, r *report.Report) error {
	return s.update(sessionID, func(e *entry) {
		e.session.Report = r.Clone()
	})
}

// SetError records a failure for the given stage. An empty message clears it.
func (s *Service) SetError(_ context.Context, sessionID string, stage chat.Stage, message string) error {
	return s.update(sessionID, func(e *entry) {
		e.session.LastError = message
		if message == "" {
			e.session.ErrorStage = ""
		} else {
			e.session.ErrorStage = stage
		}
	})
}

// ResetTranscript starts a new transcript seeded with the given messages.
func (s *Service) ResetTranscript(_ context.Context, sessionID string, seed ...chat.Message) error {
	return s.update(sessionID, func(e *entry) {
		messages := make([]chat.Message, 0, 16)
		for _, m := range seed {
			messages = append(messages, stamp(sessionID, m))
		}
		e.messages = messages
	})
}

// SaveMessage appends a message to the session history.
func (s *Service) SaveMessage(_ context.Context, message chat.Message) error {
	if message.SessionID == "" {
		return ErrSessionNotFound
	}
	return s.update(message.SessionID, func(e *entry) {
		e.messages = append(e.messages, stamp(message.SessionID, message))
	})
}

// LoadTranscript returns stored messages for the provided session.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return copyMessages(e.messages), nil
}

func (s *Service) update(sessionID string, fn func(e *entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	fn(e)
	return nil
}

func stamp(sessionID string, message chat.Message) chat.Message {
	message.ID = uuid.NewString()
	message.SessionID = sessionID
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	return message
}

func copySession(session chat.Session) chat.Session {
	session.Report = session.Report.Clone()
	return session
}

func copyMessages(messages []chat.Message) []chat.Message {
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied
}
