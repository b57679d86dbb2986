// Package orchestrator runs the capture → upload → analyze → chat flow for a session.
package orchestrator

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/ayurscan/backend/internal/model/chat"
	"github.com/ayurscan/backend/internal/model/report"
	"github.com/ayurscan/backend/internal/render"
	chatservice "github.com/ayurscan/backend/internal/service/chat"
	"github.com/ayurscan/backend/internal/service/events"
)

// primingTemplate is prefixed to the serialized report when a chat is initialized.
const primingTemplate = "Hey gemini , please remember the upcoming object as it is my personal report and i will ask u queries\n    about that "

// Uploader stores an encoded image and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, image string) (string, error)
}

// Analyzer turns a hosted image URL into a report.
type Analyzer interface {
	Analyze(ctx context.Context, imageURL string) (*report.Report, error)
}

// ChatBackend answers the priming message and subsequent chat turns.
type ChatBackend interface {
	Prime(ctx context.Context, sessionID, prompt string) (chat.Content, error)
	Reply(ctx context.Context, sessionID, message string) (chat.Content, error)
}

// forgetter is implemented by chat backends that keep per-session history.
type forgetter interface {
	Forget(sessionID string)
}

// Service coordinates the external collaborators for each session.
type Service struct {
	store    *chatservice.Service
	uploader Uploader
	analyzer Analyzer
	chat     ChatBackend
	broker   *events.Broker
	logger   *zap.Logger
}

// NewService wires the orchestrator. broker and logger may be nil.
func NewService(store *chatservice.Service, uploader Uploader, analyzer Analyzer, chatBackend ChatBackend, broker *events.Broker, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		uploader: uploader,
		analyzer: analyzer,
		chat:     chatBackend,
		broker:   broker,
		logger:   logger,
	}
}

// PrimingPrompt builds the chat initialization message for a report.
func PrimingPrompt(r *report.Report) string {
	return primingTemplate + r.Serialized()
}

// StartCapture reveals the live camera view.
func (s *Service) StartCapture(ctx context.Context, sessionID string) (chat.State, error) {
	if err := s.store.SetCamera(ctx, sessionID, true); err != nil {
		return chat.State{}, err
	}
	return s.emit(ctx, sessionID, events.TypeCamera), nil
}

// DeleteSession drops the session and any conversation the chat backend keeps for it.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	if f, ok := s.chat.(forgetter); ok {
		f.Forget(sessionID)
	}
	return nil
}

// CaptureFrame takes the still produced by the camera and, when there is one,
// hides the camera and runs upload, analysis and chat initialization. The
// boolean result is false when no frame was available; nothing changes then.
func (s *Service) CaptureFrame(ctx context.Context, sessionID, frame string) (chat.State, bool, error) {
	image, ok := NormalizeFrame(frame)
	if !ok {
		state, err := s.store.Snapshot(ctx, sessionID)
		return state, false, err
	}

	release, err := s.store.AcquireFlow(ctx, sessionID)
	if err != nil {
		return chat.State{}, false, err
	}
	defer release()

	if err := s.store.SetCamera(ctx, sessionID, false); err != nil {
		return chat.State{}, false, err
	}
	_ = s.store.SetError(ctx, sessionID, "", "")
	s.emit(ctx, sessionID, events.TypeCamera)

	flowErr := s.runFlow(ctx, sessionID, image)

	if err := s.store.SetLoading(ctx, sessionID, false, chat.StageIdle); err != nil {
		return chat.State{}, true, err
	}
	state := s.emit(ctx, sessionID, events.TypeLoading)
	return state, true, flowErr
}

func (s *Service) runFlow(ctx context.Context, sessionID, image string) error {
	url, err := s.UploadImage(ctx, sessionID, image)
	if err != nil {
		return s.fail(ctx, sessionID, err)
	}
	if _, err := s.RequestAnalysis(ctx, sessionID, url); err != nil {
		return s.fail(ctx, sessionID, err)
	}
	return nil
}

// UploadImage sends the image to the host and returns its secure URL.
func (s *Service) UploadImage(ctx context.Context, sessionID, image string) (string, error) {
	s.setLoading(ctx, sessionID, chat.StageUpload)

	url, err := s.uploader.Upload(ctx, image)
	if err != nil {
		return "", stageErr(chat.StageUpload, err)
	}
	if err := s.store.SetImageURL(ctx, sessionID, url); err != nil {
		return "", err
	}

	s.logger.Info("frame uploaded", zap.String("session", sessionID), zap.String("url", url))
	return url, nil
}

// RequestAnalysis asks for the report of the hosted image, stores it and
// initializes the chat with it.
func (s *Service) RequestAnalysis(ctx context.Context, sessionID, imageURL string) (*report.Report, error) {
	s.setLoading(ctx, sessionID, chat.StageAnalysis)

	r, err := s.analyzer.Analyze(ctx, imageURL)
	if err != nil {
		return nil, stageErr(chat.StageAnalysis, err)
	}
	if err := s.store.SetReport(ctx, sessionID, r); err != nil {
		return nil, err
	}
	s.emit(ctx, sessionID, events.TypeReport)

	if err := s.InitChat(ctx, sessionID, r); err != nil {
		return r, err
	}
	return r, nil
}

// InitChat primes the chat backend with the report and seeds the transcript
// with its single reply.
func (s *Service) InitChat(ctx context.Context, sessionID string, r *report.Report) error {
	s.setLoading(ctx, sessionID, chat.StageChat)

	reply, err := s.chat.Prime(ctx, sessionID, PrimingPrompt(r))
	if err != nil {
		return stageErr(chat.StageChat, err)
	}

	if err := s.store.ResetTranscript(ctx, sessionID, chat.Message{
		Role:    chat.RoleAI,
		Content: reply,
	}); err != nil {
		return err
	}
	s.emit(ctx, sessionID, events.TypeTranscript)
	return nil
}

// SendChatMessage relays one user message. Blank input is ignored.
func (s *Service) SendChatMessage(ctx context.Context, sessionID, text string) (chat.State, error) {
	if strings.TrimSpace(text) == "" {
		return s.store.Snapshot(ctx, sessionID)
	}

	release, err := s.store.AcquireFlow(ctx, sessionID)
	if err != nil {
		return chat.State{}, err
	}
	defer release()

	if err := s.store.SaveMessage(ctx, chat.Message{
		SessionID: sessionID,
		Role:      chat.RoleUser,
		Content:   chat.TextContent(text),
	}); err != nil {
		return chat.State{}, err
	}
	_ = s.store.SetError(ctx, sessionID, "", "")
	s.emit(ctx, sessionID, events.TypeTranscript)

	reply, err := s.chat.Reply(ctx, sessionID, text)
	if err != nil {
		err = s.fail(ctx, sessionID, stageErr(chat.StageChat, err))
		state, _ := s.store.Snapshot(ctx, sessionID)
		return state, err
	}

	if err := s.store.SaveMessage(ctx, chat.Message{
		SessionID: sessionID,
		Role:      chat.RoleAI,
		Content:   chat.TextContent(render.FormatReply(reply)),
	}); err != nil {
		return chat.State{}, err
	}
	return s.emit(ctx, sessionID, events.TypeTranscript), nil
}

func (s *Service) setLoading(ctx context.Context, sessionID string, stage chat.Stage) {
	if err := s.store.SetLoading(ctx, sessionID, true, stage); err != nil {
		s.logger.Warn("failed to mark session loading", zap.String("session", sessionID), zap.Error(err))
		return
	}
	s.emit(ctx, sessionID, events.TypeLoading)
}

// fail records a stage error on the session and returns it unchanged.
func (s *Service) fail(ctx context.Context, sessionID string, err error) error {
	var se *StageError
	if !errors.As(err, &se) {
		return err
	}
	s.logger.Error("session flow failed",
		zap.String("session", sessionID),
		zap.String("stage", string(se.Stage)),
		zap.Error(se.Err),
	)
	if setErr := s.store.SetError(ctx, sessionID, se.Stage, se.Error()); setErr == nil {
		s.emit(ctx, sessionID, events.TypeError)
	}
	return err
}

func (s *Service) emit(ctx context.Context, sessionID string, eventType events.Type) chat.State {
	state, err := s.store.Snapshot(ctx, sessionID)
	if err != nil {
		return chat.State{}
	}
	if s.broker != nil {
		s.broker.Publish(events.Event{Type: eventType, SessionID: sessionID, State: state})
	}
	return state
}
