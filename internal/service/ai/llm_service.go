package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/ayurscan/backend/internal/model/chat"
)

// maxHistoryTurns bounds the exchanges kept after the priming exchange.
const maxHistoryTurns = 10

// systemPrompt frames the model as an assistant answering questions about the
// user's Ayurvedic report.
const systemPrompt = `You are an Ayurvedic wellness assistant. The user shares a health report produced from a photo
(a possible condition, a Vata/Pitta/Kapha dosha analysis and observations) and then asks questions about it.
Answer using the report, keep advice general and suggest consulting a practitioner for medical decisions.
When listing several recommendations you may reply with a JSON array of objects mapping a short title to its advice.`

// Service answers report chats with a chat model through an eino chain.
type Service struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	logger *zap.Logger

	mu            sync.Mutex
	conversations map[string]*conversation
}

// conversation keeps the priming exchange apart from the trimmed turns so the
// report stays in every request.
type conversation struct {
	primer []*schema.Message
	turns  []*schema.Message
}

func (c *conversation) messages() []*schema.Message {
	out := make([]*schema.Message, 0, len(c.primer)+len(c.turns))
	out = append(out, c.primer...)
	return append(out, c.turns...)
}

// NewService compiles the prompt → model chain.
func NewService(ctx context.Context, chatModel model.BaseChatModel, logger *zap.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chain:         runnable,
		logger:        logger,
		conversations: make(map[string]*conversation),
	}, nil
}

// Prime starts a new conversation for the session with the report message.
func (s *Service) Prime(ctx context.Context, sessionID, promptText string) (chat.Content, error) {
	s.Forget(sessionID)

	reply, err := s.invoke(ctx, nil, promptText)
	if err != nil {
		return chat.Content{}, err
	}

	s.mu.Lock()
	s.conversations[sessionID] = &conversation{
		primer: []*schema.Message{schema.UserMessage(promptText), schema.AssistantMessage(reply, nil)},
	}
	s.mu.Unlock()

	s.logger.Info("primed chat", zap.String("session", sessionID), zap.Int("length", len(reply)))
	return contentFromText(reply), nil
}

// Reply continues the session's conversation.
func (s *Service) Reply(ctx context.Context, sessionID, message string) (chat.Content, error) {
	s.mu.Lock()
	var history []*schema.Message
	if conv, ok := s.conversations[sessionID]; ok {
		history = conv.messages()
	}
	s.mu.Unlock()

	reply, err := s.invoke(ctx, history, message)
	if err != nil {
		return chat.Content{}, err
	}

	s.mu.Lock()
	conv, ok := s.conversations[sessionID]
	if !ok {
		conv = &conversation{}
		s.conversations[sessionID] = conv
	}
	conv.turns = append(conv.turns, schema.UserMessage(message), schema.AssistantMessage(reply, nil))
	if limit := maxHistoryTurns * 2; len(conv.turns) > limit {
		conv.turns = append([]*schema.Message(nil), conv.turns[len(conv.turns)-limit:]...)
	}
	s.mu.Unlock()

	s.logger.Info("generated chat reply", zap.String("session", sessionID), zap.Int("length", len(reply)))
	return contentFromText(reply), nil
}

// Forget drops the conversation kept for a session.
func (s *Service) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.conversations, sessionID)
	s.mu.Unlock()
}

func (s *Service) invoke(ctx context.Context, history []*schema.Message, query string) (string, error) {
	response, err := s.chain.Invoke(ctx, map[string]any{
		"system":  systemPrompt,
		"history": history,
		"query":   query,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	return response.Content, nil
}

// contentFromText treats a reply that is a JSON array of objects as structured
// content, and anything else as text.
func contentFromText(text string) chat.Content {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	trimmed = strings.TrimSpace(trimmed)

	if strings.HasPrefix(trimmed, "[") {
		var content chat.Content
		if err := json.Unmarshal([]byte(trimmed), &content); err == nil && content.IsList {
			return content
		}
	}
	return chat.TextContent(text)
}
