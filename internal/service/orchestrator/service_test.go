package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayurscan/backend/internal/client/analysis"
	"github.com/ayurscan/backend/internal/client/cloudinary"
	"github.com/ayurscan/backend/internal/model/chat"
	"github.com/ayurscan/backend/internal/model/report"
	chatservice "github.com/ayurscan/backend/internal/service/chat"
	"github.com/ayurscan/backend/internal/service/events"
)

const sampleReport = `{"disease":"Eczema","dosha_analysis":{"vata":"High","pitta":"Low","kapha":"Normal"},"observations":["dry patches"]}`

type fakeUploader struct {
	url   string
	err   error
	calls int
}

func (f *fakeUploader) Upload(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.url, f.err
}

type fakeAnalyzer struct {
	report *report.Report
	err    error
	urls   []string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, url string) (*report.Report, error) {
	f.urls = append(f.urls, url)
	return f.report, f.err
}

type fakeChat struct {
	mu       sync.Mutex
	primes   []string
	messages []string
	primeOut chat.Content
	replyOut chat.Content
	err      error
}

func (f *fakeChat) Prime(_ context.Context, _ string, prompt string) (chat.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.primes = append(f.primes, prompt)
	return f.primeOut, f.err
}

func (f *fakeChat) Reply(_ context.Context, _ string, message string) (chat.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return f.replyOut, f.err
}

func mustReport(t *testing.T) *report.Report {
	t.Helper()
	r, err := report.Parse([]byte(sampleReport))
	require.NoError(t, err)
	return r
}

func newSession(t *testing.T, store *chatservice.Service) string {
	t.Helper()
	session, err := store.CreateSession(context.Background())
	require.NoError(t, err)
	return session.ID
}

func TestStartCaptureShowsCamera(t *testing.T) {
	store := chatservice.NewService()
	svc := NewService(store, &fakeUploader{}, &fakeAnalyzer{}, &fakeChat{}, nil, nil)
	id := newSession(t, store)

	state, err := svc.StartCapture(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, state.ShowCamera)
	assert.False(t, state.Loading)
}

func TestCaptureFrameWithoutFrameIsNoop(t *testing.T) {
	store := chatservice.NewService()
	uploader := &fakeUploader{url: "u"}
	svc := NewService(store, uploader, &fakeAnalyzer{}, &fakeChat{}, nil, nil)
	id := newSession(t, store)
	_, err := svc.StartCapture(context.Background(), id)
	require.NoError(t, err)

	for _, frame := range []string{"", "   ", "data:,"} {
		state, captured, err := svc.CaptureFrame(context.Background(), id, frame)
		require.NoError(t, err)
		assert.False(t, captured)
		assert.True(t, state.ShowCamera, "camera should stay visible for %q", frame)
	}
	assert.Zero(t, uploader.calls)
}

func TestCaptureFrameRunsFullFlow(t *testing.T) {
	store := chatservice.NewService()
	r := mustReport(t)
	analyzer := &fakeAnalyzer{report: r}
	chatBackend := &fakeChat{primeOut: chat.TextContent("I will remember your report.")}
	broker := events.NewBroker(nil)
	svc := NewService(store, &fakeUploader{url: "https://res.example.com/a.jpg"}, analyzer, chatBackend, broker, nil)
	id := newSession(t, store)

	sub, cancel := broker.Subscribe(id)
	defer cancel()

	state, captured, err := svc.CaptureFrame(context.Background(), id, "data:image/jpeg;base64,AAAA")
	require.NoError(t, err)
	require.True(t, captured)

	assert.False(t, state.ShowCamera)
	assert.False(t, state.Loading)
	assert.Equal(t, chat.StageIdle, state.Stage)
	assert.Equal(t, "https://res.example.com/a.jpg", state.ImageURL)
	assert.Equal(t, []string{"https://res.example.com/a.jpg"}, analyzer.urls)

	require.NotNil(t, state.Report)
	assert.Equal(t, "Eczema", state.Report.Disease)

	require.Len(t, chatBackend.primes, 1)
	assert.Equal(t, PrimingPrompt(r), chatBackend.primes[0])
	assert.True(t, strings.HasSuffix(chatBackend.primes[0], sampleReport))

	require.Len(t, state.Transcript, 1)
	assert.Equal(t, chat.RoleAI, state.Transcript[0].Role)
	assert.Equal(t, "I will remember your report.", state.Transcript[0].Content.Text)

	var seen []events.Type
	for len(sub) > 0 {
		seen = append(seen, (<-sub).Type)
	}
	assert.Contains(t, seen, events.TypeCamera)
	assert.Contains(t, seen, events.TypeReport)
	assert.Contains(t, seen, events.TypeTranscript)
}

func TestCaptureFrameUploadFailureHidesCameraAndReportsStage(t *testing.T) {
	store := chatservice.NewService()
	analyzer := &fakeAnalyzer{}
	svc := NewService(store, &fakeUploader{err: cloudinary.ErrNoSecureURL}, analyzer, &fakeChat{}, nil, nil)
	id := newSession(t, store)
	_, err := svc.StartCapture(context.Background(), id)
	require.NoError(t, err)

	state, captured, err := svc.CaptureFrame(context.Background(), id, "AAAA")
	require.True(t, captured)
	require.Error(t, err)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, chat.StageUpload, se.Stage)
	assert.ErrorIs(t, err, cloudinary.ErrNoSecureURL)

	assert.False(t, state.ShowCamera)
	assert.False(t, state.Loading)
	assert.Equal(t, chat.StageUpload, state.ErrorStage)
	assert.NotEmpty(t, state.LastError)
	assert.Empty(t, analyzer.urls)
}

func TestCaptureFrameChatInitFailureKeepsReport(t *testing.T) {
	store := chatservice.NewService()
	svc := NewService(store, &fakeUploader{url: "u"}, &fakeAnalyzer{report: mustReport(t)}, &fakeChat{err: errors.New("chat down")}, nil, nil)
	id := newSession(t, store)

	state, _, err := svc.CaptureFrame(context.Background(), id, "AAAA")
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, chat.StageChat, se.Stage)
	require.NotNil(t, state.Report)
	assert.Empty(t, state.Transcript)
}

func TestCaptureFrameClearsPreviousError(t *testing.T) {
	store := chatservice.NewService()
	uploader := &fakeUploader{err: errors.New("offline")}
	svc := NewService(store, uploader, &fakeAnalyzer{report: mustReport(t)}, &fakeChat{primeOut: chat.TextContent("ok")}, nil, nil)
	id := newSession(t, store)

	_, _, err := svc.CaptureFrame(context.Background(), id, "AAAA")
	require.Error(t, err)

	uploader.err = nil
	uploader.url = "u"
	state, _, err := svc.CaptureFrame(context.Background(), id, "AAAA")
	require.NoError(t, err)
	assert.Empty(t, state.LastError)
}

func TestSendChatMessageIgnoresBlankInput(t *testing.T) {
	store := chatservice.NewService()
	chatBackend := &fakeChat{}
	svc := NewService(store, &fakeUploader{}, &fakeAnalyzer{}, chatBackend, nil, nil)
	id := newSession(t, store)

	for _, text := range []string{"", "   ", "\n\t"} {
		state, err := svc.SendChatMessage(context.Background(), id, text)
		require.NoError(t, err)
		assert.Empty(t, state.Transcript)
	}
	assert.Empty(t, chatBackend.messages)
}

func TestSendChatMessageFormatsStructuredReply(t *testing.T) {
	store := chatservice.NewService()
	var reply chat.Content
	require.NoError(t, json.Unmarshal([]byte(`[{"a":"1","b":"2"}]`), &reply))
	chatBackend := &fakeChat{replyOut: reply}
	svc := NewService(store, &fakeUploader{}, &fakeAnalyzer{}, chatBackend, nil, nil)
	id := newSession(t, store)

	state, err := svc.SendChatMessage(context.Background(), id, "what now?")
	require.NoError(t, err)

	require.Len(t, state.Transcript, 2)
	assert.Equal(t, chat.RoleUser, state.Transcript[0].Role)
	assert.Equal(t, "what now?", state.Transcript[0].Content.Text)
	assert.Equal(t, chat.RoleAI, state.Transcript[1].Role)
	assert.Equal(t, "🔹 a:\n   1\n\n🔹 b:\n   2", state.Transcript[1].Content.Text)
	assert.Equal(t, []string{"what now?"}, chatBackend.messages)
}

func TestSendChatMessagePlainReplyUnchanged(t *testing.T) {
	store := chatservice.NewService()
	svc := NewService(store, &fakeUploader{}, &fakeAnalyzer{}, &fakeChat{replyOut: chat.TextContent("Rest and hydrate.")}, nil, nil)
	id := newSession(t, store)

	state, err := svc.SendChatMessage(context.Background(), id, "tips?")
	require.NoError(t, err)
	require.Len(t, state.Transcript, 2)
	assert.Equal(t, "Rest and hydrate.", state.Transcript[1].Content.Text)
}

func TestSendChatMessageFailureKeepsUserMessage(t *testing.T) {
	store := chatservice.NewService()
	svc := NewService(store, &fakeUploader{}, &fakeAnalyzer{}, &fakeChat{err: errors.New("boom")}, nil, nil)
	id := newSession(t, store)

	state, err := svc.SendChatMessage(context.Background(), id, "hello")
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, chat.StageChat, se.Stage)
	require.Len(t, state.Transcript, 1)
	assert.Equal(t, chat.RoleUser, state.Transcript[0].Role)
	assert.Equal(t, chat.StageChat, state.ErrorStage)
}

func TestSendChatMessageUnknownSession(t *testing.T) {
	svc := NewService(chatservice.NewService(), &fakeUploader{}, &fakeAnalyzer{}, &fakeChat{}, nil, nil)
	_, err := svc.SendChatMessage(context.Background(), "missing", "hi")
	assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)
}

func TestSendChatMessageBusyDuringFlow(t *testing.T) {
	store := chatservice.NewService()
	svc := NewService(store, &fakeUploader{}, &fakeAnalyzer{}, &fakeChat{}, nil, nil)
	id := newSession(t, store)

	release, err := store.AcquireFlow(context.Background(), id)
	require.NoError(t, err)
	defer release()

	_, err = svc.SendChatMessage(context.Background(), id, "hi")
	assert.ErrorIs(t, err, chatservice.ErrBusy)
}

// The real clients against fake remote services: the analysis body must carry
// the uploaded secure_url and the chat priming must embed the returned report.
func TestFlowAgainstRemoteServices(t *testing.T) {
	cloud := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"secure_url":"https://res.example.com/frame.jpg"}`))
	}))
	defer cloud.Close()

	var (
		mu          sync.Mutex
		analyzeBody string
		chatBodies  []string
	)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		switch r.URL.Path {
		case "/analyze":
			analyzeBody = string(body)
			_, _ = w.Write([]byte(`{"report":` + sampleReport + `}`))
		case "/chat":
			chatBodies = append(chatBodies, string(body))
			_, _ = w.Write([]byte(`{"reply":"Got it."}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer backend.Close()

	store := chatservice.NewService()
	uploader := cloudinary.New(cloudinary.Config{BaseURL: cloud.URL, CloudName: "c", UploadPreset: "p"}, cloud.Client(), nil)
	remote := analysis.New(backend.URL, backend.Client(), nil)
	svc := NewService(store, uploader, remote, remote, nil, nil)
	id := newSession(t, store)

	state, captured, err := svc.CaptureFrame(context.Background(), id, "data:image/jpeg;base64,AAAA")
	require.NoError(t, err)
	require.True(t, captured)

	assert.JSONEq(t, `{"Type":"jpg","Url":"https://res.example.com/frame.jpg"}`, analyzeBody)

	expected := mustReport(t)
	assert.Equal(t, expected.Disease, state.Report.Disease)
	assert.Equal(t, expected.DoshaAnalysis, state.Report.DoshaAnalysis)
	assert.Equal(t, expected.Observations, state.Report.Observations)

	require.Len(t, chatBodies, 1)
	var primed analysis.ChatRequest
	require.NoError(t, json.Unmarshal([]byte(chatBodies[0]), &primed))
	assert.Contains(t, primed.Message, sampleReport)

	require.Len(t, state.Transcript, 1)
	assert.Equal(t, "Got it.", state.Transcript[0].Content.Text)
}

type forgettingChat struct {
	fakeChat
	forgotten []string
}

func (f *forgettingChat) Forget(sessionID string) {
	f.forgotten = append(f.forgotten, sessionID)
}

func TestDeleteSessionForgetsConversation(t *testing.T) {
	store := chatservice.NewService()
	chatBackend := &forgettingChat{}
	svc := NewService(store, &fakeUploader{}, &fakeAnalyzer{}, chatBackend, nil, nil)
	id := newSession(t, store)

	require.NoError(t, svc.DeleteSession(context.Background(), id))
	assert.Equal(t, []string{id}, chatBackend.forgotten)

	_, err := store.GetSession(context.Background(), id)
	assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)

	err = svc.DeleteSession(context.Background(), id)
	assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)
	assert.Len(t, chatBackend.forgotten, 1)
}
