package ai

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatModel struct {
	mu      sync.Mutex
	inputs  [][]*schema.Message
	replies []string
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return schema.AssistantMessage(reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func TestPrimeAndReplyKeepHistory(t *testing.T) {
	fake := &fakeChatModel{replies: []string{"Noted your report.", "Eat warm food."}}
	svc, err := NewService(context.Background(), fake, nil)
	require.NoError(t, err)
	ctx := context.Background()

	primed, err := svc.Prime(ctx, "s1", `remember {"disease":"x"}`)
	require.NoError(t, err)
	assert.Equal(t, "Noted your report.", primed.Text)

	reply, err := svc.Reply(ctx, "s1", "what should I eat?")
	require.NoError(t, err)
	assert.Equal(t, "Eat warm food.", reply.Text)

	require.Len(t, fake.inputs, 2)
	second := fake.inputs[1]
	// system, primed user, primed assistant, new user
	require.Len(t, second, 4)
	assert.Equal(t, schema.System, second[0].Role)
	assert.Equal(t, `remember {"disease":"x"}`, second[1].Content)
	assert.Equal(t, "Noted your report.", second[2].Content)
	assert.Equal(t, "what should I eat?", second[3].Content)
}

func TestPrimeResetsHistory(t *testing.T) {
	fake := &fakeChatModel{replies: []string{"ok"}}
	svc, err := NewService(context.Background(), fake, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.Prime(ctx, "s1", "first report")
	require.NoError(t, err)
	_, err = svc.Prime(ctx, "s1", "second report")
	require.NoError(t, err)

	last := fake.inputs[len(fake.inputs)-1]
	require.Len(t, last, 2)
	assert.Equal(t, "second report", last[1].Content)
}

func TestReportSurvivesHistoryTrimming(t *testing.T) {
	fake := &fakeChatModel{replies: []string{"ok"}}
	svc, err := NewService(context.Background(), fake, nil)
	require.NoError(t, err)
	ctx := context.Background()

	primer := `remember {"disease":"Eczema"}`
	_, err = svc.Prime(ctx, "s1", primer)
	require.NoError(t, err)

	for i := 0; i < maxHistoryTurns+5; i++ {
		_, err = svc.Reply(ctx, "s1", fmt.Sprintf("question %d", i))
		require.NoError(t, err)
	}

	last := fake.inputs[len(fake.inputs)-1]
	// system, priming pair, trimmed turns, new user message
	require.Len(t, last, 1+2+maxHistoryTurns*2+1)
	assert.Equal(t, primer, last[1].Content)
	assert.Equal(t, "ok", last[2].Content)
	assert.Equal(t, "question 4", last[3].Content)
	assert.Equal(t, fmt.Sprintf("question %d", maxHistoryTurns+4), last[len(last)-1].Content)
}

func TestForgetDropsHistory(t *testing.T) {
	fake := &fakeChatModel{replies: []string{"ok"}}
	svc, err := NewService(context.Background(), fake, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.Prime(ctx, "s1", "report")
	require.NoError(t, err)
	svc.Forget("s1")
	_, err = svc.Reply(ctx, "s1", "hello")
	require.NoError(t, err)

	last := fake.inputs[len(fake.inputs)-1]
	require.Len(t, last, 2)
	assert.Equal(t, "hello", last[1].Content)
}

func TestContentFromText(t *testing.T) {
	structured := contentFromText("```json\n[{\"Diet\":\"warm\"}]\n```")
	require.True(t, structured.IsList)
	assert.Equal(t, "Diet", structured.Records[0][0].Key)

	plain := contentFromText("[not json")
	assert.False(t, plain.IsList)
	assert.Equal(t, "[not json", plain.Text)
}

func TestNewServiceRequiresModel(t *testing.T) {
	_, err := NewService(context.Background(), nil, nil)
	assert.Error(t, err)
}
