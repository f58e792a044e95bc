package assistants_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/assistants"
	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/mocks/mockllms"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/toolchat/pkg/schema"
	"github.com/effective-security/toolchat/registry"
	"github.com/effective-security/toolchat/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type dispatcherFunc func(ctx context.Context, name string, args map[string]any) (string, error)

func (f dispatcherFunc) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	return f(ctx, name, args)
}

func sumDispatcher() assistants.Dispatcher {
	return dispatcherFunc(func(_ context.Context, name string, args map[string]any) (string, error) {
		if name != "addTwoNumbers" {
			return "", errors.Mark(errors.Newf("unknown tool: %s", name), chatmodel.ErrUnknownTool)
		}
		a, _ := args["a"].(float64)
		b, _ := args["b"].(float64)
		return fmt.Sprintf("The sum of %v and %v is %v", a, b, a+b), nil
	})
}

func testSnapshot(t *testing.T) *registry.Snapshot {
	t.Helper()
	snap, err := registry.New(registry.Descriptor{
		Name:        "addTwoNumbers",
		Description: "Add two numbers",
		Parameters: schema.MustFromAny(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []string{"a", "b"},
		}),
	})
	require.NoError(t, err)
	return snap
}

func newMockModel(ctrl *gomock.Controller) *mockllms.MockModel {
	m := mockllms.NewMockModel(ctrl)
	m.EXPECT().GetName().Return("gemini-test").AnyTimes()
	m.EXPECT().GetProviderType().Return(llms.ProviderGoogleAI).AnyTimes()
	return m
}

func textResponse(text string) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: text, StopReason: "STOP"}},
	}
}

func toolResponse(name, args string) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			ToolCalls: []llms.ToolCall{{ID: name, Name: name, Arguments: args}},
		}},
	}
}

func newSession(t *testing.T, sessions store.SessionStore) string {
	t.Helper()
	info, err := sessions.CreateSession(context.Background())
	require.NoError(t, err)
	return info.ID
}

func TestSendMessage_FinalText(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := newMockModel(ctrl)
	sessions := store.NewMemoryStore()
	id := newSession(t, sessions)

	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, messages []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
			require.Len(t, messages, 1)
			assert.Equal(t, llms.RoleHuman, messages[0].Role)
			assert.Equal(t, "Hello", messages[0].Text())
			return textResponse("Hi there!"), nil
		})

	a := assistants.NewAssistant(model, sessions, testSnapshot(t), sumDispatcher())
	assert.Equal(t, "chat", a.Name())

	reply, err := a.SendMessage(context.Background(), id, "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", reply.Reply)
	assert.Empty(t, reply.ToolCalls)
	require.Len(t, reply.History, 2)
	assert.Equal(t, chatmodel.RoleUser, reply.History[0].Role)
	assert.Equal(t, "Hello", reply.History[0].Text())
	assert.Equal(t, chatmodel.RoleModel, reply.History[1].Role)
	assert.Equal(t, "Hi there!", reply.History[1].Text())
}

func TestSendMessage_ToolRound(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := newMockModel(ctrl)
	sessions := store.NewMemoryStore()
	id := newSession(t, sessions)

	var toolsSent []llms.Tool
	gomock.InOrder(
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, messages []llms.Message, opts ...llms.CallOption) (*llms.ContentResponse, error) {
				var co llms.CallOptions
				for _, o := range opts {
					o(&co)
				}
				toolsSent = co.Tools
				return toolResponse("addTwoNumbers", `{"a":2,"b":3}`), nil
			}),
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, messages []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
				require.Len(t, messages, 3)
				assert.Equal(t, llms.RoleAI, messages[1].Role)
				assert.Equal(t, "Calling tool: addTwoNumbers", messages[1].Text())
				assert.Equal(t, llms.RoleHuman, messages[2].Role)
				assert.Equal(t, "Tool result: The sum of 2 and 3 is 5", messages[2].Text())
				return textResponse("The sum is 5."), nil
			}),
	)

	a := assistants.NewAssistant(model, sessions, testSnapshot(t), sumDispatcher())
	reply, err := a.SendMessage(context.Background(), id, "What is 2 + 3?")
	require.NoError(t, err)

	require.Len(t, toolsSent, 1)
	assert.Equal(t, "function", toolsSent[0].Type)
	assert.Equal(t, "addTwoNumbers", toolsSent[0].Function.Name)

	assert.Equal(t, "The sum is 5.", reply.Reply)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "addTwoNumbers", reply.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"a": 2.0, "b": 3.0}, reply.ToolCalls[0].Args)

	require.Len(t, reply.History, 4)
	exp := []struct {
		role chatmodel.Role
		text string
	}{
		{chatmodel.RoleUser, "What is 2 + 3?"},
		{chatmodel.RoleModel, "Calling tool: addTwoNumbers"},
		{chatmodel.RoleUser, "Tool result: The sum of 2 and 3 is 5"},
		{chatmodel.RoleModel, "The sum is 5."},
	}
	for i, e := range exp {
		assert.Equal(t, e.role, reply.History[i].Role, "turn %d", i)
		assert.Equal(t, e.text, reply.History[i].Text(), "turn %d", i)
	}
	require.Len(t, reply.History[1].Parts, 2)
	assert.Equal(t, chatmodel.PartTypeToolCall, reply.History[1].Parts[1].Type)
	require.Len(t, reply.History[2].Parts, 2)
	assert.Equal(t, "The sum of 2 and 3 is 5", reply.History[2].Parts[1].ToolResult.Text)
}

func TestSendMessage_OnlyFirstToolCall(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := newMockModel(ctrl)
	sessions := store.NewMemoryStore()
	id := newSession(t, sessions)

	two := toolResponse("addTwoNumbers", `{"a":1,"b":1}`)
	two.Choices[0].ToolCalls = append(two.Choices[0].ToolCalls, llms.ToolCall{ID: "second", Name: "addTwoNumbers", Arguments: `{"a":5,"b":5}`})
	gomock.InOrder(
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).Return(two, nil),
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).Return(textResponse("2"), nil),
	)

	var calls int
	dispatcher := dispatcherFunc(func(ctx context.Context, name string, args map[string]any) (string, error) {
		calls++
		return sumDispatcher().Invoke(ctx, name, args)
	})

	a := assistants.NewAssistant(model, sessions, testSnapshot(t), dispatcher)
	reply, err := a.SendMessage(context.Background(), id, "1+1")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, 1.0, reply.ToolCalls[0].Args["a"])
}

func TestSendMessage_Validation(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := newMockModel(ctrl)
	sessions := store.NewMemoryStore()
	id := newSession(t, sessions)
	a := assistants.NewAssistant(model, sessions, nil, sumDispatcher())

	_, err := a.SendMessage(context.Background(), id, "  ")
	assert.ErrorIs(t, err, chatmodel.ErrValidation)
	_, err = a.SendMessage(context.Background(), "", "hello")
	assert.ErrorIs(t, err, chatmodel.ErrValidation)
}

func TestSendMessage_UnknownSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := newMockModel(ctrl)
	a := assistants.NewAssistant(model, store.NewMemoryStore(), testSnapshot(t), sumDispatcher())

	_, err := a.SendMessage(context.Background(), "12345", "hello")
	assert.ErrorIs(t, err, chatmodel.ErrSessionNotFound)
}

func assertFailureCommitted(t *testing.T, sessions store.SessionStore, id, message string) {
	t.Helper()
	history, err := sessions.GetHistory(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, chatmodel.RoleUser, history[0].Role)
	assert.Equal(t, message, history[0].Text())
	assert.Equal(t, chatmodel.RoleModel, history[1].Role)
	assert.Equal(t, assistants.FailedMessage, history[1].Text())
}

func TestSendMessage_ToolLoopExceeded(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := newMockModel(ctrl)
	sessions := store.NewMemoryStore()
	id := newSession(t, sessions)

	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(toolResponse("addTwoNumbers", `{"a":1,"b":2}`), nil).
		Times(3)

	var calls int
	dispatcher := dispatcherFunc(func(ctx context.Context, name string, args map[string]any) (string, error) {
		calls++
		return "3", nil
	})

	a := assistants.NewAssistant(model, sessions, testSnapshot(t), dispatcher, assistants.WithMaxToolRounds(2))
	_, err := a.SendMessage(context.Background(), id, "loop")
	require.Error(t, err)
	assert.ErrorIs(t, err, chatmodel.ErrToolLoopExceeded)
	assert.Equal(t, 2, calls)
	assertFailureCommitted(t, sessions, id, "loop")
}

func TestSendMessage_EmptyResponse(t *testing.T) {
	t.Run("exhausted", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		model := newMockModel(ctrl)
		sessions := store.NewMemoryStore()
		id := newSession(t, sessions)

		gomock.InOrder(
			model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
				Return(&llms.ContentResponse{}, nil),
			model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
				Return(textResponse("   "), nil),
		)

		a := assistants.NewAssistant(model, sessions, testSnapshot(t), sumDispatcher())
		_, err := a.SendMessage(context.Background(), id, "hello")
		assert.ErrorIs(t, err, chatmodel.ErrEmptyModelResponse)
		assertFailureCommitted(t, sessions, id, "hello")
	})

	t.Run("retried", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		model := newMockModel(ctrl)
		sessions := store.NewMemoryStore()
		id := newSession(t, sessions)

		gomock.InOrder(
			model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
				Return(&llms.ContentResponse{Choices: []*llms.ContentChoice{{}}}, nil),
			model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
				Return(textResponse("finally"), nil),
		)

		a := assistants.NewAssistant(model, sessions, testSnapshot(t), sumDispatcher())
		reply, err := a.SendMessage(context.Background(), id, "hello")
		require.NoError(t, err)
		assert.Equal(t, "finally", reply.Reply)
		assert.Len(t, reply.History, 2)
	})
}

func TestSendMessage_ModelTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := newMockModel(ctrl)
	sessions := store.NewMemoryStore()
	id := newSession(t, sessions)

	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	a := assistants.NewAssistant(model, sessions, testSnapshot(t), sumDispatcher(),
		assistants.WithModelTimeout(50*time.Millisecond))
	_, err := a.SendMessage(context.Background(), id, "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, chatmodel.ErrModelTimeout)
	assertFailureCommitted(t, sessions, id, "hello")
}

func TestSendMessage_ModelError(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := newMockModel(ctrl)
	sessions := store.NewMemoryStore()
	id := newSession(t, sessions)

	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("quota exceeded"))

	a := assistants.NewAssistant(model, sessions, testSnapshot(t), sumDispatcher())
	_, err := a.SendMessage(context.Background(), id, "hello")
	require.Error(t, err)
	assert.Equal(t, "failed to generate content from LLM: quota exceeded", err.Error())
	assert.False(t, errors.Is(err, chatmodel.ErrModelTimeout))
	assertFailureCommitted(t, sessions, id, "hello")
}

func TestSendMessage_DispatchErrors(t *testing.T) {
	tcases := []struct {
		name     string
		response *llms.ContentResponse
		exp      error
	}{
		{
			name:     "unknown tool",
			response: toolResponse("deleteEverything", `{}`),
			exp:      chatmodel.ErrUnknownTool,
		},
		{
			name:     "malformed arguments",
			response: toolResponse("addTwoNumbers", `{"a":`),
			exp:      chatmodel.ErrDispatchFailure,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			model := newMockModel(ctrl)
			sessions := store.NewMemoryStore()
			id := newSession(t, sessions)

			model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).Return(tc.response, nil)

			a := assistants.NewAssistant(model, sessions, testSnapshot(t), sumDispatcher())
			_, err := a.SendMessage(context.Background(), id, "do it")
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.exp)
			assertFailureCommitted(t, sessions, id, "do it")
		})
	}
}

func TestSendMessage_SystemPromptAndOptions(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := newMockModel(ctrl)
	sessions := store.NewMemoryStore()
	id := newSession(t, sessions)

	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, messages []llms.Message, opts ...llms.CallOption) (*llms.ContentResponse, error) {
			require.Len(t, messages, 2)
			assert.Equal(t, llms.RoleSystem, messages[0].Role)
			assert.Equal(t, "You are a helpful assistant.", messages[0].Text())

			co := llms.CallOptions{}.Apply(opts...)
			assert.Equal(t, 0.2, co.Temperature)
			assert.Equal(t, 512, co.MaxTokens)
			assert.Empty(t, co.Tools)
			return textResponse("ok"), nil
		})

	a := assistants.NewAssistant(model, sessions, nil, sumDispatcher(),
		assistants.WithName("test"),
		assistants.WithSystemPrompt("You are a helpful assistant."),
		assistants.WithTemperature(0.2),
		assistants.WithMaxTokens(512),
	)
	assert.Equal(t, "test", a.Name())
	assert.Equal(t, 0, a.Tools().Len())

	_, err := a.SendMessage(context.Background(), id, "hello")
	require.NoError(t, err)
}

func TestSendMessage_SameSessionSerialized(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := newMockModel(ctrl)
	sessions := store.NewMemoryStore()
	id := newSession(t, sessions)

	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, messages []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
			time.Sleep(5 * time.Millisecond)
			last := messages[len(messages)-1]
			return textResponse("echo: " + last.Text()), nil
		}).
		AnyTimes()

	a := assistants.NewAssistant(model, sessions, testSnapshot(t), sumDispatcher())

	const count = 8
	var wg sync.WaitGroup
	for i := range count {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.SendMessage(context.Background(), id, fmt.Sprintf("%d: %s", i, gofakeit.Word()))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := sessions.GetHistory(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, history, 2*count)
	for i := 0; i < len(history); i += 2 {
		assert.Equal(t, chatmodel.RoleUser, history[i].Role)
		assert.Equal(t, chatmodel.RoleModel, history[i+1].Role)
		assert.Equal(t, "echo: "+history[i].Text(), history[i+1].Text())
	}
}

func TestSendMessage_MessageContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := newMockModel(ctrl)
	sessions := store.NewMemoryStore()
	id := newSession(t, sessions)

	gomock.InOrder(
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(toolResponse("addTwoNumbers", `{"a":1,"b":1}`), nil),
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(textResponse("2"), nil),
	)

	var seen *chatmodel.MessageContext
	dispatcher := dispatcherFunc(func(ctx context.Context, _ string, _ map[string]any) (string, error) {
		seen = chatmodel.MessageFromContext(ctx)
		return "2", nil
	})

	a := assistants.NewAssistant(model, sessions, testSnapshot(t), dispatcher)
	_, err := a.SendMessage(context.Background(), id, "1+1")
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, id, seen.SessionID)
	assert.NotEmpty(t, seen.MessageID)

	// a caller provided context of the same session is kept
	msgCtx := chatmodel.NewMessageContext(id)
	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(toolResponse("addTwoNumbers", `{"a":1,"b":1}`), nil)
	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(textResponse("2"), nil)
	_, err = a.SendMessage(chatmodel.WithMessageContext(context.Background(), msgCtx), id, "1+1")
	require.NoError(t, err)
	assert.Same(t, msgCtx, seen)
}
