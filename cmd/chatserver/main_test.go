package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/config"
	"github.com/effective-security/toolchat/mcp"
	"github.com/effective-security/toolchat/mcp/transport/sse"
	"github.com/effective-security/toolchat/mocks/mockllms"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/toolchat/tools"
	"github.com/effective-security/toolchat/tools/mathtool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testConfig(t *testing.T, toolsURL string) *config.Config {
	t.Helper()
	for _, name := range []string{config.EnvConfigFile, "MCP_URL", "PORT", "LOG_LEVEL"} {
		t.Setenv(name, "")
	}
	t.Setenv("GOOGLE_API_KEY", "test-key")
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Chat.ToolsURL = toolsURL
	cfg.Limits.RegistryTimeout = "2s"
	return cfg
}

func toolServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := mcp.NewServer("tools", "1.0.0")
	require.NoError(t, tools.Register(server, mathtool.New()))

	handler := sse.NewHandler(server, "/messages")
	mux := http.NewServeMux()
	handler.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		handler.Close()
		srv.Close()
	})
	return srv
}

func TestConnectTools(t *testing.T) {
	srv := toolServer(t)
	cfg := testConfig(t, srv.URL+"/sse")

	client, snapshot, err := connectTools(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, []string{"addTwoNumbers"}, snapshot.Names())
}

func TestConnectTools_Unavailable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	cfg := testConfig(t, "http://"+addr+"/sse")
	_, _, err = connectTools(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, chatmodel.ErrRegistryUnavailable))
}

func TestHandler(t *testing.T) {
	srv := toolServer(t)
	cfg := testConfig(t, srv.URL+"/sse")

	client, snapshot, err := connectTools(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()

	ctrl := gomock.NewController(t)
	model := mockllms.NewMockModel(ctrl)
	model.EXPECT().GetName().Return("gemini-test").AnyTimes()
	model.EXPECT().GetProviderType().Return(llms.ProviderGoogleAI).AnyTimes()
	gomock.InOrder(
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&llms.ContentResponse{
				Choices: []*llms.ContentChoice{{
					ToolCalls: []llms.ToolCall{{ID: "1", Name: "addTwoNumbers", Arguments: `{"a":20,"b":22}`}},
				}},
			}, nil),
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "42"}}}, nil),
	)

	api := httptest.NewServer(newHandler(cfg, model, client, snapshot))
	defer api.Close()

	resp, err := api.Client().Post(api.URL+"/api/chat/session", "application/json", nil)
	require.NoError(t, err)
	var created struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.NotEmpty(t, created.SessionID)

	body := `{"sessionId":"` + created.SessionID + `","message":"What is 20 + 22?"}`
	resp, err = api.Client().Post(api.URL+"/api/chat/message", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reply struct {
		Reply     string               `json:"reply"`
		ToolCalls []chatmodel.ToolCall `json:"toolCalls"`
		History   []chatmodel.Turn     `json:"history"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	assert.Equal(t, "42", reply.Reply)
	require.Len(t, reply.ToolCalls, 1)
	require.Len(t, reply.History, 4)
	assert.Equal(t, "Tool result: The sum of 20 and 22 is 42", reply.History[2].Text())
}
