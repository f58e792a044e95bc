// Package tavily provides the web search tool backed by the Tavily API.
package tavily

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	tavilygo "github.com/diverged/tavily-go"
	tavilyModels "github.com/diverged/tavily-go/models"
	"github.com/effective-security/toolchat/mcp"
	"github.com/effective-security/toolchat/tools"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolchat", "tavily")

// ToolName is the registered name of the search tool.
const ToolName = "webSearch"

// DefaultMaxResults limits the results returned to the model.
const DefaultMaxResults = 5

// SearchRequest is the tool input.
type SearchRequest struct {
	Query string `json:"query" jsonschema:"title=Search Query,description=The query to search web."`
	// Depth is basic or advanced.
	Depth string `json:"depth,omitempty" jsonschema:"description=Search depth,enum=basic,enum=advanced"`
}

// SearchResult is the search outcome.
type SearchResult struct {
	Answer  string                      `json:"answer,omitempty"`
	Results []tavilyModels.SearchResult `json:"results"`
}

// Option configures the Tool.
type Option func(*Tool)

// WithBaseURL overrides the Tavily endpoint.
func WithBaseURL(baseURL string) Option {
	return func(t *Tool) {
		t.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client of API calls.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Tool) {
		t.httpClient = client
	}
}

// WithMaxResults limits the returned results, non-positive values are ignored.
func WithMaxResults(n int) Option {
	return func(t *Tool) {
		if n > 0 {
			t.maxResults = n
		}
	}
}

// Tool searches the web.
type Tool struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	maxResults int
}

var _ tools.Group = (*Tool)(nil)

// New returns the search tool for the API key.
func New(apiKey string, opts ...Option) (*Tool, error) {
	if apiKey == "" {
		return nil, errors.New("TAVILY_API_KEY is not set")
	}
	t := &Tool{
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
		maxResults: DefaultMaxResults,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Tool) Name() string {
	return ToolName
}

func (t *Tool) Description() string {
	return "Search the web and return a short answer with the top results."
}

func (t *Tool) RegisterTools(r tools.Registrar) error {
	return r.RegisterTool(ToolName, t.Description(), t.Handle)
}

// Handle is the tool handler, failures are returned as text.
func (t *Tool) Handle(ctx context.Context, req SearchRequest) (*mcp.ToolResponse, error) {
	res, err := t.Search(ctx, req)
	if err != nil {
		logger.ContextKV(ctx, xlog.WARNING, "status", "search_failed", "err", err.Error())
		return tools.Textf("Error searching web: %s", err.Error()), nil
	}
	return mcp.NewTextResponse(res.String()), nil
}

// Search runs the query.
func (t *Tool) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, errors.New("invalid request: empty query")
	}
	depth := strings.ToLower(req.Depth)
	switch depth {
	case "":
		depth = "basic"
	case "basic", "advanced":
	default:
		return nil, errors.Newf("invalid request: unsupported depth %q", req.Depth)
	}
	// the client has no context support
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	client := tavilygo.NewClient(t.apiKey)
	if t.baseURL != "" {
		client.BaseURL = t.baseURL
	}
	if t.httpClient != nil {
		client.HTTPClient = t.httpClient
	}

	resp, err := tavilygo.Search(client, tavilyModels.SearchRequest{
		Query:         query,
		SearchDepth:   depth,
		IncludeAnswer: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to perform search")
	}

	res := &SearchResult{
		Answer:  resp.Answer,
		Results: resp.Results,
	}
	if len(res.Results) > t.maxResults {
		res.Results = res.Results[:t.maxResults]
	}
	return res, nil
}

// String renders the result for the model.
func (r *SearchResult) String() string {
	var b strings.Builder
	if r.Answer != "" {
		fmt.Fprintf(&b, "Answer: %s\n", r.Answer)
	}
	if len(r.Results) == 0 {
		b.WriteString("No results found.\n")
		return b.String()
	}
	for i, res := range r.Results {
		fmt.Fprintf(&b, "\n%d. %s (score %.2f)\n   %s\n   %s\n", i+1, res.Title, res.Score, res.URL, res.Content)
	}
	return b.String()
}
