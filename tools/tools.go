package tools

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/mcp"
	"github.com/effective-security/toolchat/pkg/llmutils"
)

// Registrar accepts tool handlers, implemented by *mcp.Server.
// The handler is func(ctx context.Context, args T) (*mcp.ToolResponse, error),
// the input schema is reflected from T.
type Registrar interface {
	RegisterTool(name string, description string, handler any) error
}

// Group is a set of related tools served together.
type Group interface {
	Name() string
	Description() string
	// RegisterTools adds every tool of the group.
	RegisterTools(r Registrar) error
}

// Register adds the tools of every group, stopping at the first failure.
func Register(r Registrar, groups ...Group) error {
	for _, g := range groups {
		if err := g.RegisterTools(r); err != nil {
			return errors.WithMessagef(err, "failed to register %s", g.Name())
		}
	}
	return nil
}

// Textf returns a text result. Tools report failures this way,
// so the model can see them and answer.
func Textf(format string, args ...any) *mcp.ToolResponse {
	return mcp.NewTextResponse(fmt.Sprintf(format, args...))
}

// JSONResponse returns a text result with the indented JSON of v.
func JSONResponse(v any) *mcp.ToolResponse {
	return mcp.NewTextResponse(llmutils.ToJSONIndent(v))
}
