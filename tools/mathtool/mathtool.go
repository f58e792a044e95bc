// Package mathtool provides arithmetic tools.
package mathtool

import (
	"strconv"

	"github.com/effective-security/toolchat/mcp"
	"github.com/effective-security/toolchat/tools"
)

const ToolName = "addTwoNumbers"

// AddRequest represents the tool input.
type AddRequest struct {
	A float64 `json:"a" jsonschema:"description=First number"`
	B float64 `json:"b" jsonschema:"description=Second number"`
}

// Tool adds two numbers.
type Tool struct{}

var _ tools.Group = (*Tool)(nil)

func New() *Tool {
	return &Tool{}
}

func (t *Tool) Name() string {
	return ToolName
}

func (t *Tool) Description() string {
	return "Add two numbers"
}

func (t *Tool) RegisterTools(registrator tools.Registrar) error {
	return registrator.RegisterTool(t.Name(), t.Description(), t.Run)
}

// Run returns the sum as a sentence, for example "The sum of 2 and 3 is 5".
func (t *Tool) Run(args AddRequest) (*mcp.ToolResponse, error) {
	return tools.Textf("The sum of %s and %s is %s", format(args.A), format(args.B), format(args.A+args.B)), nil
}

func format(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
