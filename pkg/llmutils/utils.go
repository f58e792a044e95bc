// Package llmutils has formatting helpers for logs and tool output.
package llmutils

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/effective-security/toolchat/pkg/llms"
)

// ToJSON returns the compact JSON of val, or an empty string when it can not be encoded.
func ToJSON(val any) string {
	js, _ := json.Marshal(val)
	return string(js)
}

// ToJSONIndent returns the tab indented JSON of val.
func ToJSONIndent(val any) string {
	js, _ := json.MarshalIndent(val, "", "\t")
	return string(js)
}

// Truncate returns s limited to max runes, with "..." appended when cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

// PrintMessages writes the conversation, one part per line,
// prefixed by the upper-cased role.
func PrintMessages(w io.Writer, msgs []llms.Message) {
	for _, m := range msgs {
		role := strings.ToUpper(string(m.Role))
		for _, p := range m.Parts {
			switch part := p.(type) {
			case llms.TextContent:
				fmt.Fprintf(w, "%s: %s\n", role, part.Text)
			case llms.ToolCall:
				fmt.Fprintf(w, "%s: call %s\n", role, part.String())
			}
		}
	}
}
