package googleai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/invopop/jsonschema"
	"google.golang.org/genai"
)

const (
	roleUser  = "user"
	roleModel = "model"
)

// convertMessages splits the conversation into the system instruction
// and the Gemini contents.
func convertMessages(messages []llms.Message) (*genai.Content, []*genai.Content, error) {
	var system *genai.Content
	contents := make([]*genai.Content, 0, len(messages))
	for i, m := range messages {
		parts, err := convertParts(m.Parts)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "message [%d]", i)
		}
		switch m.Role {
		case llms.RoleSystem:
			if system == nil {
				system = &genai.Content{Role: roleUser}
			}
			system.Parts = append(system.Parts, parts...)
		case llms.RoleHuman:
			contents = append(contents, &genai.Content{Role: roleUser, Parts: parts})
		case llms.RoleAI:
			contents = append(contents, &genai.Content{Role: roleModel, Parts: parts})
		default:
			return nil, nil, errors.Wrapf(llms.ErrUnexpectedRole, "message [%d]: %q", i, m.Role)
		}
	}
	return system, contents, nil
}

func convertParts(parts []llms.ContentPart) ([]*genai.Part, error) {
	res := make([]*genai.Part, 0, len(parts))
	for _, p := range parts {
		switch part := p.(type) {
		case llms.TextContent:
			res = append(res, &genai.Part{Text: part.Text})
		case llms.ToolCall:
			args, err := part.DecodeArguments()
			if err != nil {
				return nil, err
			}
			res = append(res, &genai.Part{
				FunctionCall: &genai.FunctionCall{ID: part.ID, Name: part.Name, Args: args},
			})
		default:
			return nil, errors.Errorf("unsupported part %T", p)
		}
	}
	return res, nil
}

// convertResponse maps the candidates, thoughts and unsupported parts are skipped.
func convertResponse(resp *genai.GenerateContentResponse) (*llms.ContentResponse, error) {
	res := &llms.ContentResponse{
		Choices: make([]*llms.ContentChoice, 0, len(resp.Candidates)),
	}
	for _, candidate := range resp.Candidates {
		choice := &llms.ContentChoice{
			StopReason: string(candidate.FinishReason),
		}
		if candidate.Content != nil {
			var text strings.Builder
			for _, part := range candidate.Content.Parts {
				switch {
				case part == nil || part.Thought:
				case part.FunctionCall != nil:
					args, err := json.Marshal(part.FunctionCall.Args)
					if err != nil {
						return nil, errors.Wrapf(err, "invalid arguments for %s", part.FunctionCall.Name)
					}
					choice.ToolCalls = append(choice.ToolCalls, llms.ToolCall{
						ID:        part.FunctionCall.ID,
						Name:      part.FunctionCall.Name,
						Arguments: string(args),
					})
				default:
					text.WriteString(part.Text)
				}
			}
			choice.Content = text.String()
		}
		res.Choices = append(res.Choices, choice)
	}

	if u := resp.UsageMetadata; u != nil {
		res.Usage = llms.Usage{
			InputTokens:  int64(u.PromptTokenCount),
			CachedTokens: int64(u.CachedContentTokenCount),
			OutputTokens: int64(u.CandidatesTokenCount + u.ToolUsePromptTokenCount + u.ThoughtsTokenCount),
			TotalTokens:  int64(u.TotalTokenCount),
		}
	}
	return res, nil
}

// convertTools declares every function tool in a single Gemini tool.
func convertTools(tools []llms.Tool) ([]*genai.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for i, t := range tools {
		if t.Type != llms.ToolTypeFunction {
			return nil, errors.Errorf("tool [%d]: unsupported type %q", i, t.Type)
		}
		if t.Function == nil || t.Function.Name == "" {
			return nil, errors.Errorf("tool [%d]: missing function definition", i)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  convertSchema(t.Function.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}

// convertSchema maps the JSON schema subset Gemini understands,
// property order is kept.
func convertSchema(s *jsonschema.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	res := &genai.Schema{
		Type:        schemaType(s.Type),
		Title:       s.Title,
		Description: s.Description,
		Required:    s.Required,
		Items:       convertSchema(s.Items),
	}
	for _, e := range s.Enum {
		res.Enum = append(res.Enum, fmt.Sprint(e))
	}
	if s.Properties != nil {
		res.Properties = make(map[string]*genai.Schema, s.Properties.Len())
		for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
			res.Properties[pair.Key] = convertSchema(pair.Value)
			res.PropertyOrdering = append(res.PropertyOrdering, pair.Key)
		}
	}
	return res
}

var schemaTypes = map[string]genai.Type{
	"object":  genai.TypeObject,
	"array":   genai.TypeArray,
	"string":  genai.TypeString,
	"number":  genai.TypeNumber,
	"integer": genai.TypeInteger,
	"boolean": genai.TypeBoolean,
}

func schemaType(t string) genai.Type {
	if gt, ok := schemaTypes[t]; ok {
		return gt
	}
	return genai.TypeUnspecified
}
