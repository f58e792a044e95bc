// Package registry fetches the tool descriptors of a capability provider
// and holds them as an immutable snapshot.
package registry

import (
	"context"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/mcp"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/toolchat/pkg/schema"
	"github.com/effective-security/xlog"
	"github.com/invopop/jsonschema"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolchat", "registry")

// DefaultTimeout bounds Fetch
const DefaultTimeout = 30 * time.Second

// maxPages guards against a provider returning cursors forever
const maxPages = 1000

// ToolLister lists one page of tools
type ToolLister interface {
	ListTools(ctx context.Context, cursor *string) (*mcp.ToolsResponse, error)
}

// Descriptor describes a tool
type Descriptor struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

// RequiredArgs returns the names of the required arguments
func (d *Descriptor) RequiredArgs() []string {
	if d.Parameters == nil {
		return nil
	}
	return d.Parameters.Required
}

// Snapshot is an immutable set of tool descriptors keyed by name.
// It is safe for concurrent use.
type Snapshot struct {
	tools    map[string]*Descriptor
	names    []string
	llmTools []llms.Tool
}

type options struct {
	timeout time.Duration
}

// Option configures Fetch
type Option func(*options)

// WithTimeout bounds the whole fetch
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// Fetch lists every page of tools from the provider and returns the snapshot.
// Any failure is marked with chatmodel.ErrRegistryUnavailable.
func Fetch(ctx context.Context, lister ToolLister, opts ...Option) (*Snapshot, error) {
	o := &options{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(o)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var descriptors []Descriptor
	var cursor *string
	for page := 0; ; page++ {
		if page >= maxPages {
			return nil, unavailable(errors.Newf("more than %d pages of tools", maxPages))
		}

		res, err := lister.ListTools(ctx, cursor)
		if err != nil {
			return nil, unavailable(errors.WithMessage(err, "failed to list tools"))
		}
		if res == nil {
			return nil, unavailable(errors.New("empty tools response"))
		}

		for _, t := range res.Tools {
			d, err := descriptorFromTool(t)
			if err != nil {
				return nil, unavailable(err)
			}
			descriptors = append(descriptors, d)
		}

		if res.NextCursor == nil || *res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}

	s, err := New(descriptors...)
	if err != nil {
		return nil, unavailable(err)
	}

	logger.ContextKV(ctx, xlog.INFO,
		"status", "fetched",
		"tools", s.names,
	)
	return s, nil
}

func unavailable(err error) error {
	return errors.Mark(err, chatmodel.ErrRegistryUnavailable)
}

func descriptorFromTool(t mcp.ToolRetType) (Descriptor, error) {
	if t.Name == "" {
		return Descriptor{}, errors.New("tool descriptor has no name")
	}
	if len(t.InputSchema) == 0 {
		return Descriptor{}, errors.Newf("tool %s: input schema is missing", t.Name)
	}
	params, err := schema.FromJSON(t.InputSchema)
	if err != nil {
		return Descriptor{}, errors.WithMessagef(err, "tool %s", t.Name)
	}
	return Descriptor{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  params,
	}, nil
}

// New returns a snapshot of the descriptors.
// Names must be unique and parameters must be object schemas.
func New(descriptors ...Descriptor) (*Snapshot, error) {
	s := &Snapshot{
		tools: make(map[string]*Descriptor, len(descriptors)),
	}
	for _, d := range descriptors {
		if d.Name == "" {
			return nil, errors.New("tool descriptor has no name")
		}
		if _, ok := s.tools[d.Name]; ok {
			return nil, errors.Newf("duplicate tool: %s", d.Name)
		}
		if d.Parameters == nil || d.Parameters.Type != "object" {
			return nil, errors.Newf("tool %s: input schema must be an object", d.Name)
		}
		s.tools[d.Name] = &d
		s.names = append(s.names, d.Name)
	}
	slices.Sort(s.names)

	s.llmTools = make([]llms.Tool, 0, len(s.names))
	for _, name := range s.names {
		d := s.tools[name]
		s.llmTools = append(s.llmTools, llms.NewFunctionTool(d.Name, d.Description, d.Parameters))
	}
	return s, nil
}

// Get returns the descriptor by name
func (s *Snapshot) Get(name string) (*Descriptor, bool) {
	d, ok := s.tools[name]
	return d, ok
}

// Names returns sorted tool names
func (s *Snapshot) Names() []string {
	return slices.Clone(s.names)
}

// Descriptors returns the descriptors sorted by name
func (s *Snapshot) Descriptors() []Descriptor {
	res := make([]Descriptor, 0, len(s.names))
	for _, name := range s.names {
		res = append(res, *s.tools[name])
	}
	return res
}

// Len returns the number of tools
func (s *Snapshot) Len() int {
	return len(s.names)
}

// LLMTools returns the tools in the format of the model call
func (s *Snapshot) LLMTools() []llms.Tool {
	return slices.Clone(s.llmTools)
}
