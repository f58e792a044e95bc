// Package fstool provides file system tools: read, write, list, create, delete and search.
package fstool

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/effective-security/toolchat/mcp"
	"github.com/effective-security/toolchat/tools"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolchat", "fstool")

const (
	TypeFile      = "file"
	TypeDirectory = "directory"
)

type ReadFileRequest struct {
	FilePath string `json:"filePath" jsonschema:"description=Full path to the file to read"`
}

type ListDirectoryRequest struct {
	DirectoryPath string `json:"directoryPath" jsonschema:"description=Path to the directory to list contents from"`
}

type WriteFileRequest struct {
	FilePath string `json:"filePath" jsonschema:"description=Full path to the file to write"`
	Content  string `json:"content" jsonschema:"description=Content to write to the file"`
}

type CreateDirectoryRequest struct {
	DirectoryPath string `json:"directoryPath" jsonschema:"description=Path of the directory to create"`
}

type DeleteItemRequest struct {
	ItemPath string `json:"itemPath" jsonschema:"description=Path to the file or directory to delete"`
}

type SearchFilesRequest struct {
	Directory  string `json:"directory" jsonschema:"description=Directory to start the search from"`
	SearchTerm string `json:"searchTerm" jsonschema:"description=Term to search for in file and directory names"`
}

// Entry describes a file or a directory
type Entry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Path string `json:"path"`
}

// Tools is the group of file system tools.
// Relative paths are resolved against the base directory, when it is set.
type Tools struct {
	baseDir string
}

var _ tools.Group = (*Tools)(nil)

// New returns file system tools, baseDir is optional
func New(baseDir string) *Tools {
	return &Tools{baseDir: baseDir}
}

func (t *Tools) Name() string {
	return "filesystem"
}

func (t *Tools) Description() string {
	return "Read, write, list, create, delete and search files and directories"
}

func (t *Tools) RegisterTools(r tools.Registrar) error {
	list := []struct {
		name        string
		description string
		handler     any
	}{
		{"readFile", "Read content of a file at the specified path", t.ReadFile},
		{"listDirectory", "List files and folders in a directory", t.ListDirectory},
		{"writeFile", "Write content to a file", t.WriteFile},
		{"createDirectory", "Create a new directory", t.CreateDirectory},
		{"deleteItem", "Delete a file or directory", t.DeleteItem},
		{"searchFiles", "Search for files and directories containing a term", t.SearchFiles},
	}
	for _, h := range list {
		if err := r.RegisterTool(h.name, h.description, h.handler); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tools) resolve(p string) string {
	if t.baseDir != "" && !filepath.IsAbs(p) {
		return filepath.Join(t.baseDir, p)
	}
	return p
}

func (t *Tools) ReadFile(req ReadFileRequest) (*mcp.ToolResponse, error) {
	content, err := os.ReadFile(t.resolve(req.FilePath))
	if err != nil {
		return tools.Textf("Error reading file: %s", err.Error()), nil
	}
	return mcp.NewTextResponse(string(content)), nil
}

func (t *Tools) ListDirectory(req ListDirectoryRequest) (*mcp.ToolResponse, error) {
	dir := t.resolve(req.DirectoryPath)
	items, err := os.ReadDir(dir)
	if err != nil {
		return tools.Textf("Error listing directory: %s", err.Error()), nil
	}

	res := make([]Entry, 0, len(items))
	for _, item := range items {
		res = append(res, Entry{
			Name: item.Name(),
			Type: entryType(item),
			Path: filepath.Join(dir, item.Name()),
		})
	}
	return tools.JSONResponse(res), nil
}

func (t *Tools) WriteFile(req WriteFileRequest) (*mcp.ToolResponse, error) {
	if err := os.WriteFile(t.resolve(req.FilePath), []byte(req.Content), 0o644); err != nil {
		return tools.Textf("Error writing to file: %s", err.Error()), nil
	}
	return tools.Textf("Successfully wrote to file: %s", req.FilePath), nil
}

func (t *Tools) CreateDirectory(req CreateDirectoryRequest) (*mcp.ToolResponse, error) {
	if err := os.MkdirAll(t.resolve(req.DirectoryPath), 0o755); err != nil {
		return tools.Textf("Error creating directory: %s", err.Error()), nil
	}
	return tools.Textf("Successfully created directory: %s", req.DirectoryPath), nil
}

func (t *Tools) DeleteItem(req DeleteItemRequest) (*mcp.ToolResponse, error) {
	p := t.resolve(req.ItemPath)
	fi, err := os.Stat(p)
	if err != nil {
		return tools.Textf("Error deleting item: %s", err.Error()), nil
	}

	if fi.IsDir() {
		if err = os.RemoveAll(p); err != nil {
			return tools.Textf("Error deleting item: %s", err.Error()), nil
		}
		return tools.Textf("Successfully deleted directory: %s", req.ItemPath), nil
	}

	if err = os.Remove(p); err != nil {
		return tools.Textf("Error deleting item: %s", err.Error()), nil
	}
	return tools.Textf("Successfully deleted file: %s", req.ItemPath), nil
}

// SearchFiles walks the directory recursively and returns entries
// whose name contains the term, case-insensitive.
// Subdirectories that can not be read are skipped.
func (t *Tools) SearchFiles(req SearchFilesRequest) (*mcp.ToolResponse, error) {
	root := t.resolve(req.Directory)
	term := strings.ToLower(req.SearchTerm)

	fi, err := os.Stat(root)
	if err != nil {
		return tools.Textf("Error searching files: %s", err.Error()), nil
	}
	if !fi.IsDir() {
		return tools.Textf("Error searching files: %s is not a directory", req.Directory), nil
	}

	res := []Entry{}
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			logger.KV(xlog.DEBUG, "status", "skip", "path", p, "err", err.Error())
			return nil
		}
		if p == root {
			return nil
		}
		if strings.Contains(strings.ToLower(d.Name()), term) {
			res = append(res, Entry{
				Name: d.Name(),
				Type: entryType(d),
				Path: p,
			})
		}
		return nil
	})
	if err != nil {
		return tools.Textf("Error searching files: %s", err.Error()), nil
	}
	return tools.JSONResponse(res), nil
}

func entryType(d fs.DirEntry) string {
	if d.IsDir() {
		return TypeDirectory
	}
	return TypeFile
}
