package pipeline

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"ai_workspace/core"
)

// MaxContextFileSize caps a file attached as code context.
const MaxContextFileSize = 1 << 20

// File access errors returned by FileReader implementations.
var (
	ErrFileNotFound = errors.New("pipeline: file not found")
	ErrFileDecode   = errors.New("pipeline: file is not valid UTF-8 text")
	ErrFileTooLarge = errors.New("pipeline: file is too large")
)

// CodeContext describes the editor state attached to a chat message.
type CodeContext struct {
	FilePath  string `json:"file_path,omitempty"`
	Language  string `json:"language,omitempty"`
	Cursor    int    `json:"cursor,omitempty"`
	Selection string `json:"selection,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Format renders the context the way it is shown to the model: a
// " | "-joined header followed by a fenced code block.
func (c CodeContext) Format() string {
	var header []string
	if c.FilePath != "" {
		header = append(header, "File: "+c.FilePath)
	}
	if c.Language != "" {
		header = append(header, "Language: "+c.Language)
	}
	if c.Selection != "" {
		header = append(header, "Selected: "+c.Selection)
	}

	var b strings.Builder
	if len(header) > 0 {
		b.WriteString("Context: ")
		b.WriteString(strings.Join(header, " | "))
	}
	if c.Content != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Code:\n```%s\n%s\n```", c.Language, c.Content)
	}
	return b.String()
}

// FileReader is the file access capability used to build a CodeContext.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// DirReader reads regular files below Root. Paths are taken relative to
// Root even when absolute; anything that resolves outside Root, symlinks
// included, is not found.
type DirReader struct {
	Root string
}

// ReadFile implements FileReader.
func (d DirReader) ReadFile(path string) ([]byte, error) {
	root := d.Root
	if root == "" {
		root = "."
	}
	dir, err := os.OpenRoot(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, err
	}
	defer dir.Close()

	rel := strings.TrimPrefix(filepath.Clean("/"+filepath.ToSlash(path)), "/")
	if rel == "" {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	f, err := dir.Open(rel)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	if info.Size() > MaxContextFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, path, info.Size())
	}
	return io.ReadAll(io.LimitReader(f, MaxContextFileSize))
}

// languages maps file extensions to fence languages.
var languages = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".rs":   "rust",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".java": "java",
	".rb":   "ruby",
	".sh":   "bash",
	".md":   "markdown",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".html": "html",
	".css":  "css",
	".sql":  "sql",
}

// LanguageFor guesses the language of path from its extension.
func LanguageFor(path string) string {
	return languages[strings.ToLower(filepath.Ext(path))]
}

// CodeContextFromFile reads path through r and fills FilePath, Language and
// Content.
func CodeContextFromFile(r FileReader, path string) (*CodeContext, error) {
	data, err := r.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s", ErrFileDecode, path)
	}
	return &CodeContext{
		FilePath: path,
		Language: LanguageFor(path),
		Content:  string(data),
	}, nil
}

// resolveCodeContext loads the file named by cc.FilePath through files
// when the client sent a path without content. Client-supplied language,
// cursor and selection are kept. Read failures are invalid requests.
func resolveCodeContext(files FileReader, cc *CodeContext) (*CodeContext, error) {
	if cc == nil || cc.FilePath == "" || cc.Content != "" {
		return cc, nil
	}
	const field = "code_context.file_path"
	if files == nil {
		return nil, core.NewInvalidRequest(field, "workspace file access is not configured")
	}
	loaded, err := CodeContextFromFile(files, cc.FilePath)
	switch {
	case errors.Is(err, ErrFileNotFound):
		return nil, core.NewInvalidRequest(field, "%q not found in workspace", cc.FilePath)
	case errors.Is(err, ErrFileDecode):
		return nil, core.NewInvalidRequest(field, "%q is not UTF-8 text", cc.FilePath)
	case errors.Is(err, ErrFileTooLarge):
		return nil, core.NewInvalidRequest(field, "%q exceeds %d bytes", cc.FilePath, MaxContextFileSize)
	case err != nil:
		return nil, core.NewInvalidRequest(field, "%q cannot be read: %v", cc.FilePath, err)
	}
	if cc.Language != "" {
		loaded.Language = cc.Language
	}
	loaded.Cursor = cc.Cursor
	loaded.Selection = cc.Selection
	return loaded, nil
}
