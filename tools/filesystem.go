package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/m4xw311/comclerk/config"
	"github.com/m4xw311/comclerk/errors"
	"github.com/m4xw311/comclerk/permission"
	"github.com/m4xw311/comclerk/session"
)

// ReadFileTool implements the tool for reading a file. Binary files
// with a known image type come back as attachments; reading a
// directory returns its listing as a display-only attachment.
type ReadFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Reads the entire content of a file or lists a directory. Args: path (string)."
}

// Permission is nil for paths outside the read-only and hidden sets;
// reading is unrestricted by itself.
func (t *ReadFileTool) Permission(args map[string]interface{}) *permission.Request {
	return nil
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, ok := args["path"].(string)
	if !ok {
		return nil, errors.New("missing or invalid 'path' argument")
	}

	hidden, err := isPathRestricted(path, t.fsAccess.Hidden)
	if err != nil {
		return nil, err
	}
	if hidden {
		return nil, errors.New("access denied: path '%s' is hidden", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read '%s'", path)
	}
	if info.IsDir() {
		return t.readDirectory(path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read file '%s'", path)
	}

	if mimeType := imageMimeType(path); mimeType != "" {
		dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(content))
		return &Result{
			Output: fmt.Sprintf("Read image %s (%d bytes)", path, len(content)),
			Attachments: []session.Part{{
				Type:     session.PartFile,
				Mime:     mimeType,
				URL:      dataURL,
				Filename: filepath.Base(path),
			}},
		}, nil
	}

	return &Result{Output: string(content)}, nil
}

func (t *ReadFileTool) readDirectory(path string) (*Result, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list directory '%s'", path)
	}
	var listing strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			listing.WriteString(e.Name() + "/\n")
		} else {
			listing.WriteString(e.Name() + "\n")
		}
	}
	return &Result{
		Output: listing.String(),
		Attachments: []session.Part{{
			Type:     session.PartFile,
			Mime:     session.MimeDirectory,
			URL:      "file://" + path,
			Filename: filepath.Base(path),
		}},
	}, nil
}

// imageMimeType returns the image mime type for a path, or "".
func imageMimeType(path string) string {
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if strings.HasPrefix(mimeType, "image/") {
		return mimeType
	}
	return ""
}

// WriteFileTool implements the tool for writing to a file.
type WriteFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Writes content to a file, replacing it entirely. Args: path (string), content (string)."
}

// Permission asks before every write. An "always" reply remembers the
// path, so repeated writes to the same file stop prompting.
func (t *WriteFileTool) Permission(args map[string]interface{}) *permission.Request {
	path, _ := args["path"].(string)
	return &permission.Request{
		Type:     "filesystem",
		Title:    fmt.Sprintf("Write to %s", path),
		Pattern:  path,
		Metadata: map[string]interface{}{"path": path},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, pathOk := args["path"].(string)
	content, contentOk := args["content"].(string)
	if !pathOk || !contentOk {
		return nil, errors.New("missing or invalid 'path' or 'content' arguments")
	}

	hidden, err := isPathRestricted(path, t.fsAccess.Hidden)
	if err != nil {
		return nil, err
	}
	if hidden {
		return nil, errors.New("access denied: path '%s' is hidden", path)
	}

	readOnly, err := isPathRestricted(path, t.fsAccess.ReadOnly)
	if err != nil {
		return nil, err
	}
	if readOnly {
		return nil, errors.New("access denied: path '%s' is read-only", path)
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, errors.Wrapf(err, "failed to write to file '%s'", path)
	}
	return &Result{Output: fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path)}, nil
}
