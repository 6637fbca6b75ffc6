package resource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/hupe1980/xweb/core"
)

// FileHandler resolves resource ids as slash separated paths relative to a
// base directory.
//
// Ids that are absolute, contain a NUL byte, or escape the base directory
// through ".." segments or symbolic links do not resolve.
type FileHandler struct {
	baseDir string
	// realDir is baseDir with symbolic links evaluated.
	realDir string
}

// NewFileHandler creates a handler rooted at baseDir. The directory must
// exist.
func NewFileHandler(baseDir string) (*FileHandler, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory %s: %w", baseDir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat base directory %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base directory %s is not a directory", abs)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory %s: %w", abs, err)
	}
	return &FileHandler{baseDir: abs, realDir: real}, nil
}

// BaseDir returns the absolute base directory.
func (h *FileHandler) BaseDir() string { return h.baseDir }

// Resolve maps resourceID to a file below the base directory.
func (h *FileHandler) Resolve(resourceID string) (core.ResourceLocation, error) {
	if resourceID == "" || strings.ContainsRune(resourceID, 0) {
		return core.ResourceLocation{}, core.NewError(core.KindResourceNotFound, "invalid resource id %q", resourceID)
	}

	rel := filepath.FromSlash(resourceID)
	if filepath.IsAbs(rel) || strings.HasPrefix(resourceID, "/") {
		return core.ResourceLocation{}, core.NewError(core.KindResourceNotFound, "resource id %q must be relative", resourceID)
	}

	clean := filepath.Clean(rel)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return core.ResourceLocation{}, core.NewError(core.KindResourceNotFound, "resource id %q escapes the resource directory", resourceID)
	}

	path := filepath.Join(h.baseDir, clean)
	if err := h.contain(resourceID, path); err != nil {
		return core.ResourceLocation{}, err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}

	return core.ResourceLocation{
		ResourceID: resourceID,
		URI:        u.String(),
		Key:        path,
	}, nil
}

// Load reads the file behind loc.
func (h *FileHandler) Load(ctx context.Context, loc core.ResourceLocation) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.WrapError(core.KindCancelled, "load cancelled", err)
	}
	if err := h.contain(loc.ResourceID, loc.Key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(loc.Key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, core.NewError(core.KindResourceNotFound, "resource %s does not exist", loc.ResourceID)
		}
		return nil, fmt.Errorf("read resource %s: %w", loc.ResourceID, err)
	}
	return data, nil
}

// Save writes data to the file behind loc, creating parent directories. The
// content is written to a temporary file first and renamed into place.
func (h *FileHandler) Save(ctx context.Context, loc core.ResourceLocation, data []byte) error {
	if err := ctx.Err(); err != nil {
		return core.WrapError(core.KindCancelled, "save cancelled", err)
	}
	if err := h.contain(loc.ResourceID, loc.Key); err != nil {
		return err
	}
	dir := filepath.Dir(loc.Key)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create directory for %s: %w", loc.ResourceID, err)
	}

	tmp, err := os.CreateTemp(dir, ".xweb-*")
	if err != nil {
		return fmt.Errorf("save resource %s: %w", loc.ResourceID, err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("save resource %s: %w", loc.ResourceID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save resource %s: %w", loc.ResourceID, err)
	}
	if err := os.Rename(tmp.Name(), loc.Key); err != nil {
		return fmt.Errorf("save resource %s: %w", loc.ResourceID, err)
	}
	return nil
}

// contain checks that path, after evaluating symbolic links, stays below the
// base directory. Path components that do not exist yet are taken verbatim.
func (h *FileHandler) contain(resourceID, path string) error {
	real, err := evalExisting(path)
	if err != nil {
		return fmt.Errorf("resolve resource %s: %w", resourceID, err)
	}
	rel, err := filepath.Rel(h.realDir, real)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return core.NewError(core.KindResourceNotFound, "resource id %q escapes the resource directory", resourceID)
	}
	return nil
}

// evalExisting evaluates symbolic links in the longest existing prefix of
// path and appends the remaining components.
func evalExisting(path string) (string, error) {
	var rest []string
	p := path
	for {
		real, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(append([]string{real}, rest...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", err
		}
		rest = append([]string{filepath.Base(p)}, rest...)
		p = parent
	}
}
