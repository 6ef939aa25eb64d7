package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joseph-ayodele/docextract/internal/common"
)

// FSSource reads documents below a root directory.
type FSSource struct {
	root   string
	logger *slog.Logger
}

func NewFSSource(root string, logger *slog.Logger) (*FSSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: storage root is required", common.ErrInvalidInput)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	return &FSSource{root: abs, logger: logger}, nil
}

// Root returns the absolute root directory.
func (s *FSSource) Root() string { return s.root }

// resolve maps ref to a path inside the root, rejecting anything that would
// escape it.
func (s *FSSource) resolve(ref string) (string, error) {
	rel := filepath.FromSlash(strings.TrimSpace(ref))
	if rel == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: document ref %q is outside the storage root", common.ErrInvalidInput, ref)
	}
	return filepath.Join(s.root, rel), nil
}

func (s *FSSource) Read(ctx context.Context, ref string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	p, err := s.resolve(ref)
	if err != nil {
		return Document{}, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{}, fmt.Errorf("%w: document %s", common.ErrNotFound, ref)
		}
		s.logger.Error("read document failed", "document_ref", ref, "error", err)
		return Document{}, fmt.Errorf("read document %s: %w", ref, err)
	}
	return newDocument(ref, data, ""), nil
}

// List walks prefix (a directory ref, "" for the root) and returns the refs
// of supported, non-hidden documents in lexical order.
func (s *FSSource) List(ctx context.Context, prefix string) ([]string, error) {
	start := s.root
	if strings.TrimSpace(prefix) != "" {
		p, err := s.resolve(prefix)
		if err != nil {
			return nil, err
		}
		start = p
	}

	var refs []string
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) && p == start {
				return fmt.Errorf("%w: directory %s", common.ErrNotFound, prefix)
			}
			s.logger.Warn("skipping unreadable path", "path", p, "error", walkErr)
			return nil
		}
		if p != start && IsHidden(p) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !Allowed(p) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		refs = append(refs, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	sort.Strings(refs)
	return refs, nil
}
