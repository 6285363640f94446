package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/Dan9191/devsecops-api/internal/common"
	"github.com/Dan9191/devsecops-api/internal/utils"
	"github.com/sirupsen/logrus"
)

// File is a downloaded file.
type File struct {
	Name        string
	ContentType string
	Content     []byte
}

// FileService serves files from a single base directory
type FileService struct {
	baseDir string
	log     *logrus.Logger
}

// NewFileService canonicalizes baseDir once; every download is checked against it.
func NewFileService(baseDir string, log *logrus.Logger) (*FileService, error) {
	base, err := utils.CanonicalBase(baseDir)
	if err != nil {
		return nil, err
	}
	return &FileService{baseDir: base, log: log}, nil
}

// BaseDir returns the canonical base directory.
func (s *FileService) BaseDir() string {
	return s.baseDir
}

// Download reads the whole of name from the base directory.
func (s *FileService) Download(ctx context.Context, name string) (*File, error) {
	path, err := utils.ResolveWithin(s.baseDir, name)
	if err != nil {
		if errors.Is(err, common.ErrAccessDenied) {
			s.log.WithField("name", name).Warn("Path traversal attempt blocked")
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("file %q: %w", name, common.ErrNotFound)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("file %q: %w", name, common.ErrNotFound)
	}

	return &File{
		Name:        filepath.Base(path),
		ContentType: http.DetectContentType(content),
		Content:     content,
	}, nil
}
