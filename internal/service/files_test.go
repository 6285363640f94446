package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Dan9191/devsecops-api/internal/common"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileService(t *testing.T) (*FileService, *test.Hook) {
	t.Helper()
	root := t.TempDir()
	base := filepath.Join(root, "uploads")
	require.NoError(t, os.MkdirAll(filepath.Join(base, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "photo.jpg"), []byte("fake image content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "document.pdf"), []byte("%PDF-1.4 fake pdf content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "outside.txt"), []byte("TOP SECRET DATA"), 0o644))

	log, hook := test.NewNullLogger()
	svc, err := NewFileService(base, log)
	require.NoError(t, err)
	return svc, hook
}

func TestDownload_ExistingFile(t *testing.T) {
	svc, _ := newTestFileService(t)

	f, err := svc.Download(context.Background(), "photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, "fake image content", string(f.Content))
	assert.Equal(t, "photo.jpg", f.Name)

	pdf, err := svc.Download(context.Background(), "document.pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pdf.ContentType)
}

func TestDownload_TraversalIsDenied(t *testing.T) {
	svc, hook := newTestFileService(t)

	for _, name := range []string{"../outside.txt", "../../../../etc/passwd", "sub/../../outside.txt", "/etc/passwd"} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Download(context.Background(), name)
			assert.ErrorIs(t, err, common.ErrAccessDenied)
		})
	}
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestDownload_MissingName(t *testing.T) {
	svc, _ := newTestFileService(t)

	_, err := svc.Download(context.Background(), "")
	assert.ErrorIs(t, err, common.ErrInvalidRequest)
}

func TestDownload_NotFound(t *testing.T) {
	svc, _ := newTestFileService(t)

	_, err := svc.Download(context.Background(), "nope.txt")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDownload_DirectoryIsNotListed(t *testing.T) {
	svc, _ := newTestFileService(t)

	for _, name := range []string{".", "sub", "sub/"} {
		_, err := svc.Download(context.Background(), name)
		assert.ErrorIs(t, err, common.ErrNotFound, name)
	}
}

func TestDownload_CancelledContext(t *testing.T) {
	svc, _ := newTestFileService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Download(ctx, "photo.jpg")
	assert.ErrorIs(t, err, context.Canceled)
}
