package staticfile

import (
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/staticserve/internal/config"
	"example.com/staticserve/internal/logger"
)

func TestServeDirectory_ReadDirFailure(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "docs"), 0o755))

	var gotPath string
	prev := readDir
	readDir = func(name string) ([]fs.DirEntry, error) {
		gotPath = name
		return nil, errors.New("input/output error")
	}
	t.Cleanup(func() { readDir = prev })

	h, err := New(&config.StaticFileServerConfig{DocumentRoot: root}, logger.NewDiscardLogger())
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/docs", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "500 Internal Server Error", rr.Body.String())
	assert.Equal(t, "text/plain", rr.Header().Get("Content-Type"))
	assert.Equal(t, root+string(filepath.Separator)+"docs", gotPath)
}

func TestResolve(t *testing.T) {
	h := &Handler{root: "/srv/www"}
	assert.Equal(t, filepath.FromSlash("/srv/www/index.html"), h.resolve(""))
	assert.Equal(t, filepath.FromSlash("/srv/www/docs/"), h.resolve("docs/"))
	assert.Equal(t, filepath.FromSlash("/srv/www/a/../b.txt"), h.resolve("a/../b.txt"))

	slashRoot := &Handler{root: string(filepath.Separator)}
	assert.Equal(t, filepath.FromSlash("/file.txt"), slashRoot.resolve("file.txt"))
}
