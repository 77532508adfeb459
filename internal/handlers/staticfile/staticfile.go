// Package staticfile serves files and directory listings from a document root.
package staticfile

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"example.com/staticserve/internal/config"
	"example.com/staticserve/internal/logger"
	"example.com/staticserve/internal/server"
)

const (
	handlerName = "StaticFileServer"

	// IndexFile is served for the site root.
	IndexFile = "index.html"

	listingContentType = "text/html"
)

// readDir enumerates a directory; tests replace it to force failures.
var readDir = os.ReadDir

// entryKind is the outcome of classifying a resolved path.
type entryKind int

const (
	// kindFile covers regular files and anything that cannot be stat'ed;
	// the read decides between 200 and 404.
	kindFile entryKind = iota
	kindDirectory
)

// Handler serves the contents of a fixed document root. It holds no mutable
// state and is safe for concurrent use.
type Handler struct {
	root      string
	mime      *MimeTypeResolver
	showSizes bool
	log       *logger.Logger
}

// New creates a Handler for sfsConfig. DocumentRoot should already be
// resolved (see config.ResolveStaticFileServerConfig).
func New(sfsConfig *config.StaticFileServerConfig, lg *logger.Logger) (*Handler, error) {
	if lg == nil {
		lg = logger.NewDiscardLogger()
	}
	if sfsConfig == nil {
		return nil, fmt.Errorf("%s: configuration cannot be nil", handlerName)
	}
	if sfsConfig.DocumentRoot == "" {
		return nil, fmt.Errorf("%s: document root cannot be empty", handlerName)
	}

	resolver, err := NewMimeTypeResolver(sfsConfig)
	if err != nil {
		lg.Error("Failed to initialise MIME type resolver", logger.LogFields{
			"handler": handlerName,
			"error":   err.Error(),
		})
		return nil, fmt.Errorf("%s: %w", handlerName, err)
	}

	return &Handler{
		root:      sfsConfig.DocumentRoot,
		mime:      resolver,
		showSizes: sfsConfig.ShowFileSizes != nil && *sfsConfig.ShowFileSizes,
		log:       lg,
	}, nil
}

// Root returns the document root the handler serves from.
func (h *Handler) Root() string { return h.root }

// ServeHTTP implements http.Handler. The request method is not inspected.
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	urlPath := strings.TrimPrefix(req.URL.Path, "/")
	fsPath := h.resolve(urlPath)

	switch classify(fsPath) {
	case kindDirectory:
		h.serveDirectory(w, fsPath, urlPath)
	default:
		h.serveFile(w, fsPath)
	}
}

// resolve appends the stripped URL path to the root without cleaning it, so
// trailing slashes and ".." segments reach the filesystem as sent. Paths are
// not confined to the root.
func (h *Handler) resolve(urlPath string) string {
	segment := urlPath
	if segment == "" {
		segment = IndexFile
	}
	root := h.root
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	return root + filepath.FromSlash(segment)
}

func classify(fsPath string) entryKind {
	fi, err := os.Stat(fsPath)
	if err == nil && fi.IsDir() {
		return kindDirectory
	}
	return kindFile
}

func (h *Handler) serveFile(w http.ResponseWriter, fsPath string) {
	data, err := os.ReadFile(fsPath)
	if err != nil {
		fields := logger.LogFields{"path": fsPath, "error": err.Error()}
		if !errors.Is(err, os.ErrNotExist) {
			h.log.Warn("Failed to read file", fields)
		} else {
			h.log.Debug("File not found", fields)
		}
		h.writeError(w, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", h.mime.GetMimeType(fsPath))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.log.Debug("Failed to write file body", logger.LogFields{"path": fsPath, "error": err.Error()})
	}
}

func (h *Handler) serveDirectory(w http.ResponseWriter, fsPath, urlPath string) {
	entries, err := readDir(fsPath)
	if err != nil {
		h.log.Error("Failed to read directory", logger.LogFields{"path": fsPath, "error": err.Error()})
		h.writeError(w, http.StatusInternalServerError)
		return
	}

	body := generateDirectoryListing(urlPath, entries, h.showSizes)
	w.Header().Set("Content-Type", listingContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.log.Debug("Failed to write directory listing", logger.LogFields{"path": fsPath, "error": err.Error()})
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int) {
	if err := server.WriteErrorResponse(w, status, h.log); err != nil {
		h.log.Debug("Failed to write error response", logger.LogFields{"status": status, "error": err.Error()})
	}
}
