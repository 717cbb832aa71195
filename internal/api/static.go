package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Vir-8/callrelay/pkg/logger"
)

// StaticFileHandler serves the observer frontend from a directory on disk
type StaticFileHandler struct {
	rootDir    string
	fileServer http.Handler
	logger     *logger.Logger
}

// NewStaticFileHandler creates a new static file handler
func NewStaticFileHandler(rootDir string, logger *logger.Logger) *StaticFileHandler {
	return &StaticFileHandler{
		rootDir:    rootDir,
		fileServer: http.FileServer(http.Dir(rootDir)),
		logger:     logger.Named("static"),
	}
}

// ServeHTTP serves the requested file, falling back to index.html for paths
// that don't exist on disk
func (h *StaticFileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Reject path traversal attempts
	if strings.Contains(r.URL.Path, "..") {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	path := filepath.Join(h.rootDir, filepath.Clean("/"+r.URL.Path))
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		index := filepath.Join(h.rootDir, "index.html")
		if _, err := os.Stat(index); err == nil {
			http.ServeFile(w, r, index)
			return
		}
	}

	h.fileServer.ServeHTTP(w, r)
}
