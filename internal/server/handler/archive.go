package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// BlobSource lists and opens archived objects. It is implemented by the
// s3 reader.
type BlobSource interface {
	List(ctx context.Context, prefix string) ([]domain.BlobInfo, error)
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}

// ArchiveHandler lists archive files in object storage.
type ArchiveHandler struct {
	blobs  BlobSource
	logger *slog.Logger
}

func NewArchiveHandler(blobs BlobSource, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logger}
}

const archiveRoot = "archive/"

var archiveKinds = map[string]bool{"trades": true, "token_outcomes": true}

type archiveFile struct {
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified,omitempty"`
}

// ListArchives lists archive files, optionally for one kind.
// GET /api/archives?kind=trades
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := archiveRoot
	if kind := r.URL.Query().Get("kind"); kind != "" {
		if !archiveKinds[kind] {
			writeError(w, http.StatusBadRequest, "kind must be trades or token_outcomes")
			return
		}
		prefix += kind + "/"
	}

	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to list archives")
		return
	}

	files := make([]archiveFile, 0, len(infos))
	for _, info := range infos {
		f := archiveFile{Path: info.Path, Size: info.Size}
		if !info.LastModified.IsZero() {
			f.LastModified = info.LastModified.UTC().Format("2006-01-02T15:04:05Z")
		}
		files = append(files, f)
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// GetArchive streams one archive file as JSONL.
// GET /api/archives/file?path=archive/trades/2026-10/20261014T000000Z.jsonl
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	key, ok := archiveKey(r.URL.Query().Get("path"))
	if !ok {
		writeError(w, http.StatusBadRequest, "path must name a file under archive/")
		return
	}

	body, err := h.blobs.Get(r.Context(), key)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "archive not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get archive failed",
			slog.String("path", key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to fetch archive")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted",
			slog.String("path", key),
			slog.String("error", err.Error()),
		)
	}
}

// archiveKey cleans p and accepts it only inside a known archive kind.
func archiveKey(p string) (string, bool) {
	if p == "" || strings.Contains(p, "..") {
		return "", false
	}
	clean := path.Clean(p)
	rest, ok := strings.CutPrefix(clean, archiveRoot)
	if !ok {
		return "", false
	}
	kind, file, ok := strings.Cut(rest, "/")
	if !ok || !archiveKinds[kind] || file == "" {
		return "", false
	}
	return clean, true
}
