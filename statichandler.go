package gitgw

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/inconshreveable/log15"
)

func init() {
	// Pack index and pack data are the only repository files whose type
	// cannot be derived from the stock extension table.
	_ = mime.AddExtensionType(".idx", "application/x-git-packed-objects-toc")
	_ = mime.AddExtensionType(".pack", "application/x-git-packed-objects")
}

// staticHandler serves the dumb git HTTP protocol: loose objects, packfiles,
// refs and HEAD are read straight off the filesystem, with conditional-GET
// validators derived from the file's mtime. It is the catch-all route, so it
// sees every GET/HEAD that the smart endpoints did not claim.
type staticHandler struct {
	config Config
	auth   AuthorizationCallback
	log    log15.Logger
}

func (h *staticHandler) ServeGit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := requestLogger(ctx, h.log)

	filePath, err := ResolvePath(h.config.RootPath, Captures(r)["working_path"], h.config.ResolveSymlinks)
	if err != nil {
		EmitCanned(w, ErrorToCanned(err), nil)
		return
	}

	level := h.auth(ctx, w, r, filePath, OperationBrowse)
	if level == AuthorizationDenied {
		return
	}

	info, err := os.Stat(filePath)
	if err != nil || !info.Mode().IsRegular() {
		EmitCanned(w, StatusNotFound, nil)
		return
	}

	modTime := info.ModTime()
	etag := fmt.Sprintf("\"%x\"", modTime.UnixNano())
	lastModified := modTime.UTC().Format(http.TimeFormat)

	validators := map[string]string{
		"ETag":          etag,
		"Last-Modified": lastModified,
	}
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		if inm == "*" || strings.Contains(inm, etag) {
			EmitCanned(w, StatusNotModified, validators)
			return
		}
	} else if ims := r.Header.Get("If-Modified-Since"); ims != "" {
		// HTTP dates have one-second resolution, so the comparison has to
		// drop the sub-second part of the filesystem mtime.
		if since, err := http.ParseTime(ims); err == nil && !modTime.Truncate(time.Second).After(since) {
			EmitCanned(w, StatusNotModified, validators)
			return
		}
	}

	f, err := os.Open(filePath)
	if err != nil {
		EmitCanned(w, StatusNotFound, nil)
		return
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(filePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", lastModified)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	w.WriteHeader(http.StatusOK)

	buf := make([]byte, h.config.BufferSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				log.Warn("static read failed", "path", filePath, "err", readErr)
			}
			return
		}
	}
}
