package contentserver

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	apperrors "github.com/pseudocoder/livereload/internal/errors"
	"github.com/pseudocoder/livereload/internal/logging"
)

// chunkSize is the size of each flushed body write.
const chunkSize = 8 * 1024

// responseWriter records whether the status line has gone out.
type responseWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(code int) {
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(p []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(p)
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func setNoCacheHeaders(h http.Header) {
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	setNoCacheHeaders(w.Header())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	rw := &responseWriter{ResponseWriter: w}
	target := requestTarget(r.URL.Path)

	defer func() {
		if rec := recover(); rec != nil {
			s.fail(rw, target, apperrors.ServerFault(fmt.Sprint(rec), nil))
		}
	}()

	ctx := s.current()
	logging.Debugf("contentserver: serving %s", target)

	full, err := resolvePath(ctx.root, target)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodePathTraversalRejected) {
			logging.Warnf("contentserver: blocked suspicious path %q from %s", r.URL.Path, r.RemoteAddr)
		}
		s.notFound(rw, target, ctx)
		return
	}

	file, ok, err := statTarget(full)
	if err != nil {
		s.fail(rw, target, err)
		return
	}
	if !ok {
		s.notFound(rw, target, ctx)
		return
	}

	body, err := os.ReadFile(file)
	if err != nil {
		if notFound(err) {
			s.notFound(rw, target, ctx)
			return
		}
		s.fail(rw, target, err)
		return
	}

	if isHTML(file) {
		script, err := RenderScript(ctx.wsPort, ctx.script)
		if err != nil {
			s.fail(rw, target, err)
			return
		}
		body = []byte(InjectScript(string(body), script))
	}

	h := rw.Header()
	setNoCacheHeaders(h)
	h.Set("Content-Type", ContentType(file))
	h.Set("Content-Length", strconv.Itoa(len(body)))
	rw.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if err := writeChunks(rw, body); err != nil {
		s.fail(rw, target, err)
		return
	}
	logging.Debugf("contentserver: served %s (%d bytes)", target, len(body))
}

// notFound answers a missing file. Navigational requests get a placeholder
// page carrying the client script, so creating the file reloads the tab.
func (s *Server) notFound(rw *responseWriter, target string, ctx requestContext) {
	h := rw.Header()
	setNoCacheHeaders(h)

	if strings.HasSuffix(strings.ToLower(target), ".html") {
		logging.Warnf("contentserver: page %s not found, serving placeholder", target)
		page := placeholderHTML(target)
		if script, err := RenderScript(ctx.wsPort, ctx.script); err == nil {
			page = InjectScript(page, script)
		}
		s.writeStatus(rw, target, http.StatusNotFound, "text/html; charset=utf-8", []byte(page))
		return
	}

	logging.Warnf("contentserver: file not found: %s", target)
	s.writeStatus(rw, target, http.StatusNotFound, "text/plain; charset=utf-8", []byte("File not found: "+target))
}

func (s *Server) writeStatus(rw *responseWriter, target string, code int, contentType string, body []byte) {
	h := rw.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	rw.WriteHeader(code)
	if err := writeChunks(rw, body); err != nil {
		s.fail(rw, target, err)
	}
}

// fail handles an error raised while serving target. Client disconnects are
// expected and only logged at debug level. Anything else is logged and, if
// nothing has been sent yet, answered with a plain-text 500.
func (s *Server) fail(rw *responseWriter, target string, err error) {
	if apperrors.IsClientDisconnect(err) {
		logging.Debugf("contentserver: client disconnected while serving %s: %v", target, err)
		return
	}

	logging.Errorf("contentserver: unexpected error serving %s: %v", target, err)
	if rw.wroteHeader {
		return
	}

	body := []byte("Server error: " + apperrors.GetMessage(err))
	h := rw.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	rw.WriteHeader(http.StatusInternalServerError)
	if _, werr := rw.Write(body); werr != nil {
		logging.Debugf("contentserver: could not send error response: %v", werr)
	}
}

// writeChunks writes body in chunkSize pieces, flushing after each so a
// vanished client surfaces as a write error promptly.
func writeChunks(w http.ResponseWriter, body []byte) error {
	rc := http.NewResponseController(w)
	for off := 0; off < len(body); off += chunkSize {
		end := off + chunkSize
		if end > len(body) {
			end = len(body)
		}
		if _, err := w.Write(body[off:end]); err != nil {
			return err
		}
		if err := rc.Flush(); err != nil && !isFlushUnsupported(err) {
			return err
		}
	}
	return nil
}

func isFlushUnsupported(err error) bool {
	return errors.Is(err, http.ErrNotSupported)
}
