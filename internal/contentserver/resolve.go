package contentserver

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	apperrors "github.com/pseudocoder/livereload/internal/errors"
)

const indexFile = "index.html"

// requestTarget maps a decoded URL path to the project-relative file it
// names: "/" and "" become index.html, backslashes count as separators.
func requestTarget(decoded string) string {
	p := strings.ReplaceAll(decoded, "\\", "/")
	if strings.Trim(p, "/") == "" {
		return "/" + indexFile
	}
	return p
}

// resolvePath returns the absolute file under root named by the slash path
// target. Any ".." segment, NUL byte or symlink escape is rejected with
// path.traversal_rejected; the caller answers those with 404.
func resolvePath(root, target string) (string, error) {
	if root == "" {
		return "", apperrors.ServiceNotRunning()
	}
	if strings.ContainsRune(target, 0) {
		return "", apperrors.PathTraversalRejected(target)
	}

	segments := make([]string, 0, 8)
	for _, seg := range strings.Split(target, "/") {
		switch strings.TrimSpace(seg) {
		case "", ".":
			continue
		case "..":
			return "", apperrors.PathTraversalRejected(target)
		}
		segments = append(segments, seg)
	}
	if len(segments) == 0 {
		segments = append(segments, indexFile)
	}

	full := filepath.Join(append([]string{root}, segments...)...)
	if !within(root, full) {
		return "", apperrors.PathTraversalRejected(target)
	}

	// Symlinks may point anywhere; only follow them if they stay in the root.
	if real, err := filepath.EvalSymlinks(full); err == nil {
		realRoot, rootErr := filepath.EvalSymlinks(root)
		if rootErr != nil {
			realRoot = root
		}
		if !within(realRoot, real) {
			return "", apperrors.PathTraversalRejected(target)
		}
	}
	return full, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// statTarget returns the file to serve for full, falling back to the
// directory's index.html. ok is false if nothing servable exists.
func statTarget(full string) (string, bool, error) {
	info, err := os.Stat(full)
	if err != nil {
		if notFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	if !info.IsDir() {
		return full, true, nil
	}

	index := filepath.Join(full, indexFile)
	info, err = os.Stat(index)
	if err != nil {
		if notFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	if info.IsDir() {
		return "", false, nil
	}
	return index, true, nil
}

// notFound treats a missing file and a file used as a directory alike.
func notFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
