package publicinbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/jjmerchante/perceval-publicinbox/internal/backend"
)

// gitenv pins the environment of every git subprocess so output parsing
// is locale-independent and no user or proxy configuration leaks in.
var gitenv = []string{
	"LANG=C",
	"PAGER=",
	"HTTP_PROXY=",
	"HTTPS_PROXY=",
	"NO_PROXY=",
	"HOME=",
}

// Repository wraps the git plumbing commands needed to read a
// public-inbox archive: one commit per message, the message itself in a
// blob named "m" at the tree root.
type Repository struct {
	uri     string
	dirpath string
	logger  *slog.Logger
}

// NewRepository opens the git repository at dirpath. The directory must
// already exist; a missing or unreadable path fails with ErrNotFound.
func NewRepository(uri, dirpath string, logger *slog.Logger) (*Repository, error) {
	info, err := os.Stat(dirpath)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("git repository %s: %w", dirpath, backend.ErrNotFound)
	}
	return &Repository{uri: uri, dirpath: dirpath, logger: logger}, nil
}

// URI returns the canonical location of the archive.
func (r *Repository) URI() string { return r.uri }

// DirPath returns the local path of the git repository.
func (r *Repository) DirPath() string { return r.dirpath }

// CommitHashes lists every commit reachable from HEAD, oldest first.
// An archive with no commits yet yields an empty list, not an error.
func (r *Repository) CommitHashes(ctx context.Context) ([]string, error) {
	out, err := r.git(ctx, "rev-list", "--reverse", "HEAD")
	if err != nil {
		if strings.Contains(err.Error(), "unknown revision") ||
			strings.Contains(err.Error(), "does not have any commits") {
			return nil, nil
		}
		return nil, err
	}

	var hashes []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			hashes = append(hashes, line)
		}
	}
	return hashes, nil
}

// LsTree resolves the blob hash of path within a commit. It returns an
// empty hash when the commit has no entry for path.
func (r *Repository) LsTree(ctx context.Context, commit, path string) (string, error) {
	out, err := r.git(ctx, "ls-tree", commit, "--", path)
	if err != nil {
		return "", err
	}

	// Output: "100644 blob <hash>\t<path>"
	line := strings.TrimSpace(out)
	if line == "" {
		return "", nil
	}
	parts := strings.Fields(line)
	if len(parts) < 3 || parts[1] != "blob" {
		return "", nil
	}
	return parts[2], nil
}

// CatFile returns the raw contents of a blob.
func (r *Repository) CatFile(ctx context.Context, blob string) ([]byte, error) {
	out, err := r.git(ctx, "cat-file", "blob", blob)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// git runs one git command inside the repository. Failures carry the
// first stderr line and are classified as transport errors.
func (r *Repository) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dirpath
	cmd.Env = gitenv

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("running git command", "args", args, "dir", r.dirpath)

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		if i := strings.IndexByte(msg, '\n'); i >= 0 {
			msg = msg[:i]
		}
		return "", fmt.Errorf("git command - %s: %w", msg, backend.ErrTransport)
	}
	return stdout.String(), nil
}
