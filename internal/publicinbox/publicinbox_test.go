package publicinbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjmerchante/perceval-publicinbox/internal/backend"
)

const testOrigin = "http://example.com"

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test",
		"GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test",
		"GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

func initRepo(t *testing.T) string {
	t.Helper()
	requireGit(t)
	dir := t.TempDir()
	runGit(t, dir, "init", "-q")
	return dir
}

// commitFile writes content under name and commits it with the given
// author/committer date, mimicking how public-inbox archives traffic.
func commitFile(t *testing.T, dir, name, content, date string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	runGit(t, dir, "add", name)

	cmd := exec.Command("git", "commit", "-q", "--allow-empty", "-m", "commit "+name)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test",
		"GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test",
		"GIT_COMMITTER_EMAIL=test@example.com",
		"GIT_AUTHOR_DATE="+date,
		"GIT_COMMITTER_DATE="+date,
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git commit: %s", out)
}

func rawMessage(msgID, date, body string) string {
	return fmt.Sprintf("Date: %s\r\n"+
		"From: User Name <user@example.com>\r\n"+
		"To: List <list@example.com>\r\n"+
		"Subject: test message\r\n"+
		"Message-ID: %s\r\n"+
		"\r\n"+
		"%s\r\n", date, msgID, body)
}

// seedArchive commits three well-formed messages in arrival order and
// returns the repo path. Epochs: 1268659309, 1268659617, 1268659835.
func seedArchive(t *testing.T) string {
	t.Helper()
	dir := initRepo(t)
	commitFile(t, dir, "m",
		rawMessage("<20100315132149.GA21127@domain3.com>", "Mon, 15 Mar 2010 09:21:49 -0400", "first body"),
		"2010-03-15T13:21:49Z")
	commitFile(t, dir, "m",
		rawMessage("<4B9E35A1.9080609@domain3>", "Mon, 15 Mar 2010 13:26:57 +0000", "second body"),
		"2010-03-15T13:26:57Z")
	commitFile(t, dir, "m",
		rawMessage("<randommessageid@domain4.com>", "Mon, 15 Mar 2010 13:30:35 +0000", "third body"),
		"2010-03-15T13:30:35Z")
	return dir
}

func collect(t *testing.T, it backend.Iterator) []backend.Item {
	t.Helper()
	var items []backend.Item
	for it.Next() {
		items = append(items, it.Item())
	}
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())
	return items
}

func TestNew(t *testing.T) {
	dir := seedArchive(t)

	b, err := New(testOrigin, dir, "test", testLogger)
	require.NoError(t, err)
	assert.Equal(t, "publicinbox", b.Name())
	assert.Equal(t, testOrigin, b.Origin())
	assert.Equal(t, "test", b.Tag())

	// Tag falls back to the origin.
	b, err = New(testOrigin, dir, "", testLogger)
	require.NoError(t, err)
	assert.Equal(t, testOrigin, b.Tag())
}

func TestNewMissingRepository(t *testing.T) {
	_, err := New(testOrigin, "/does/not/exist", "", testLogger)
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrNotFound))
}

func TestFetchAll(t *testing.T) {
	dir := seedArchive(t)
	b, err := New(testOrigin, dir, "", testLogger)
	require.NoError(t, err)

	it, err := b.Fetch(context.Background(), backend.Query{})
	require.NoError(t, err)
	items := collect(t, it)

	expected := []struct {
		msgID     string
		uuid      string
		updatedOn float64
	}{
		{"<20100315132149.GA21127@domain3.com>", "bb97b4295fa407bbac478fc137e72c2bd6c71058", 1268659309},
		{"<4B9E35A1.9080609@domain3>", "a1733376f8a29d3ab148bc6b8da4307f8b17fb32", 1268659617},
		{"<randommessageid@domain4.com>", "84b2458ae5480defe2d5c83bc5921988b7106df2", 1268659835},
	}

	require.Len(t, items, len(expected))
	for i, want := range expected {
		item := items[i]
		assert.Equal(t, "PublicInbox", item.BackendName)
		assert.Equal(t, testOrigin, item.Origin)
		assert.Equal(t, want.uuid, item.UUID)
		assert.Equal(t, want.updatedOn, item.UpdatedOn)
		assert.Equal(t, "message", item.Category)
		assert.Equal(t, testOrigin, item.Tag)
		assert.Equal(t, want.msgID, item.Data["Message-ID"])
		assert.Equal(t, want.msgID, item.SearchFields["item_id"])
	}
	assert.Equal(t, 0, it.Skipped())
}

func TestFetchOrdering(t *testing.T) {
	dir := seedArchive(t)
	b, err := New(testOrigin, dir, "", testLogger)
	require.NoError(t, err)

	it, err := b.Fetch(context.Background(), backend.Query{})
	require.NoError(t, err)
	items := collect(t, it)

	for i := 1; i < len(items); i++ {
		assert.LessOrEqual(t, items[i-1].UpdatedOn, items[i].UpdatedOn)
	}
}

func TestFetchResumeFromCheckpoint(t *testing.T) {
	dir := seedArchive(t)
	b, err := New(testOrigin, dir, "", testLogger)
	require.NoError(t, err)

	// Resume at the exact date of the first record: only strictly
	// later records come back, no duplicates and no gaps.
	from := time.Unix(1268659309, 0).UTC()
	it, err := b.Fetch(context.Background(), backend.Query{FromDate: from})
	require.NoError(t, err)
	items := collect(t, it)

	require.Len(t, items, 2)
	assert.Equal(t, "<4B9E35A1.9080609@domain3>", items[0].Data["Message-ID"])
	assert.Equal(t, "<randommessageid@domain4.com>", items[1].Data["Message-ID"])
}

func TestFetchToDate(t *testing.T) {
	dir := seedArchive(t)
	b, err := New(testOrigin, dir, "", testLogger)
	require.NoError(t, err)

	to := time.Date(2010, 3, 15, 13, 25, 0, 0, time.UTC)
	it, err := b.Fetch(context.Background(), backend.Query{ToDate: to})
	require.NoError(t, err)
	items := collect(t, it)

	require.Len(t, items, 1)
	assert.Equal(t, "<20100315132149.GA21127@domain3.com>", items[0].Data["Message-ID"])
}

func TestFetchIdempotent(t *testing.T) {
	dir := seedArchive(t)
	b, err := New(testOrigin, dir, "", testLogger)
	require.NoError(t, err)

	q := backend.Query{FromDate: time.Unix(1268659309, 0).UTC()}

	first, err := b.Fetch(context.Background(), q)
	require.NoError(t, err)
	second, err := b.Fetch(context.Background(), q)
	require.NoError(t, err)

	a := collect(t, first)
	c := collect(t, second)

	require.Equal(t, len(a), len(c))
	for i := range a {
		assert.Equal(t, a[i].UUID, c[i].UUID)
		assert.Equal(t, a[i].UpdatedOn, c[i].UpdatedOn)
	}
}

func TestFetchSkipsMalformed(t *testing.T) {
	dir := initRepo(t)
	commitFile(t, dir, "m",
		rawMessage("<first@example.com>", "Mon, 15 Mar 2010 13:21:49 +0000", "ok"),
		"2010-03-15T13:21:49Z")
	commitFile(t, dir, "m", "this is not a mail message", "2010-03-15T13:26:57Z")
	commitFile(t, dir, "m",
		rawMessage("<third@example.com>", "Mon, 15 Mar 2010 13:30:35 +0000", "ok too"),
		"2010-03-15T13:30:35Z")

	b, err := New(testOrigin, dir, "", testLogger)
	require.NoError(t, err)

	it, err := b.Fetch(context.Background(), backend.Query{})
	require.NoError(t, err)
	items := collect(t, it)

	require.Len(t, items, 2)
	assert.Equal(t, "<first@example.com>", items[0].Data["Message-ID"])
	assert.Equal(t, "<third@example.com>", items[1].Data["Message-ID"])
	assert.Equal(t, 1, it.Skipped())
}

func TestFetchSkipsMessageWithoutDate(t *testing.T) {
	dir := initRepo(t)
	commitFile(t, dir, "m",
		"From: user@example.com\r\nMessage-ID: <nodate@example.com>\r\n\r\nbody\r\n",
		"2010-03-15T13:21:49Z")

	b, err := New(testOrigin, dir, "", testLogger)
	require.NoError(t, err)

	it, err := b.Fetch(context.Background(), backend.Query{})
	require.NoError(t, err)
	items := collect(t, it)

	assert.Empty(t, items)
	assert.Equal(t, 1, it.Skipped())
}

func TestFetchIgnoresCommitsWithoutMessage(t *testing.T) {
	dir := initRepo(t)
	commitFile(t, dir, "m",
		rawMessage("<only@example.com>", "Mon, 15 Mar 2010 13:21:49 +0000", "body"),
		"2010-03-15T13:21:49Z")
	// Deletion commit: the message moves from "m" to "d".
	runGit(t, dir, "mv", "m", "d")
	commitFile(t, dir, "d", "deleted marker", "2010-03-15T13:26:57Z")

	b, err := New(testOrigin, dir, "", testLogger)
	require.NoError(t, err)

	it, err := b.Fetch(context.Background(), backend.Query{})
	require.NoError(t, err)
	items := collect(t, it)

	require.Len(t, items, 1)
	assert.Equal(t, "<only@example.com>", items[0].Data["Message-ID"])
	assert.Equal(t, 0, it.Skipped())
}

func TestFetchEmptyArchive(t *testing.T) {
	dir := initRepo(t)

	b, err := New(testOrigin, dir, "", testLogger)
	require.NoError(t, err)

	it, err := b.Fetch(context.Background(), backend.Query{})
	require.NoError(t, err)
	items := collect(t, it)

	assert.Empty(t, items)
	assert.Equal(t, 0, it.Skipped())
}

func TestFetchCancelledContext(t *testing.T) {
	dir := seedArchive(t)
	b, err := New(testOrigin, dir, "", testLogger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	it, err := b.Fetch(ctx, backend.Query{})
	require.NoError(t, err)
	cancel()

	assert.False(t, it.Next())
	assert.Error(t, it.Err())
}

func TestRepositoryLsTreeBadObject(t *testing.T) {
	dir := seedArchive(t)
	repo, err := NewRepository(testOrigin, dir, testLogger)
	require.NoError(t, err)

	_, err = repo.LsTree(context.Background(), "aaa", "m")
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrTransport))
	assert.True(t, strings.HasPrefix(err.Error(), "git command - "))
}

func TestRepositoryCatFileRoundTrip(t *testing.T) {
	dir := initRepo(t)
	raw := rawMessage("<roundtrip@example.com>", "Mon, 15 Mar 2010 13:21:49 +0000", "body text")
	commitFile(t, dir, "m", raw, "2010-03-15T13:21:49Z")

	repo, err := NewRepository(testOrigin, dir, testLogger)
	require.NoError(t, err)

	hashes, err := repo.CommitHashes(context.Background())
	require.NoError(t, err)
	require.Len(t, hashes, 1)

	blob, err := repo.LsTree(context.Background(), hashes[0], "m")
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	got, err := repo.CatFile(context.Background(), blob)
	require.NoError(t, err)
	assert.Equal(t, raw, string(got))
}
