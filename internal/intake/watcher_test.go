package intake

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonlabs/extractd/internal/logging"
	"github.com/halcyonlabs/extractd/internal/pipeline"
)

func newTestWatcher(t *testing.T, opts Options) *Watcher {
	t.Helper()
	w, err := NewWatcher(opts, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(w.Stop)
	return w
}

func waitForDocument(t *testing.T, w *Watcher) pipeline.Document {
	t.Helper()
	select {
	case doc := <-w.Documents():
		return doc
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for document")
		return pipeline.Document{}
	}
}

func TestWatcher_PicksUpNewFile(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, Options{Dir: dir, SettleDelay: 50 * time.Millisecond})
	require.NoError(t, w.Start(context.Background()))

	path := filepath.Join(dir, "invoice.txt")
	require.NoError(t, os.WriteFile(path, []byte("invoice body"), 0o600))

	doc := waitForDocument(t, w)
	assert.Equal(t, "invoice.txt", doc.Name)
	assert.Equal(t, "invoice body", doc.Text)
}

func TestWatcher_PicksUpPreexistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.txt"), []byte("already here"), 0o600))

	w := newTestWatcher(t, Options{Dir: dir, SettleDelay: 50 * time.Millisecond})
	require.NoError(t, w.Start(context.Background()))

	doc := waitForDocument(t, w)
	assert.Equal(t, "old.txt", doc.Name)
}

func TestWatcher_FiltersByExtension(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, Options{
		Dir:         dir,
		Extensions:  []string{".txt"},
		SettleDelay: 50 * time.Millisecond,
	})
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.bin"), []byte{0x1}, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "take.txt"), []byte("text"), 0o600))

	doc := waitForDocument(t, w)
	assert.Equal(t, "take.txt", doc.Name)

	select {
	case doc := <-w.Documents():
		t.Fatalf("unexpected document %q", doc.Name)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_RemovedFileNotEmitted(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, Options{Dir: dir, SettleDelay: 300 * time.Millisecond})
	require.NoError(t, w.Start(context.Background()))

	path := filepath.Join(dir, "gone.txt")
	require.NoError(t, os.WriteFile(path, []byte("temp"), 0o600))
	require.NoError(t, os.Remove(path))

	select {
	case doc := <-w.Documents():
		t.Fatalf("unexpected document %q", doc.Name)
	case <-time.After(600 * time.Millisecond):
	}
}

func TestNewWatcher_Validation(t *testing.T) {
	_, err := NewWatcher(Options{Dir: "", SettleDelay: time.Second}, nil)
	assert.Error(t, err)

	_, err = NewWatcher(Options{Dir: t.TempDir(), SettleDelay: 0}, nil)
	assert.Error(t, err)

	_, err = NewWatcher(Options{Dir: filepath.Join(t.TempDir(), "missing"), SettleDelay: time.Second}, nil)
	assert.Error(t, err)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := newTestWatcher(t, Options{Dir: t.TempDir(), SettleDelay: time.Second})
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}
