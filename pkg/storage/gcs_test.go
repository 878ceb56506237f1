package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeObjectWriter commits on Close unless its context was cancelled first,
// which is how the GCS writer treats a resumable upload.
type fakeObjectWriter struct {
	ctx       context.Context
	buf       bytes.Buffer
	committed bool
	closed    bool
}

func (w *fakeObjectWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *fakeObjectWriter) Close() error {
	w.closed = true
	if err := w.ctx.Err(); err != nil {
		return err
	}
	w.committed = true
	return nil
}

type brokenBody struct{}

func (brokenBody) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestCommitObjectAbortsPartialUpload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &fakeObjectWriter{ctx: ctx}

	body := io.MultiReader(bytes.NewReader([]byte("half a recording")), brokenBody{})
	_, err := commitObject(w, cancel, body)

	require.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	require.True(t, w.closed)
	require.False(t, w.committed)
}

func TestCommitObjectCommitsCompleteUpload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &fakeObjectWriter{ctx: ctx}

	n, err := commitObject(w, cancel, bytes.NewReader([]byte("voice")))

	require.NoError(t, err)
	require.Equal(t, int64(5), n)
	require.True(t, w.committed)
	require.Equal(t, "voice", w.buf.String())
}
