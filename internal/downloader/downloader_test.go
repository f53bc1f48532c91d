package downloader

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go-comfy-model-manager/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadFile(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 64*1024) // 512 KiB
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="model.safetensors"`)
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(srv.Client(), "")

	var calls []int64
	var lastTotal int64
	finalPath, err := d.DownloadFile(context.Background(), srv.URL+"/download/123", dir, models.Hashes{}, func(soFar, total int64) {
		calls = append(calls, soFar)
		lastTotal = total
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "model.safetensors"), finalPath)
	data, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	require.NotEmpty(t, calls, "progress must be reported")
	for i := 1; i < len(calls); i++ {
		assert.GreaterOrEqual(t, calls[i], calls[i-1], "progress must be monotonic")
	}
	assert.Equal(t, int64(len(payload)), calls[len(calls)-1], "final call reports the full byte count")
	assert.Equal(t, int64(len(payload)), lastTotal)

	// No stray temp files.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDownloadFileNameFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(srv.Client(), "")

	finalPath, err := d.DownloadFile(context.Background(), srv.URL+"/files/thing.ckpt?token=x", dir, models.Hashes{}, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "thing.ckpt"), finalPath)
}

func TestDownloadFileSkipsExisting(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte("fresh content"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	existing := filepath.Join(dir, "thing.ckpt")
	require.NoError(t, os.WriteFile(existing, []byte("old content"), 0600))

	d := NewDownloader(srv.Client(), "")
	finalPath, err := d.DownloadFile(context.Background(), srv.URL+"/thing.ckpt", dir, models.Hashes{}, nil)
	require.NoError(t, err)
	assert.Equal(t, existing, finalPath)

	data, _ := os.ReadFile(existing)
	assert.Equal(t, []byte("old content"), data, "existing file kept when no hashes provided")
}

func TestDownloadFileRedownloadsOnHashMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fresh content"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	existing := filepath.Join(dir, "thing.ckpt")
	require.NoError(t, os.WriteFile(existing, []byte("stale"), 0600))

	d := NewDownloader(srv.Client(), "")
	finalPath, err := d.DownloadFile(context.Background(), srv.URL+"/thing.ckpt", dir,
		models.Hashes{SHA256: "0000000000000000000000000000000000000000000000000000000000000000"}, nil)
	require.NoError(t, err)

	data, _ := os.ReadFile(finalPath)
	assert.Equal(t, []byte("fresh content"), data)
}

func TestDownloadFileCancellation(t *testing.T) {
	// Stream slowly so the client has time to cancel between chunks.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10485760")
		flusher := w.(http.Flusher)
		chunk := bytes.Repeat([]byte("x"), 64*1024)
		for i := 0; i < 160; i++ {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			flusher.Flush()
			time.Sleep(10 * time.Millisecond)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(srv.Client(), "")

	ctx, cancel := context.WithCancel(context.Background())
	progressed := make(chan struct{})
	var once bool

	errCh := make(chan error, 1)
	go func() {
		_, err := d.DownloadFile(ctx, srv.URL+"/big.bin", dir, models.Hashes{}, func(soFar, total int64) {
			if !once {
				once = true
				close(progressed)
			}
		})
		errCh <- err
	}()

	select {
	case <-progressed:
	case <-time.After(5 * time.Second):
		t.Fatal("no progress before timeout")
	}
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("download did not stop after cancel")
	}

	// The final file must not exist; a leftover temp file is acceptable.
	_, err := os.Stat(filepath.Join(dir, "big.bin"))
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadFileHttpError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDownloader(srv.Client(), "")
	_, err := d.DownloadFile(context.Background(), srv.URL+"/x.bin", t.TempDir(), models.Hashes{}, nil)
	assert.ErrorIs(t, err, ErrHttpStatus)
}

func TestDownloadImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "preview.png")
	d := NewDownloader(srv.Client(), "tok")
	require.NoError(t, d.DownloadImage(context.Background(), srv.URL+"/preview.png", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)
}

func TestDownloadImageStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDownloader(srv.Client(), "")
	err := d.DownloadImage(context.Background(), srv.URL+"/missing.png", filepath.Join(t.TempDir(), "x.png"))
	assert.ErrorIs(t, err, ErrHttpStatus)
}

func TestImageFilename(t *testing.T) {
	assert.Equal(t, "abc.png", ImageFilename("https://host/path/abc.png"))
	assert.Equal(t, "abc.png", ImageFilename("https://host/path/abc.png?width=450"))
	assert.Equal(t, "clip.mp4", ImageFilename("https://host/videos/clip.mp4"))
}
