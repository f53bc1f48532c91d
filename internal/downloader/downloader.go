package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"go-comfy-model-manager/internal/helpers"
	"go-comfy-model-manager/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom Downloader Errors
var (
	ErrCancelled   = errors.New("download cancelled")
	ErrDiskFull    = errors.New("no space left on device")
	ErrHttpStatus  = errors.New("unexpected HTTP status code")
	ErrHttpRequest = errors.New("HTTP request creation/execution error")
	ErrFileSystem  = errors.New("filesystem error")
)

// imageTimeout bounds a single preview-image GET.
const imageTimeout = 15 * time.Second

// chunkSize is the streaming copy buffer; cancellation is observed between
// chunks.
const chunkSize = 64 * 1024

// ProgressFunc receives streaming progress. totalBytes is 0 while the size is
// unknown (no Content-Length); the final call then reports the bytes written
// as the total.
type ProgressFunc func(bytesSoFar, totalBytes int64)

// Downloader streams files to disk. One instance is shared by all workers;
// it holds no per-download state.
type Downloader struct {
	client      *http.Client
	imageClient *http.Client
	apiKey      string
}

// NewDownloader creates a Downloader. A nil client gets a default without a
// total timeout (model files can take hours).
func NewDownloader(client *http.Client, apiKey string) *Downloader {
	if client == nil {
		client = &http.Client{}
	}
	return &Downloader{
		client:      client,
		imageClient: &http.Client{Timeout: imageTimeout, Transport: client.Transport},
		apiKey:      apiKey,
	}
}

// DownloadFile streams url into destDir. The filename comes from the
// Content-Disposition header when present, otherwise from the URL path. If
// the destination file already exists it is kept — when the remote supplied
// hashes they are verified first and a mismatch forces a re-download.
//
// Progress callbacks are monotonic and the final call reports the full byte
// count. Cancellation via ctx is observed between chunks and surfaces as
// ErrCancelled. Returns the final file path.
func (d *Downloader) DownloadFile(ctx context.Context, fileURL, destDir string, hashes models.Hashes, onProgress ProgressFunc) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: creating download request for %s: %v", ErrHttpRequest, fileURL, err)
	}
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ErrCancelled
		}
		return "", fmt.Errorf("%w: performing request for %s: %v", ErrHttpRequest, fileURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: received status %d from %s", ErrHttpStatus, resp.StatusCode, fileURL)
	}

	finalPath := filepath.Join(destDir, filenameFromResponse(resp, fileURL))

	if _, statErr := os.Stat(finalPath); statErr == nil {
		if hashes.BLAKE3 == "" && hashes.SHA256 == "" {
			log.Infof("File already exists: %s", finalPath)
			return finalPath, nil
		}
		if helpers.CheckHash(finalPath, hashes) {
			log.Infof("Existing file verified by hash, skipping download: %s", finalPath)
			return finalPath, nil
		}
		log.Warnf("Existing file %s failed hash check, re-downloading", finalPath)
	}

	if !helpers.CheckAndMakeDir(destDir) {
		return "", fmt.Errorf("%w: failed to create target directory %s", ErrFileSystem, destDir)
	}

	tempFile, err := os.CreateTemp(destDir, filepath.Base(finalPath)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: creating temporary file in %s: %v", ErrFileSystem, destDir, err)
	}
	cleanupTemp := true
	defer func() {
		if cleanupTemp {
			tempFile.Close()
			if removeErr := os.Remove(tempFile.Name()); removeErr != nil && !os.IsNotExist(removeErr) {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s", tempFile.Name())
			}
		}
	}()

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	log.Infof("Downloading %s (%s) to %s", fileURL, helpers.BytesToSize(uint64(total)), finalPath)

	if err := d.copyWithProgress(ctx, tempFile, resp.Body, total, onProgress); err != nil {
		return "", err
	}

	if err := tempFile.Close(); err != nil {
		return "", fmt.Errorf("%w: closing temp file %s: %v", ErrFileSystem, tempFile.Name(), err)
	}
	if err := os.Rename(tempFile.Name(), finalPath); err != nil {
		return "", fmt.Errorf("%w: renaming %s to %s: %v", ErrFileSystem, tempFile.Name(), finalPath, err)
	}
	cleanupTemp = false

	log.Infof("Successfully downloaded %s", finalPath)
	return finalPath, nil
}

// copyWithProgress streams body into w, reporting progress at byte
// intervals and observing cancellation between chunks.
func (d *Downloader) copyWithProgress(ctx context.Context, w io.Writer, body io.Reader, total int64, onProgress ProgressFunc) error {
	// Roughly one callback per percent, but never more often than once per
	// chunk for small files.
	interval := total / 100
	if interval < chunkSize {
		interval = chunkSize
	}

	buf := make([]byte, chunkSize)
	var written, lastReported int64
	for {
		select {
		case <-ctx.Done():
			return ErrCancelled
		default:
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				if errors.Is(writeErr, syscall.ENOSPC) {
					return fmt.Errorf("%w: %v", ErrDiskFull, writeErr)
				}
				return fmt.Errorf("%w: writing download chunk: %v", ErrFileSystem, writeErr)
			}
			written += int64(n)
			if onProgress != nil && written-lastReported >= interval {
				onProgress(written, total)
				lastReported = written
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ErrCancelled
			}
			return fmt.Errorf("%w: reading response body: %v", ErrHttpRequest, readErr)
		}
	}

	if onProgress != nil {
		if total == 0 {
			total = written
		}
		onProgress(written, total)
	}
	return nil
}

// DownloadImage fetches a single preview image to destPath with a short
// total timeout. The caller is responsible for skip-if-exists.
func (d *Downloader) DownloadImage(ctx context.Context, imageURL, destPath string) error {
	ctx, cancel := context.WithTimeout(ctx, imageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return fmt.Errorf("%w: creating image request for %s: %v", ErrHttpRequest, imageURL, err)
	}
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.imageClient.Do(req)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return ErrCancelled
		}
		return fmt.Errorf("%w: fetching image %s: %v", ErrHttpRequest, imageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: received status %d from %s", ErrHttpStatus, resp.StatusCode, imageURL)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading image body: %v", ErrHttpRequest, err)
	}
	if err := os.WriteFile(destPath, data, 0600); err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return fmt.Errorf("%w: %v", ErrDiskFull, err)
		}
		return fmt.Errorf("%w: writing image file %s: %v", ErrFileSystem, destPath, err)
	}
	return nil
}

// ImageFilename derives the on-disk basename for an image URL.
func ImageFilename(imageURL string) string {
	u, err := url.Parse(imageURL)
	if err != nil || u.Path == "" {
		return path.Base(imageURL)
	}
	return path.Base(u.Path)
}

// filenameFromResponse prefers the Content-Disposition filename, falling
// back to the URL path basename.
func filenameFromResponse(resp *http.Response, fileURL string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			return filepath.Base(params["filename"])
		}
		log.Debugf("Could not parse Content-Disposition header: %s", cd)
	}
	return ImageFilename(fileURL)
}
