package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"go-comfy-model-manager/internal/api"
	"go-comfy-model-manager/internal/bandwidth"
	"go-comfy-model-manager/internal/downloader"
	"go-comfy-model-manager/internal/gallery"
	"go-comfy-model-manager/internal/models"
	"go-comfy-model-manager/internal/storage"

	log "github.com/sirupsen/logrus"
)

const timestampLayout = "2006-01-02 15:04:05"

// worker runs the per-URL pipeline: parse, metadata, folder, model file,
// image fanout, metadata.json, gallery. metadata.json is the commit point —
// a cancel observed after it is written is ignored and the job completes.
type worker struct {
	url        string
	cfg        models.Config
	client     *api.Client
	dl         *downloader.Downloader
	store      *storage.Manager
	monitor    *bandwidth.Monitor
	onProgress ProgressFunc
	cancel     context.CancelFunc
	done       chan struct{}
}

// log forwards a message to logrus and to the progress stream.
func (w *worker) log(message, status string) {
	switch status {
	case "error":
		log.Error(message)
	case "warning":
		log.Warn(message)
	default:
		log.Info(message)
	}
	w.progress(message, -1, -1, status, 0)
}

func (w *worker) progress(message string, modelProgress, imageProgress int, status string, bytes int64) {
	if w.onProgress != nil {
		w.onProgress(message, modelProgress, imageProgress, status, bytes)
	}
}

func (w *worker) run(ctx context.Context) (string, string, *models.ModelInfo) {
	w.log(fmt.Sprintf("Processing URL: %s", w.url), "info")

	// Step 1: parse.
	modelID, versionID, err := api.ParseModelURL(w.url)
	if err != nil {
		w.log("Invalid URL format. Could not extract model ID.", "error")
		return models.StatusFailed, "Invalid URL", nil
	}

	// Step 2: metadata.
	maxImages := w.cfg.TopImageCount
	if maxImages <= 0 {
		maxImages = 9
	}
	info, err := w.client.FetchModelInfo(ctx, modelID, versionID, maxImages)
	if err != nil {
		if ctx.Err() != nil {
			return w.cancelled()
		}
		w.log(fmt.Sprintf("Failed to fetch model info: %v", err), "error")
		return models.StatusFailed, oneLine(err), nil
	}

	// Step 3: folder.
	folder, err := w.store.ModelFolder(info)
	if err != nil {
		w.log(fmt.Sprintf("Failed to create folder structure: %v", err), "error")
		return models.StatusFailed, oneLine(err), nil
	}
	w.log(fmt.Sprintf("Created folder structure: %s", folder), "info")

	// Step 4: model file.
	if w.cfg.DownloadModel && info.DownloadUrl != "" {
		w.log("Downloading model file...", "download")
		modelPath, dlErr := w.dl.DownloadFile(ctx, info.DownloadUrl, folder, info.Hashes, w.modelProgressFunc())
		if dlErr != nil {
			if errors.Is(dlErr, downloader.ErrCancelled) {
				return w.cancelled()
			}
			w.log(fmt.Sprintf("Error downloading model file: %v", dlErr), "error")
			return models.StatusFailed, oneLine(dlErr), nil
		}
		if fi, statErr := os.Stat(modelPath); statErr == nil {
			info.Size = fi.Size()
		}
		w.progress("", 100, -1, "", 0)
		w.log("Model file downloaded successfully", "success")
	}

	// Step 5: nsfw filter.
	if !w.cfg.DownloadNsfw {
		kept := info.Images[:0]
		filtered := 0
		for _, img := range info.Images {
			if img.Nsfw {
				filtered++
				continue
			}
			kept = append(kept, img)
		}
		info.Images = kept
		if filtered > 0 {
			w.log(fmt.Sprintf("Filtered out %d NSFW images", filtered), "info")
		}
	}

	// Step 6: image fanout.
	if w.cfg.DownloadImages && len(info.Images) > 0 {
		w.log(fmt.Sprintf("Downloading %d images...", len(info.Images)), "download")
		w.downloadImages(ctx, info, folder)
		if ctx.Err() != nil {
			return w.cancelled()
		}
		if len(info.Images) > 0 && info.Images[0].LocalPath != "" {
			info.Thumbnail = info.Images[0].LocalPath
		}
	}

	// Cancellation races the commit point: checked one last time before
	// metadata.json is written, ignored afterwards.
	if ctx.Err() != nil {
		return w.cancelled()
	}

	// Step 7: persist metadata (the commit point).
	now := time.Now().Format(timestampLayout)
	info.DownloadDate = now
	info.LastUpdated = now
	info.Path = folder
	if err := writeMetadata(folder, info); err != nil {
		w.log(fmt.Sprintf("Error saving metadata: %v", err), "error")
		return models.StatusFailed, oneLine(err), nil
	}

	// Step 8: gallery. Failures log but never fail the job.
	if w.cfg.CreateHtml {
		htmlPath, htmlErr := gallery.WriteModelCard(info, folder)
		if htmlErr != nil {
			w.log(fmt.Sprintf("Error creating HTML summary: %v", htmlErr), "error")
		} else {
			w.log(fmt.Sprintf("Created HTML summary: %s", htmlPath), "success")
			if w.cfg.AutoOpenHtml {
				if openErr := openInBrowser(htmlPath); openErr != nil {
					w.log(fmt.Sprintf("Could not open HTML summary: %v", openErr), "warning")
				}
			}
		}
	}

	// Step 9: complete.
	return models.StatusCompleted, fmt.Sprintf("Successfully downloaded %s", info.Name), info
}

func (w *worker) cancelled() (string, string, *models.ModelInfo) {
	w.log("Download cancelled", "warning")
	return models.StatusCanceled, "Download cancelled", nil
}

// modelProgressFunc adapts streaming byte counts into percentage progress
// and bandwidth samples.
func (w *worker) modelProgressFunc() downloader.ProgressFunc {
	var lastBytes int64
	return func(bytesSoFar, totalBytes int64) {
		delta := bytesSoFar - lastBytes
		lastBytes = bytesSoFar

		pct := -1
		if totalBytes > 0 {
			pct = int(bytesSoFar * 100 / totalBytes)
		}
		w.progress("", pct, -1, "", delta)
		w.monitor.AddDataPoint(delta)
	}
}

// downloadImages fetches previews with a bounded pool. Existing files are
// counted as done without an HTTP call; individual failures are logged and
// never fail the job. imageProgress advances monotonically after each
// completion.
func (w *worker) downloadImages(ctx context.Context, info *models.ModelInfo, folder string) {
	imagesDir := filepath.Join(folder, "images")
	if err := os.MkdirAll(imagesDir, 0700); err != nil {
		w.log(fmt.Sprintf("Error creating images directory: %v", err), "error")
		return
	}

	total := len(info.Images)
	threads := w.cfg.DownloadThreads
	if threads <= 0 {
		threads = 4
	}

	var mu sync.Mutex
	done := 0
	advance := func() {
		mu.Lock()
		done++
		pct := done * 100 / total
		w.progress("", -1, pct, "", 0)
		mu.Unlock()
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				img := &info.Images[idx]
				destPath := filepath.Join(imagesDir, downloader.ImageFilename(img.URL))

				if _, statErr := os.Stat(destPath); statErr == nil {
					log.Debugf("Skipping image %s - already exists.", filepath.Base(destPath))
					img.LocalPath = destPath
					advance()
					continue
				}

				if dlErr := w.dl.DownloadImage(ctx, img.URL, destPath); dlErr != nil {
					w.log(fmt.Sprintf("Failed to download image %s: %v", img.URL, dlErr), "error")
				} else {
					img.LocalPath = destPath
				}
				advance()

				if ctx.Err() != nil {
					return
				}
			}
		}()
	}

dispatch:
	for idx := range info.Images {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- idx:
		}
	}
	close(jobs)
	wg.Wait()
}

// writeMetadata pretty-prints the full ModelInfo into metadata.json.
func writeMetadata(folder string, info *models.ModelInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata for %s: %w", info.Name, err)
	}
	metadataPath := filepath.Join(folder, storage.MetadataFilename)
	if err := os.WriteFile(metadataPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file %s: %w", metadataPath, err)
	}
	log.Debugf("Saved metadata to %s", metadataPath)
	return nil
}

// oneLine flattens an error into the task's single-line message.
func oneLine(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// openInBrowser asks the host desktop to open path. Best effort only.
func openInBrowser(path string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", path).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", path).Start()
	default:
		return exec.Command("xdg-open", path).Start()
	}
}
