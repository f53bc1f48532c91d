package cmd

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-comfy-model-manager/internal/api"
	"go-comfy-model-manager/internal/database"
	"go-comfy-model-manager/internal/downloader"
	"go-comfy-model-manager/internal/helpers"
	"go-comfy-model-manager/internal/manager"
	"go-comfy-model-manager/internal/models"
	"go-comfy-model-manager/internal/queue"
	"go-comfy-model-manager/internal/storage"
)

var (
	urlListFile     string
	concurrencyFlag int
	noHtmlFlag      bool
	openHtmlFlag    bool
)

var downloadCmd = &cobra.Command{
	Use:   "download [url]...",
	Short: "Download models by URL into the layout tree",
	Long: `Downloads one or more model URLs. Each job fetches metadata, resolves a
target directory, streams the model file, fans out preview image downloads,
writes metadata.json and emits a static HTML gallery.`,
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringVarP(&urlListFile, "file", "f", "", "File containing one model URL per line")
	downloadCmd.Flags().IntVarP(&concurrencyFlag, "concurrency", "c", 0, "Parallel download jobs (default: config concurrent_downloads)")
	downloadCmd.Flags().BoolVar(&noHtmlFlag, "no-html", false, "Skip the model_card.html gallery")
	downloadCmd.Flags().BoolVar(&openHtmlFlag, "open", false, "Open each gallery in the browser after download")
}

// collectURLs merges positional args with the optional --file list.
func collectURLs(args []string) ([]string, error) {
	urls := append([]string{}, args...)
	if urlListFile == "" {
		return urls, nil
	}

	f, err := os.Open(urlListFile)
	if err != nil {
		return nil, fmt.Errorf("error opening URL list %s: %w", urlListFile, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			urls = append(urls, line)
		}
	}
	return urls, scanner.Err()
}

func runDownload(cmd *cobra.Command, args []string) error {
	urls, err := collectURLs(args)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return fmt.Errorf("no URLs given; pass them as arguments or via --file")
	}
	if globalConfig.ComfyPath == "" {
		return fmt.Errorf("comfy_path is not configured (--comfy-path or config file)")
	}

	cfg := globalConfig
	if cmd.Flags().Changed("no-html") {
		cfg.CreateHtml = !noHtmlFlag
	}
	if cmd.Flags().Changed("open") {
		cfg.AutoOpenHtml = openHtmlFlag
	}
	concurrency := cfg.ConcurrentDownloads
	if concurrencyFlag > 0 {
		concurrency = concurrencyFlag
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	apiTimeout := time.Duration(cfg.ApiClientTimeoutSec) * time.Second
	if apiTimeout <= 0 {
		apiTimeout = 60 * time.Second
	}
	client := api.NewClient(cfg.ApiKey, cfg.FetchBatchSize, &http.Client{
		Timeout:   apiTimeout,
		Transport: globalHttpTransport,
	})
	dl := downloader.NewDownloader(&http.Client{Transport: globalHttpTransport}, cfg.ApiKey)
	store := storage.NewManager(cfg.ComfyPath)
	mgr := manager.New(cfg, client, dl, store)

	var db *database.DB
	if cfg.DatabasePath != "" {
		if db, err = database.Open(cfg.DatabasePath); err != nil {
			log.WithError(err).Warn("Catalog database unavailable, continuing without it")
			db = nil
		} else {
			defer db.Close()
		}
	}

	q := queue.New()
	accepted := q.AddMany(urls)
	log.Infof("Queued %d of %d URLs", accepted, len(urls))

	writer := uilive.New()
	writer.Start()
	defer writer.Stop()
	var writerMu sync.Mutex

	// Ctrl-C cancels everything in flight and drains the queue.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		log.Warn("Interrupt received, cancelling downloads...")
		q.Clear()
		mgr.CancelAll()
	}()

	var wg sync.WaitGroup
	slots := make(chan struct{}, concurrency)
	failures := 0
	var failuresMu sync.Mutex

	for {
		task := q.NextURL()
		if task == nil {
			break
		}
		url := task.URL
		slots <- struct{}{}
		wg.Add(1)

		onProgress := func(message string, modelProgress, imageProgress int, status string, bytes int64) {
			q.Update(url, func(t *models.DownloadTask) {
				if modelProgress >= 0 {
					t.ModelProgress = modelProgress
				}
				if imageProgress >= 0 {
					t.ImageProgress = imageProgress
				}
			})

			writerMu.Lock()
			defer writerMu.Unlock()
			if message != "" {
				fmt.Fprintf(writer.Newline(), "[%s] %s\n", url, message)
				return
			}
			if t, ok := q.Get(url); ok {
				fmt.Fprintf(writer.Newline(), "[%s] model %3d%% | images %3d%% | %s\n",
					url, t.ModelProgress, t.ImageProgress, helpers.BytesToSize(uint64(mgr.CurrentBandwidth()))+"/s")
			}
		}

		started := mgr.StartDownload(url, onProgress, func(status, message string, info *models.ModelInfo) {
			defer wg.Done()
			defer func() { <-slots }()

			switch status {
			case models.StatusCompleted:
				q.Complete(url, true, message, info)
				if db != nil {
					if putErr := db.PutModel(info); putErr != nil {
						log.WithError(putErr).Warnf("Failed to record %s in catalog", info.Name)
					}
				}
				writerMu.Lock()
				fmt.Fprintf(writer.Newline(), "[%s] %s\n", url, message)
				writerMu.Unlock()
			case models.StatusCanceled:
				q.Cancel(url)
			default:
				q.Complete(url, false, message, nil)
				failuresMu.Lock()
				failures++
				failuresMu.Unlock()
				writerMu.Lock()
				fmt.Fprintf(writer.Newline(), "[%s] FAILED: %s\n", url, message)
				writerMu.Unlock()
			}
		})
		if !started {
			q.Complete(url, false, "duplicate of an in-flight download", nil)
			wg.Done()
			<-slots
		}
	}
	wg.Wait()

	log.Infof("All jobs finished. Average bandwidth: %s/s",
		helpers.BytesToSize(uint64(mgr.CurrentBandwidth())))
	if failures > 0 {
		return fmt.Errorf("%d download(s) failed", failures)
	}
	return nil
}
