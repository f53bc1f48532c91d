package manager

import (
	"context"
	"sync"

	"go-comfy-model-manager/internal/api"
	"go-comfy-model-manager/internal/bandwidth"
	"go-comfy-model-manager/internal/downloader"
	"go-comfy-model-manager/internal/models"
	"go-comfy-model-manager/internal/storage"

	log "github.com/sirupsen/logrus"
)

// ProgressFunc receives per-worker progress. Numeric fields are -1 when
// unchanged; bytes is the delta written since the previous call.
type ProgressFunc func(message string, modelProgress, imageProgress int, status string, bytes int64)

// CompletionFunc receives the terminal outcome of a job. status is one of
// models.StatusCompleted, StatusFailed, StatusCanceled.
type CompletionFunc func(status string, message string, info *models.ModelInfo)

// Manager admits download jobs by URL, runs one worker per job and fans out
// cancellation. It imposes no global concurrency limit; the host decides how
// many jobs to start in parallel.
type Manager struct {
	mu      sync.Mutex
	cfg     models.Config
	client  *api.Client
	dl      *downloader.Downloader
	store   *storage.Manager
	monitor *bandwidth.Monitor
	active  map[string]*worker
}

func New(cfg models.Config, client *api.Client, dl *downloader.Downloader, store *storage.Manager) *Manager {
	return &Manager{
		cfg:     cfg,
		client:  client,
		dl:      dl,
		store:   store,
		monitor: bandwidth.NewMonitor(60, 1),
		active:  make(map[string]*worker),
	}
}

// StartDownload admits url and spawns its worker. Returns false when an
// identical URL is already in flight.
func (m *Manager) StartDownload(url string, onProgress ProgressFunc, onDone CompletionFunc) bool {
	m.mu.Lock()
	if _, busy := m.active[url]; busy {
		m.mu.Unlock()
		log.Warnf("Download already in progress for %s", url)
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		url:        url,
		cfg:        m.cfg,
		client:     m.client,
		dl:         m.dl,
		store:      m.store,
		monitor:    m.monitor,
		onProgress: onProgress,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	m.active[url] = w
	m.mu.Unlock()

	go func() {
		defer close(w.done)
		status, message, info := w.run(ctx)

		m.mu.Lock()
		delete(m.active, url)
		m.mu.Unlock()

		if onDone != nil {
			onDone(status, message, info)
		}
	}()

	log.Infof("Started download: %s", url)
	return true
}

// CancelDownload signals the worker for url. Returns false when no such
// download is active.
func (m *Manager) CancelDownload(url string) bool {
	m.mu.Lock()
	w, ok := m.active[url]
	m.mu.Unlock()
	if !ok {
		return false
	}
	w.cancel()
	log.Infof("Download cancelled: %s", url)
	return true
}

// CancelAll broadcasts cancellation to every active worker.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	workers := make([]*worker, 0, len(m.active))
	for _, w := range m.active {
		workers = append(workers, w)
	}
	m.mu.Unlock()

	for _, w := range workers {
		w.cancel()
	}
	log.Info("All downloads cancelled")
}

// Wait blocks until every worker active at call time has terminated.
func (m *Manager) Wait() {
	m.mu.Lock()
	workers := make([]*worker, 0, len(m.active))
	for _, w := range m.active {
		workers = append(workers, w)
	}
	m.mu.Unlock()

	for _, w := range workers {
		<-w.done
	}
}

// ActiveCount is the number of in-flight downloads.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// BandwidthHistory exposes the aggregated throughput window.
func (m *Manager) BandwidthHistory() []bandwidth.Sample {
	return m.monitor.History()
}

// CurrentBandwidth is the mean throughput over the window, bytes/sec.
func (m *Manager) CurrentBandwidth() float64 {
	return m.monitor.CurrentBandwidth()
}

// ResetBandwidth empties the bandwidth window.
func (m *Manager) ResetBandwidth() {
	m.monitor.Reset()
}
