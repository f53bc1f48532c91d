package queue

import (
	"strings"
	"sync"
	"time"

	"go-comfy-model-manager/internal/models"

	log "github.com/sirupsen/logrus"
)

// Listener receives queue event streams. Nil fields are skipped. Callbacks
// are invoked outside the queue lock; a slow listener delays emission but
// cannot deadlock the queue.
type Listener struct {
	QueueSize   func(size int)
	TaskUpdated func(task models.DownloadTask)
	Reordered   func()
}

// Queue is the priority-ordered list of pending download URLs plus the map
// of every task ever admitted. Priority equals list index; reordering is a
// user action, so a plain mutex-protected slice is sufficient.
type Queue struct {
	mu        sync.Mutex
	tasks     map[string]*models.DownloadTask
	pending   []string
	current   string
	listeners map[int]Listener
	nextSub   int
}

func New() *Queue {
	return &Queue{
		tasks:     make(map[string]*models.DownloadTask),
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers a listener and returns a token for Unsubscribe.
func (q *Queue) Subscribe(l Listener) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextSub
	q.nextSub++
	q.listeners[id] = l
	return id
}

func (q *Queue) Unsubscribe(id int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.listeners, id)
}

// event captures a snapshot to deliver after the lock is released.
type event struct {
	queueSize *int
	task      *models.DownloadTask
	reordered bool
}

func (q *Queue) snapshotListenersLocked() []Listener {
	out := make([]Listener, 0, len(q.listeners))
	for _, l := range q.listeners {
		out = append(out, l)
	}
	return out
}

func emit(listeners []Listener, events []event) {
	for _, ev := range events {
		for _, l := range listeners {
			switch {
			case ev.queueSize != nil:
				if l.QueueSize != nil {
					l.QueueSize(*ev.queueSize)
				}
			case ev.task != nil:
				if l.TaskUpdated != nil {
					l.TaskUpdated(*ev.task)
				}
			case ev.reordered:
				if l.Reordered != nil {
					l.Reordered()
				}
			}
		}
	}
}

func sizeEvent(n int) event { return event{queueSize: &n} }

func taskEvent(t *models.DownloadTask) event {
	copied := *t
	return event{task: &copied}
}

// Add appends url as a fresh queued task. Rejected when the URL already maps
// to a task that is queued or in flight.
func (q *Queue) Add(url string) bool {
	url = strings.TrimSpace(url)
	if url == "" {
		return false
	}

	q.mu.Lock()
	if existing, ok := q.tasks[url]; ok && !existing.IsTerminal() {
		q.mu.Unlock()
		log.Infof("URL already in queue: %s", url)
		return false
	}

	task := &models.DownloadTask{
		URL:      url,
		Status:   models.StatusQueued,
		Priority: len(q.pending),
	}
	q.tasks[url] = task
	q.pending = append(q.pending, url)

	listeners := q.snapshotListenersLocked()
	events := []event{taskEvent(task), sizeEvent(len(q.pending))}
	q.mu.Unlock()

	emit(listeners, events)
	return true
}

// AddMany adds each URL, returning the number accepted.
func (q *Queue) AddMany(urls []string) int {
	added := 0
	for _, u := range urls {
		if q.Add(u) {
			added++
		}
	}
	return added
}

// NextURL pops the head of the queue, marks it downloading and returns a
// copy of its task. Returns nil when the queue is empty.
func (q *Queue) NextURL() *models.DownloadTask {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return nil
	}

	url := q.pending[0]
	q.pending = q.pending[1:]
	q.current = url
	q.reindexLocked()

	task := q.tasks[url]
	task.Status = models.StatusDownloading
	task.StartTime = time.Now()
	copied := *task

	listeners := q.snapshotListenersLocked()
	events := []event{taskEvent(task), sizeEvent(len(q.pending))}
	q.mu.Unlock()

	emit(listeners, events)
	return &copied
}

// MoveToPosition moves a pending url to idx (clamped to the list bounds) and
// refreshes every priority. No-op when url is not pending.
func (q *Queue) MoveToPosition(url string, idx int) bool {
	q.mu.Lock()
	pos := -1
	for i, u := range q.pending {
		if u == url {
			pos = i
			break
		}
	}
	if pos < 0 {
		q.mu.Unlock()
		return false
	}

	q.pending = append(q.pending[:pos], q.pending[pos+1:]...)
	if idx < 0 {
		idx = 0
	}
	if idx > len(q.pending) {
		idx = len(q.pending)
	}
	q.pending = append(q.pending[:idx], append([]string{url}, q.pending[idx:]...)...)

	events := q.reindexLocked()
	events = append(events, event{reordered: true})
	listeners := q.snapshotListenersLocked()
	q.mu.Unlock()

	emit(listeners, events)
	return true
}

// reindexLocked refreshes priorities to match list position, returning task
// events for every change.
func (q *Queue) reindexLocked() []event {
	var events []event
	for i, url := range q.pending {
		if task, ok := q.tasks[url]; ok && task.Priority != i {
			task.Priority = i
			events = append(events, taskEvent(task))
		}
	}
	return events
}

// Update mutates a task through fn under the queue lock and emits an update
// event. Terminal statuses are absorbing and progress never regresses; fn's
// changes violating either are discarded.
func (q *Queue) Update(url string, fn func(*models.DownloadTask)) bool {
	q.mu.Lock()
	task, ok := q.tasks[url]
	if !ok {
		q.mu.Unlock()
		return false
	}

	prevStatus := task.Status
	prevEnd := task.EndTime
	prevModel := task.ModelProgress
	prevImage := task.ImageProgress

	fn(task)

	if models.IsTerminalStatus(prevStatus) {
		task.Status = prevStatus
		task.EndTime = prevEnd
	}
	// A task still in the pending list stays queued; status transitions go
	// through NextURL/Complete/Cancel.
	if prevStatus == models.StatusQueued && task.Status != models.StatusQueued {
		for _, u := range q.pending {
			if u == url {
				task.Status = models.StatusQueued
				break
			}
		}
	}
	if task.ModelProgress < prevModel {
		task.ModelProgress = prevModel
	}
	if task.ImageProgress < prevImage {
		task.ImageProgress = prevImage
	}

	listeners := q.snapshotListenersLocked()
	events := []event{taskEvent(task)}
	q.mu.Unlock()

	emit(listeners, events)
	return true
}

// Complete transitions a task to its terminal status: COMPLETED with the
// populated ModelInfo on success, FAILED with the message otherwise.
func (q *Queue) Complete(url string, success bool, message string, info *models.ModelInfo) {
	q.mu.Lock()
	task, ok := q.tasks[url]
	if !ok || task.IsTerminal() {
		q.mu.Unlock()
		return
	}

	task.EndTime = time.Now()
	if success {
		task.Status = models.StatusCompleted
		task.ModelInfo = info
		task.ModelProgress = 100
		task.ImageProgress = 100
	} else {
		task.Status = models.StatusFailed
		if message == "" {
			message = "Download failed"
		}
		task.ErrorMessage = message
	}
	if url == q.current {
		q.current = ""
	}

	listeners := q.snapshotListenersLocked()
	events := []event{taskEvent(task)}
	q.mu.Unlock()

	emit(listeners, events)
}

// Cancel marks a task canceled. Pending tasks are removed from the list;
// in-flight tasks keep running until their worker observes the token, but
// the status flips immediately. Returns false for unknown or already
// terminal tasks.
func (q *Queue) Cancel(url string) bool {
	q.mu.Lock()
	task, ok := q.tasks[url]
	if !ok || task.IsTerminal() {
		q.mu.Unlock()
		return false
	}

	var events []event
	for i, u := range q.pending {
		if u == url {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			events = append(events, sizeEvent(len(q.pending)))
			events = append(q.reindexLocked(), events...)
			break
		}
	}

	task.Status = models.StatusCanceled
	task.EndTime = time.Now()
	if url == q.current {
		q.current = ""
	}
	events = append(events, taskEvent(task))

	listeners := q.snapshotListenersLocked()
	q.mu.Unlock()

	emit(listeners, events)
	return true
}

// Clear cancels every pending task and empties the list.
func (q *Queue) Clear() {
	q.mu.Lock()
	var events []event
	for _, url := range q.pending {
		if task, ok := q.tasks[url]; ok && task.Status == models.StatusQueued {
			task.Status = models.StatusCanceled
			task.EndTime = time.Now()
			events = append(events, taskEvent(task))
		}
	}
	q.pending = nil
	events = append(events, sizeEvent(0))

	listeners := q.snapshotListenersLocked()
	q.mu.Unlock()

	emit(listeners, events)
}

// Size is the number of pending tasks.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// IsEmpty reports whether no tasks are pending.
func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

// Get returns a copy of the task for url.
func (q *Queue) Get(url string) (models.DownloadTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[url]
	if !ok {
		return models.DownloadTask{}, false
	}
	return *task, true
}

// Tasks returns copies of every task ever admitted.
func (q *Queue) Tasks() []models.DownloadTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.DownloadTask, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, *t)
	}
	return out
}

// PendingTasks returns copies of the queued tasks in queue order.
func (q *Queue) PendingTasks() []models.DownloadTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.DownloadTask, 0, len(q.pending))
	for _, url := range q.pending {
		if t, ok := q.tasks[url]; ok {
			out = append(out, *t)
		}
	}
	return out
}
