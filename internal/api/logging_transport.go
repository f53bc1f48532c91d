package api

import (
	"bufio"
	"fmt"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// LoggingTransport wraps an http.RoundTripper and appends request/response
// dumps to a log file. Bodies are only dumped for JSON responses; binary
// streams (model files, images) log headers only.
type LoggingTransport struct {
	Transport http.RoundTripper
	mu        sync.Mutex
	logFile   *os.File
	writer    *bufio.Writer
}

var (
	transportsMu   sync.Mutex
	openTransports []*LoggingTransport
)

// NewLoggingTransport opens logFilePath for appending and returns the
// wrapping transport. Transports are tracked so CloseAllLoggingTransports can
// flush them on exit.
func NewLoggingTransport(transport http.RoundTripper, logFilePath string) (*LoggingTransport, error) {
	f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open API log file %s: %w", logFilePath, err)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	t := &LoggingTransport{
		Transport: transport,
		logFile:   f,
		writer:    bufio.NewWriter(f),
	}
	transportsMu.Lock()
	openTransports = append(openTransports, t)
	transportsMu.Unlock()
	return t, nil
}

// RoundTrip executes a single HTTP transaction, logging details.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	if dump, err := httputil.DumpRequestOut(req, false); err != nil {
		log.WithError(err).Error("Failed to dump API request for logging")
	} else {
		t.writeLog(fmt.Sprintf("--- Request (%s) ---\n%s", start.Format(time.RFC3339), string(dump)))
	}

	resp, err := t.Transport.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		t.writeLog(fmt.Sprintf("--- Response Error (Duration: %v) ---\n%s", duration, err.Error()))
		return resp, err
	}

	// Dump the body only for JSON responses; draining a model-file stream
	// here would buffer gigabytes.
	withBody := strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json")
	if dump, dumpErr := httputil.DumpResponse(resp, withBody); dumpErr != nil {
		log.WithError(dumpErr).Error("Failed to dump API response for logging")
		t.writeLog(fmt.Sprintf("--- Response (Duration: %v) ---\nStatus: %s (dump failed)", duration, resp.Status))
	} else {
		t.writeLog(fmt.Sprintf("--- Response (Duration: %v) ---\n%s", duration, string(dump)))
	}

	return resp, nil
}

func (t *LoggingTransport) writeLog(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.writer.WriteString(s + "\n\n"); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to API log file: %v\n", err)
	}
	t.writer.Flush()
}

// Close flushes and closes the underlying log file.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush API log buffer: %w", err)
	}
	return t.logFile.Close()
}

// CloseAllLoggingTransports closes every transport opened via
// NewLoggingTransport. Called from main on exit.
func CloseAllLoggingTransports() {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	for _, t := range openTransports {
		if err := t.Close(); err != nil {
			log.WithError(err).Error("Error closing API log file")
		}
	}
	openTransports = nil
}
