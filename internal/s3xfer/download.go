package s3xfer

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/ethanadams/s3client/internal/s3errors"
	"github.com/ethanadams/s3client/internal/s3sign"
)

// DownloadReport is delivered to a StreamingDownload consumer each
// time accumulated bytes are flushed (spec.md §4.6).
type DownloadReport struct {
	Data    []byte
	HasMore bool
	Err     *s3errors.Error
}

// StreamingDownload drives a range-oriented GET in partial-delivery
// mode. It holds a reporter-owned buffer guarded by a lock, and uses a
// single-bit atomic flag to coalesce multiple Transport chunk arrivals
// into one consumer wakeup, exactly as spec.md §4.6 describes.
type StreamingDownload struct {
	executor *Executor
	onReport func(DownloadReport)

	mu     sync.Mutex
	buffer []byte

	scheduled atomic.Bool
}

// NewStreamingDownload constructs a task that will invoke onReport
// each time it has new bytes (or a terminal outcome) to deliver.
func NewStreamingDownload(executor *Executor, onReport func(DownloadReport)) *StreamingDownload {
	return &StreamingDownload{executor: executor, onReport: onReport}
}

// Run performs the ranged GET and drives onReport to completion. It
// blocks until the transport finishes; callers that want concurrency
// should run it in its own goroutine.
func (d *StreamingDownload) Run(ctx context.Context, creds *s3sign.Credentials, spec RequestSpec) {
	signOpts := s3sign.SignOptions{Path: spec.Path, Method: http.MethodGet, SearchParams: spec.SearchParams}
	signed, err := d.executor.Signer.Sign(creds, signOpts)
	if err != nil {
		d.onReport(DownloadReport{Err: &s3errors.Error{Code: "ERR_S3_INVALID_PATH", Message: err.Error()}})
		return
	}

	headers := make([]Header, 0, len(signed.Headers)+1)
	for _, h := range signed.Headers {
		headers = append(headers, Header{Name: h.Name, Value: h.Value})
	}
	if spec.RangeHeader != "" {
		headers = append(headers, Header{Name: "Range", Value: spec.RangeHeader})
	}

	req := &Request{Method: http.MethodGet, URL: signed.URL, Headers: headers, Proxy: spec.ProxyURL, Operation: "download"}
	ch, err := d.executor.Transport.Do(ctx, req)
	if err != nil {
		d.onReport(DownloadReport{Err: &s3errors.Error{Code: "TransportError", Message: err.Error()}})
		return
	}

	var lastStatus int
	var failed bool
	for ev := range ch {
		lastStatus = ev.Status
		if ev.Err != nil {
			failed = true
		}

		// ev.Body from HTTPTransport is the full accumulation so far,
		// not a delta, so replace rather than append.
		d.mu.Lock()
		d.buffer = ev.Body
		d.mu.Unlock()

		if ev.HasMore {
			d.scheduleWakeup(true)
			continue
		}

		// Terminal event: for a success status, flush remaining bytes
		// immediately. For an error status, wait until !HasMore (which
		// we're already at) so the full XML error body is available to
		// parse, per spec.md §4.6.
		if !failed && isDownloadSuccess(lastStatus) {
			d.flush(true, nil)
		} else {
			d.flush(false, d.classifyFailure(lastStatus, failed))
		}
	}
}

func isDownloadSuccess(status int) bool {
	return status == 200 || status == 204 || status == 206
}

func (d *StreamingDownload) classifyFailure(status int, transportFailed bool) *s3errors.Error {
	d.mu.Lock()
	body := append([]byte(nil), d.buffer...)
	d.mu.Unlock()
	if transportFailed {
		return &s3errors.Error{Code: "TransportError", Message: "connection failed during download"}
	}
	return s3errors.ErrorWithBody(body, status == 404)
}

// scheduleWakeup coalesces concurrent chunk arrivals into a single
// consumer callback invocation using the atomic hasScheduleCallback
// flag spec.md §4.6 specifies.
func (d *StreamingDownload) scheduleWakeup(hasMore bool) {
	if !d.scheduled.CompareAndSwap(false, true) {
		return
	}
	d.mu.Lock()
	data := append([]byte(nil), d.buffer...)
	d.mu.Unlock()
	d.scheduled.Store(false)
	d.onReport(DownloadReport{Data: data, HasMore: hasMore})
}

func (d *StreamingDownload) flush(success bool, classified *s3errors.Error) {
	d.mu.Lock()
	data := append([]byte(nil), d.buffer...)
	d.buffer = nil
	d.mu.Unlock()

	if success {
		d.onReport(DownloadReport{Data: data, HasMore: false})
		return
	}
	d.onReport(DownloadReport{HasMore: false, Err: classified})
}
