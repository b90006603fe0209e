package s3multipart

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/bits"
	"sort"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ethanadams/s3client/internal/logging"
	"github.com/ethanadams/s3client/internal/metrics"
	"github.com/ethanadams/s3client/internal/s3sign"
	"github.com/ethanadams/s3client/internal/s3xfer"
)

func newClientID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// loop events. Every mutation of coordinator state happens inside the
// single goroutine that drains this channel — the HTTP transport's own
// goroutines only ever send into it (spec.md §5's single-threaded
// cooperative callback delivery, §7's event-loop realization).
type sendDataEvent struct {
	data []byte
	eof  bool
}

type continueStreamEvent struct{}

type partDoneEvent struct {
	part   *UploadPart
	result *s3xfer.Result
}

type initiateDoneEvent struct {
	result *s3xfer.Result
}

type commitDoneEvent struct {
	result *s3xfer.Result
}

type singlefileDoneEvent struct {
	result *s3xfer.Result
}

type abortDoneEvent struct {
	result *s3xfer.Result
}

// MultipartUpload is the coordinator: it owns one logical upload's
// lifecycle and issues every signed request through an s3xfer.Executor.
type MultipartUpload struct {
	executor *s3xfer.Executor
	creds    *s3sign.Credentials
	path     string
	proxy    string
	ct       string
	acl      s3sign.ACL
	options  Options
	metrics  *metrics.Collector
	bucket   string
	clientID string

	onResult func(Result)
	events   chan any

	state              State
	uploadID           string
	currentPartNumber  int
	buffered           []byte
	offset             int64
	queue              []*UploadPart
	availableMask      uint64
	multipartEtags     []etagEntry
	ended              bool
	commitRetryLeft int
	abortRetryLeft  int
	lastErr         error
}

type etagEntry struct {
	PartNumber int
	ETag       string
}

// New constructs a MultipartUpload and starts its event loop. When
// waitStreamCheck is true the coordinator starts in
// StateWaitStreamCheck and requires a ContinueStream call (or the
// first SendRequestData) before it will buffer anything; otherwise it
// starts directly in StateNotStarted.
func New(executor *s3xfer.Executor, mc *metrics.Collector, params Params, waitStreamCheck bool, onResult func(Result)) (*MultipartUpload, error) {
	opts := params.Options
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	initial := StateNotStarted
	if waitStreamCheck {
		initial = StateWaitStreamCheck
	}

	m := &MultipartUpload{
		executor:        executor,
		creds:           params.Credentials,
		path:            params.Path,
		proxy:           params.ProxyURL,
		ct:              params.ContentType,
		acl:             params.ACL,
		options:         opts,
		metrics:         mc,
		bucket:          params.Credentials.Bucket,
		clientID:        newClientID(),
		onResult:        onResult,
		events:          make(chan any, 32),
		state:           initial,
		availableMask:   fullMask(opts.QueueSize),
		commitRetryLeft: opts.Retry,
		abortRetryLeft:  opts.Retry,
	}
	go m.loop()
	return m, nil
}

func fullMask(queueSize int) uint64 {
	if queueSize >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(queueSize)) - 1
}

// SendRequestData feeds the next chunk of the source stream to the
// coordinator. eof marks the final call; data may be empty on the
// final call.
func (m *MultipartUpload) SendRequestData(data []byte, eof bool) {
	m.events <- sendDataEvent{data: data, eof: eof}
}

// ContinueStream releases the wait_stream_check latch, the signal a
// host stream uses once it has confirmed a nonempty source exists.
func (m *MultipartUpload) ContinueStream() {
	m.events <- continueStreamEvent{}
}

func (m *MultipartUpload) loop() {
	for ev := range m.events {
		switch e := ev.(type) {
		case sendDataEvent:
			m.handleSendRequestData(e.data, e.eof)
		case continueStreamEvent:
			m.handleContinueStream()
		case partDoneEvent:
			m.handlePartDone(e.part, e.result)
		case initiateDoneEvent:
			m.handleInitiateDone(e.result)
		case commitDoneEvent:
			m.handleCommitDone(e.result)
		case singlefileDoneEvent:
			m.handleSinglefileDone(e.result)
		case abortDoneEvent:
			m.handleAbortDone(e.result)
		}
		if m.state == StateFinished {
			return
		}
	}
}

func (m *MultipartUpload) handleContinueStream() {
	if m.state == StateWaitStreamCheck {
		m.state = StateNotStarted
		logging.Debug("multipart %s: wait_stream_check -> not_started (continueStream)", m.clientID)
	}
}

func (m *MultipartUpload) handleSendRequestData(data []byte, eof bool) {
	if m.state == StateFinished {
		return
	}
	if m.state == StateWaitStreamCheck {
		m.state = StateNotStarted
	}

	if len(data) > 0 {
		m.buffered = append(m.buffered, data...)
	}
	if eof {
		m.ended = true
	}

	remaining := int64(len(m.buffered)) - m.offset
	if m.state == StateNotStarted && m.currentPartNumber == 0 {
		if m.ended && remaining < m.options.PartSize {
			m.startSinglefileUpload()
			return
		}
		if !m.ended && remaining < m.options.PartSize {
			return
		}
	}

	m.sliceAndQueueChunks()
	m.dispatchPendingParts()
}

// sliceAndQueueChunks carves buffered[offset:] into partSize-bounded
// UploadParts, leaving any sub-partSize remainder buffered unless EOF
// has arrived (in which case the final undersized remainder becomes
// the last part, which S3 permits).
func (m *MultipartUpload) sliceAndQueueChunks() {
	for {
		remaining := int64(len(m.buffered)) - m.offset
		if remaining <= 0 {
			return
		}
		chunkLen := m.options.PartSize
		if remaining < chunkLen {
			if !m.ended {
				return
			}
			chunkLen = remaining
		}

		m.currentPartNumber++
		data := append([]byte(nil), m.buffered[m.offset:m.offset+chunkLen]...)
		m.offset += chunkLen

		part := &UploadPart{
			Data:           data,
			OwnsData:       true,
			PartNumber:     m.currentPartNumber,
			RetryRemaining: m.options.Retry,
			SlotIndex:      -1,
			State:          PartPending,
		}
		m.queue = append(m.queue, part)
	}
}

// dispatchPendingParts assigns free slots to pending parts in FIFO
// (ascending partNumber) order, kicking off CreateMultipartUpload on
// the very first call per spec.md §4.7.
func (m *MultipartUpload) dispatchPendingParts() {
	if m.state == StateNotStarted {
		if len(m.queue) == 0 {
			return
		}
		m.state = StateMultipartStarted
		logging.Info("multipart %s: not_started -> multipart_started, initiating upload", m.clientID)
		m.initiateMultipart()
		return
	}
	if m.state != StateMultipartCompleted {
		return
	}

	for _, part := range m.queue {
		if part.State != PartPending {
			continue
		}
		slot, ok := m.acquireSlot()
		if !ok {
			break
		}
		part.SlotIndex = slot
		part.State = PartStarted
		m.dispatchPart(part)
	}

	if m.metrics != nil {
		m.metrics.SetQueueDepth(m.bucket, m.pendingCount())
		m.metrics.SetInFlightParts(m.bucket, m.inFlightCount())
	}

	m.maybeCommit()
}

func (m *MultipartUpload) pendingCount() int {
	n := 0
	for _, p := range m.queue {
		if p.State == PartPending {
			n++
		}
	}
	return n
}

func (m *MultipartUpload) inFlightCount() int {
	n := 0
	for _, p := range m.queue {
		if p.State == PartStarted {
			n++
		}
	}
	return n
}

func (m *MultipartUpload) acquireSlot() (int, bool) {
	masked := m.availableMask & fullMask(m.options.QueueSize)
	if masked == 0 {
		return 0, false
	}
	slot := bits.TrailingZeros64(masked)
	m.availableMask &^= 1 << uint(slot)
	return slot, true
}

func (m *MultipartUpload) releaseSlot(slot int) {
	if slot < 0 {
		return
	}
	m.availableMask |= 1 << uint(slot)
}

func (m *MultipartUpload) initiateMultipart() {
	spec := s3xfer.RequestSpec{
		Path:         m.path,
		SearchParams: []s3sign.KV{{Key: "uploads", Value: ""}},
		ContentType:  m.ct,
		ProxyURL:     m.proxy,
		ACL:          m.acl,
		ClientID:     m.clientID,
	}
	go func() {
		result := m.executor.Initiate(context.Background(), m.creds, spec)
		m.events <- initiateDoneEvent{result: result}
	}()
}

func (m *MultipartUpload) handleInitiateDone(result *s3xfer.Result) {
	if m.state == StateFinished {
		return
	}
	if result.Outcome != s3xfer.OutcomeSuccess {
		m.triggerFailure(classifiedErr(result))
		return
	}
	m.uploadID = result.ETag
	m.state = StateMultipartCompleted
	logging.Info("multipart %s: multipart_started -> multipart_completed, uploadId=%s", m.clientID, m.uploadID)
	m.dispatchPendingParts()
}

func (m *MultipartUpload) dispatchPart(part *UploadPart) {
	spec := s3xfer.RequestSpec{
		Path: m.path,
		SearchParams: []s3sign.KV{
			{Key: "partNumber", Value: strconv.Itoa(part.PartNumber)},
			{Key: "uploadId", Value: m.uploadID},
			{Key: "x-id", Value: "UploadPart"},
		},
		Body:     part.Data,
		ProxyURL: m.proxy,
		ClientID: m.clientID,
	}
	go func() {
		result := m.executor.Part(context.Background(), m.creds, spec)
		m.events <- partDoneEvent{part: part, result: result}
	}()
}

func (m *MultipartUpload) handlePartDone(part *UploadPart, result *s3xfer.Result) {
	if m.state == StateFinished || part.State == PartCanceled {
		m.freePart(part)
		return
	}

	if result.Outcome == s3xfer.OutcomeSuccess {
		part.State = PartCompleted
		part.OwnsData = false
		part.Data = nil
		m.multipartEtags = append(m.multipartEtags, etagEntry{PartNumber: part.PartNumber, ETag: result.ETag})
		m.releaseSlot(part.SlotIndex)
		if m.metrics != nil {
			m.metrics.RecordOperation("part", m.bucket, "success", 0)
		}
		m.dispatchPendingParts()
		return
	}

	if m.metrics != nil {
		m.metrics.RecordOperation("part", m.bucket, "failure", 0)
	}
	if part.RetryRemaining > 0 {
		part.RetryRemaining--
		part.State = PartPending
		m.releaseSlot(part.SlotIndex)
		part.SlotIndex = -1
		logging.Warn("multipart %s: part %d failed, retrying (%d left): %v", m.clientID, part.PartNumber, part.RetryRemaining, classifiedErr(result))
		m.dispatchPendingParts()
		return
	}

	m.triggerFailure(fmt.Errorf("part %d exhausted retries: %w", part.PartNumber, classifiedErr(result)))
}

func (m *MultipartUpload) freePart(part *UploadPart) {
	if part.OwnsData {
		part.Data = nil
		part.OwnsData = false
	}
}

// maybeCommit assembles and issues CompleteMultipartUpload once the
// stream has ended, every part has completed, and no slot is in use.
func (m *MultipartUpload) maybeCommit() {
	if !m.ended || m.state != StateMultipartCompleted {
		return
	}
	if m.availableMask != fullMask(m.options.QueueSize) {
		return
	}
	for _, p := range m.queue {
		if p.State != PartCompleted {
			return
		}
	}

	sort.Slice(m.multipartEtags, func(i, j int) bool {
		return m.multipartEtags[i].PartNumber < m.multipartEtags[j].PartNumber
	})

	body := buildCompleteMultipartBody(m.multipartEtags)
	spec := s3xfer.RequestSpec{
		Path:         m.path,
		SearchParams: []s3sign.KV{{Key: "uploadId", Value: m.uploadID}},
		Body:         body,
		ProxyURL:     m.proxy,
		ClientID:     m.clientID,
	}
	go func() {
		result := m.executor.Commit(context.Background(), m.creds, spec)
		m.events <- commitDoneEvent{result: result}
	}()
}

func (m *MultipartUpload) handleCommitDone(result *s3xfer.Result) {
	if m.state == StateFinished {
		return
	}
	if result.Outcome == s3xfer.OutcomeSuccess {
		if m.metrics != nil {
			m.metrics.RecordOperation("commit", m.bucket, "success", 0)
		}
		m.finalize(Result{Outcome: OutcomeSuccess})
		return
	}

	if m.metrics != nil {
		m.metrics.RecordOperation("commit", m.bucket, "failure", 0)
	}
	if m.commitRetryLeft > 0 {
		m.commitRetryLeft--
		logging.Warn("multipart %s: commit failed, retrying (%d left): %v", m.clientID, m.commitRetryLeft, classifiedErr(result))
		m.maybeCommit()
		return
	}
	m.triggerFailure(fmt.Errorf("commit exhausted retries: %w", classifiedErr(result)))
}

func (m *MultipartUpload) startSinglefileUpload() {
	m.state = StateSinglefileStarted
	logging.Info("multipart %s: not_started -> singlefile_started (%d bytes)", m.clientID, len(m.buffered)-int(m.offset))
	spec := s3xfer.RequestSpec{
		Path:        m.path,
		ContentType: m.ct,
		Body:        m.buffered[m.offset:],
		ProxyURL:    m.proxy,
		ACL:         m.acl,
		ClientID:    m.clientID,
	}
	go func() {
		result := m.executor.Upload(context.Background(), m.creds, spec)
		m.events <- singlefileDoneEvent{result: result}
	}()
}

func (m *MultipartUpload) handleSinglefileDone(result *s3xfer.Result) {
	if m.state == StateFinished {
		return
	}
	if result.Outcome == s3xfer.OutcomeSuccess {
		if m.metrics != nil {
			m.metrics.RecordOperation("upload", m.bucket, "success", 0)
			m.metrics.RecordBytes("upload", m.bucket, int64(len(m.buffered))-m.offset)
		}
		m.finalize(Result{Outcome: OutcomeSuccess, ETag: result.ETag})
		return
	}

	if m.metrics != nil {
		m.metrics.RecordOperation("upload", m.bucket, "failure", 0)
	}
	if m.commitRetryLeft > 0 {
		m.commitRetryLeft--
		logging.Warn("multipart %s: singlefile upload failed, retrying (%d left): %v", m.clientID, m.commitRetryLeft, classifiedErr(result))
		m.startSinglefileUpload()
		return
	}
	m.triggerFailure(fmt.Errorf("singlefile upload exhausted retries: %w", classifiedErr(result)))
}

// triggerFailure cancels every pending/started part and fails the
// upload. If no multipart upload was ever created it fires the user
// callback with failure at once; otherwise it first issues the abort
// (DELETE uploadId) and the failure callback fires once that abort
// succeeds or exhausts its retries.
func (m *MultipartUpload) triggerFailure(err error) {
	if m.state == StateFinished {
		return
	}
	m.lastErr = err
	logging.Error("multipart %s: failing: %v", m.clientID, err)

	for _, p := range m.queue {
		if p.State == PartPending || p.State == PartStarted {
			p.State = PartCanceled
			m.freePart(p)
		}
	}

	if m.uploadID == "" {
		m.finalize(Result{Outcome: OutcomeFailure, Err: err})
		return
	}
	m.issueAbort()
}

func (m *MultipartUpload) issueAbort() {
	spec := s3xfer.RequestSpec{
		Path:         m.path,
		SearchParams: []s3sign.KV{{Key: "uploadId", Value: m.uploadID}},
		ProxyURL:     m.proxy,
		ClientID:     m.clientID,
	}
	go func() {
		result := m.executor.Delete(context.Background(), m.creds, spec)
		m.events <- abortDoneEvent{result: result}
	}()
}

func (m *MultipartUpload) handleAbortDone(result *s3xfer.Result) {
	if m.state == StateFinished {
		return
	}
	if result.Outcome == s3xfer.OutcomeSuccess || result.Outcome == s3xfer.OutcomeNotFound {
		if m.metrics != nil {
			m.metrics.RecordAbort(m.bucket, "upload_failure")
		}
		m.finalize(Result{Outcome: OutcomeFailure, Err: m.lastErr})
		return
	}
	if m.abortRetryLeft > 0 {
		m.abortRetryLeft--
		logging.Warn("multipart %s: abort failed, retrying (%d left)", m.clientID, m.abortRetryLeft)
		m.issueAbort()
		return
	}
	logging.Error("multipart %s: abort exhausted retries, giving up on rollback", m.clientID)
	if m.metrics != nil {
		m.metrics.RecordAbort(m.bucket, "rollback_exhausted")
	}
	m.finalize(Result{Outcome: OutcomeFailure, Err: m.lastErr})
}

// finalize delivers the single terminal callback and transitions to
// StateFinished; per spec.md's terminal invariant, every event handler
// checks this state first and absorbs late completions silently.
func (m *MultipartUpload) finalize(result Result) {
	if m.state == StateFinished {
		return
	}
	m.state = StateFinished
	logging.Info("multipart %s: -> finished (outcome=%d)", m.clientID, result.Outcome)
	if m.onResult != nil {
		m.onResult(result)
	}
}

func classifiedErr(result *s3xfer.Result) error {
	if result.Err != nil {
		return result.Err
	}
	return fmt.Errorf("unknown failure")
}
