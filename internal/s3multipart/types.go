// Package s3multipart implements the multipart upload coordinator: a
// state machine that drives an arbitrarily large byte stream through
// bounded, concurrent part uploads with backpressure, retry, and
// atomic completion/rollback.
package s3multipart

import (
	"fmt"

	"github.com/ethanadams/s3client/internal/s3sign"
)

// MaxQueueSize is the hard ceiling on in-flight parts, independent of
// whatever QueueSize a caller requests.
const MaxQueueSize = 64

// MaxSingleUploadSize is the largest payload the coordinator will ever
// send as a single PUT instead of a multipart upload.
const MaxSingleUploadSize = 5120 * 1024 * 1024

// State is one node of the coordinator's lifecycle graph:
//
//	waitStreamCheck -> notStarted -> {singlefileStarted | multipartStarted -> multipartCompleted} -> finished
type State int

const (
	StateWaitStreamCheck State = iota
	StateNotStarted
	StateSinglefileStarted
	StateMultipartStarted
	StateMultipartCompleted
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateWaitStreamCheck:
		return "wait_stream_check"
	case StateNotStarted:
		return "not_started"
	case StateSinglefileStarted:
		return "singlefile_started"
	case StateMultipartStarted:
		return "multipart_started"
	case StateMultipartCompleted:
		return "multipart_completed"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// PartState is the lifecycle of one UploadPart.
type PartState int

const (
	PartPending PartState = iota
	PartStarted
	PartCompleted
	PartCanceled
)

// UploadPart is one slice of the logical upload, owned by the
// coordinator until it completes or is canceled.
type UploadPart struct {
	Data           []byte
	OwnsData       bool
	PartNumber     int
	RetryRemaining int
	SlotIndex      int
	State          PartState
}

// Options is MultiPartUploadOptions: queueSize/partSize/retry, each
// bounded per spec.md §3 and the Open Question resolutions recorded
// in DESIGN.md.
type Options struct {
	QueueSize int
	PartSize  int64 // bytes
	Retry     int
}

// DefaultOptions mirrors the teacher's config defaults scaled to
// multipart semantics: 4 concurrent parts, 8 MiB parts, 3 retries.
func DefaultOptions() Options {
	return Options{QueueSize: 4, PartSize: 8 * 1024 * 1024, Retry: 3}
}

// Validate normalizes QueueSize (min(queueSize,255) then the hard
// MaxQueueSize=64 ceiling) and rejects out-of-range PartSize/Retry.
// PartSize validity is an explicit `< 5MiB || > 5120MiB` OR-check, not
// the AND-check an earlier draft of this coordinator used (which
// accepted no value as invalid).
func (o *Options) Validate() error {
	if o.QueueSize < 1 {
		return fmt.Errorf("queueSize must be >= 1, got %d", o.QueueSize)
	}
	if o.QueueSize > 255 {
		o.QueueSize = 255
	}
	if o.QueueSize > MaxQueueSize {
		o.QueueSize = MaxQueueSize
	}

	const minPart = 5 * 1024 * 1024
	const maxPart = int64(MaxSingleUploadSize)
	if o.PartSize < minPart || o.PartSize > maxPart {
		return fmt.Errorf("partSize must be within [5MiB, 5120MiB], got %d bytes", o.PartSize)
	}

	if o.Retry < 0 || o.Retry > 255 {
		return fmt.Errorf("retry must be within [0, 255], got %d", o.Retry)
	}
	return nil
}

// Outcome is the terminal classification delivered to the caller's
// result callback.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

// Result is the single terminal callback payload a MultipartUpload
// delivers exactly once.
type Result struct {
	Outcome Outcome
	Err     error
	ETag    string
}

// Params describes one logical upload: target path and the optional
// request attributes carried on initiate/singlefile PUT.
type Params struct {
	Credentials *s3sign.Credentials
	Path        string
	ProxyURL    string
	ContentType string
	ACL         s3sign.ACL
	Options     Options
}
