package s3multipart

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ethanadams/s3client/internal/s3sign"
	"github.com/ethanadams/s3client/internal/s3xfer"
)

// opTransport answers each s3xfer operation from its own queue,
// repeating the last queued event once a queue is drained. It records
// every request it was asked to issue, keyed by operation.
type opTransport struct {
	mu       sync.Mutex
	queues   map[string][]s3xfer.Event
	requests map[string][]*s3xfer.Request
}

func newOpTransport() *opTransport {
	return &opTransport{
		queues:   make(map[string][]s3xfer.Event),
		requests: make(map[string][]*s3xfer.Request),
	}
}

func (t *opTransport) set(op string, events ...s3xfer.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queues[op] = events
}

func (t *opTransport) Do(ctx context.Context, req *s3xfer.Request) (<-chan s3xfer.Event, error) {
	t.mu.Lock()
	t.requests[req.Operation] = append(t.requests[req.Operation], req)
	q := t.queues[req.Operation]
	var ev s3xfer.Event
	if len(q) > 0 {
		ev = q[0]
		if len(q) > 1 {
			t.queues[req.Operation] = q[1:]
		}
	} else {
		ev = s3xfer.Event{Status: 200}
	}
	t.mu.Unlock()

	ch := make(chan s3xfer.Event, 1)
	ch <- ev
	close(ch)
	return ch, nil
}

func (t *opTransport) callCount(op string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests[op])
}

func testParams(path string, partSize int64, queueSize, retry int) Params {
	return Params{
		Credentials: &s3sign.Credentials{AccessKeyID: "AKID", SecretAccessKey: "SECRET", Bucket: "mybucket"},
		Path:        path,
		ContentType: "application/octet-stream",
		Options:     Options{QueueSize: queueSize, PartSize: partSize, Retry: retry},
	}
}

func initiateOK(uploadID string) s3xfer.Event {
	body := []byte(`<InitiateMultipartUploadResult><UploadId>` + uploadID + `</UploadId></InitiateMultipartUploadResult>`)
	return s3xfer.Event{Status: 200, Body: body}
}

func partOK(etag string) s3xfer.Event {
	h := map[string][]string{"Etag": {etag}}
	return s3xfer.Event{Status: 200, Headers: h}
}

func commitOK() s3xfer.Event {
	return s3xfer.Event{Status: 200, Body: []byte(`<CompleteMultipartUploadResult></CompleteMultipartUploadResult>`)}
}

func awaitResult(t *testing.T, results <-chan Result) Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal result")
		return Result{}
	}
}

const fiveMiB = 5 * 1024 * 1024

// TestMultipartScenario5PartSizing matches spec.md §8 Concrete Scenario
// 5 literally: a 17 MiB buffer with partSize=5MiB, queueSize=3, retry=3
// must slice into four parts sized 5/5/5/2 MiB, dispatched in ascending
// part-number order, and commit once with their sorted ETags.
func TestMultipartScenario5PartSizing(t *testing.T) {
	transport := newOpTransport()
	transport.set("initiate", initiateOK("UPLOAD1"))
	transport.set("part", partOK(`"etag-a"`), partOK(`"etag-b"`), partOK(`"etag-c"`), partOK(`"etag-d"`))
	transport.set("commit", commitOK())

	executor := s3xfer.NewExecutor(transport)
	results := make(chan Result, 1)
	params := testParams("/big-object", fiveMiB, 3, 3)

	m, err := New(executor, nil, params, false, func(r Result) { results <- r })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data := bytes.Repeat([]byte("x"), 17*1024*1024)
	m.SendRequestData(data, true)

	res := awaitResult(t, results)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("got %+v, want success", res)
	}
	if transport.callCount("part") != 4 {
		t.Fatalf("expected 4 part requests (5/5/5/2 MiB), got %d", transport.callCount("part"))
	}
	if transport.callCount("initiate") != 1 {
		t.Fatalf("expected exactly 1 initiate call, got %d", transport.callCount("initiate"))
	}
	if transport.callCount("commit") != 1 {
		t.Fatalf("expected exactly 1 commit call, got %d", transport.callCount("commit"))
	}

	partSizes := make([]int, 0, 4)
	for _, req := range transport.requests["part"] {
		n, err := readAllLen(req.Body)
		if err != nil {
			t.Fatalf("reading part body: %v", err)
		}
		partSizes = append(partSizes, n)
	}
	want := []int{5 * 1024 * 1024, 5 * 1024 * 1024, 5 * 1024 * 1024, 2 * 1024 * 1024}
	if !intSlicesEqual(partSizes, want) {
		t.Errorf("part sizes = %v, want %v", partSizes, want)
	}
}

func readAllLen(r io.Reader) (int, error) {
	if r == nil {
		return 0, nil
	}
	n, err := io.Copy(io.Discard, r)
	return int(n), err
}

func intSlicesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMultipartSerializedDispatchWithQueueSizeOne(t *testing.T) {
	transport := newOpTransport()
	transport.set("initiate", initiateOK("UPLOAD1"))
	transport.set("part", partOK(`"a"`), partOK(`"b"`), partOK(`"c"`))
	transport.set("commit", commitOK())

	executor := s3xfer.NewExecutor(transport)
	results := make(chan Result, 1)
	params := testParams("/big-object", fiveMiB, 1, 2)

	m, err := New(executor, nil, params, false, func(r Result) { results <- r })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data := bytes.Repeat([]byte("y"), fiveMiB*3)
	m.SendRequestData(data, true)

	res := awaitResult(t, results)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("got %+v, want success", res)
	}
	if transport.callCount("part") != 3 {
		t.Fatalf("expected 3 part requests, got %d", transport.callCount("part"))
	}
}

func TestMultipartPartRetryExhaustionTriggersAbort(t *testing.T) {
	transport := newOpTransport()
	transport.set("initiate", initiateOK("UPLOAD1"))
	transport.set("part", s3xfer.Event{Status: 500, Body: []byte(`<Error><Code>InternalError</Code></Error>`)})
	transport.set("delete", s3xfer.Event{Status: 204})

	executor := s3xfer.NewExecutor(transport)
	results := make(chan Result, 1)
	params := testParams("/big-object", fiveMiB, 4, 1)

	m, err := New(executor, nil, params, false, func(r Result) { results <- r })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data := bytes.Repeat([]byte("z"), fiveMiB+1)
	m.SendRequestData(data, true)

	res := awaitResult(t, results)
	if res.Outcome != OutcomeFailure {
		t.Fatalf("got %+v, want failure", res)
	}
	if transport.callCount("delete") == 0 {
		t.Fatal("expected an abort (DELETE uploadId) after retries were exhausted")
	}
}

// TestMultipartPartRetryZeroFailsImmediately exercises the retry=0
// boundary case: a part failure must trigger abort and finalize with
// failure on the very first attempt, with no retry dispatched at all.
func TestMultipartPartRetryZeroFailsImmediately(t *testing.T) {
	transport := newOpTransport()
	transport.set("initiate", initiateOK("UPLOAD1"))
	transport.set("part", s3xfer.Event{Status: 500, Body: []byte(`<Error><Code>InternalError</Code></Error>`)})
	transport.set("delete", s3xfer.Event{Status: 204})

	executor := s3xfer.NewExecutor(transport)
	results := make(chan Result, 1)
	params := testParams("/big-object", fiveMiB, 4, 0)

	m, err := New(executor, nil, params, false, func(r Result) { results <- r })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data := bytes.Repeat([]byte("z"), fiveMiB+1)
	m.SendRequestData(data, true)

	res := awaitResult(t, results)
	if res.Outcome != OutcomeFailure {
		t.Fatalf("got %+v, want failure", res)
	}
	if transport.callCount("part") != 1 {
		t.Fatalf("expected exactly 1 part attempt with retry=0, got %d", transport.callCount("part"))
	}
	if transport.callCount("delete") == 0 {
		t.Fatal("expected an abort (DELETE uploadId) after the single attempt failed")
	}
}

func TestMultipartCommitRetryThenSuccess(t *testing.T) {
	transport := newOpTransport()
	transport.set("initiate", initiateOK("UPLOAD1"))
	transport.set("part", partOK(`"a"`))
	transport.set("commit",
		s3xfer.Event{Status: 500, Body: []byte(`<Error><Code>InternalError</Code></Error>`)},
		commitOK(),
	)

	executor := s3xfer.NewExecutor(transport)
	results := make(chan Result, 1)
	params := testParams("/big-object", fiveMiB, 4, 2)

	m, err := New(executor, nil, params, false, func(r Result) { results <- r })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data := bytes.Repeat([]byte("z"), fiveMiB+1)
	m.SendRequestData(data, true)

	res := awaitResult(t, results)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("got %+v, want success after commit retry", res)
	}
	if transport.callCount("commit") != 2 {
		t.Fatalf("expected 2 commit attempts, got %d", transport.callCount("commit"))
	}
}

func TestMultipartSinglefileUploadForSmallPayload(t *testing.T) {
	transport := newOpTransport()
	transport.set("upload", s3xfer.Event{Status: 200, Headers: map[string][]string{"Etag": {`"whole-file"`}}})

	executor := s3xfer.NewExecutor(transport)
	results := make(chan Result, 1)
	params := testParams("/small-object", fiveMiB, 4, 2)

	m, err := New(executor, nil, params, false, func(r Result) { results <- r })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m.SendRequestData([]byte("hello world"), true)

	res := awaitResult(t, results)
	if res.Outcome != OutcomeSuccess || res.ETag != `"whole-file"` {
		t.Fatalf("got %+v", res)
	}
	if transport.callCount("initiate") != 0 {
		t.Fatal("singlefile upload must not initiate a multipart upload")
	}
}

func TestMultipartWaitStreamCheckRequiresContinueOrData(t *testing.T) {
	transport := newOpTransport()
	transport.set("upload", s3xfer.Event{Status: 200, Headers: map[string][]string{"Etag": {`"ok"`}}})

	executor := s3xfer.NewExecutor(transport)
	results := make(chan Result, 1)
	params := testParams("/small-object", fiveMiB, 4, 2)

	m, err := New(executor, nil, params, true, func(r Result) { results <- r })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m.ContinueStream()
	m.SendRequestData([]byte("payload"), true)

	res := awaitResult(t, results)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("got %+v, want success once the stream latch released", res)
	}
}

func TestMultipartWaitStreamCheckReleasedByFirstSendRequestData(t *testing.T) {
	transport := newOpTransport()
	transport.set("upload", s3xfer.Event{Status: 200, Headers: map[string][]string{"Etag": {`"ok"`}}})

	executor := s3xfer.NewExecutor(transport)
	results := make(chan Result, 1)
	params := testParams("/small-object", fiveMiB, 4, 2)

	m, err := New(executor, nil, params, true, func(r Result) { results <- r })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// No ContinueStream call: SendRequestData alone must release the latch.
	m.SendRequestData([]byte("payload"), true)

	res := awaitResult(t, results)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("got %+v, want success", res)
	}
}

func TestMultipartTerminalStateAbsorbsLateEvents(t *testing.T) {
	transport := newOpTransport()
	transport.set("upload", s3xfer.Event{Status: 200, Headers: map[string][]string{"Etag": {`"ok"`}}})

	executor := s3xfer.NewExecutor(transport)
	var callCount int
	var mu sync.Mutex
	params := testParams("/small-object", fiveMiB, 4, 2)

	m, err := New(executor, nil, params, false, func(r Result) {
		mu.Lock()
		callCount++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m.SendRequestData([]byte("payload"), true)
	time.Sleep(50 * time.Millisecond)

	// Late events must be silently absorbed: the loop already exited
	// StateFinished, so these sends just buffer harmlessly.
	m.SendRequestData([]byte("more"), true)
	m.ContinueStream()
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if callCount != 1 {
		t.Fatalf("onResult invoked %d times, want exactly 1", callCount)
	}
}

func TestMultipartValidateRejectsBadOptions(t *testing.T) {
	transport := newOpTransport()
	executor := s3xfer.NewExecutor(transport)

	_, err := New(executor, nil, testParams("/x", 1024, 4, 2), false, nil)
	if err == nil {
		t.Fatal("expected an error for a partSize below 5MiB")
	}

	_, err = New(executor, nil, testParams("/x", fiveMiB, 0, 2), false, nil)
	if err == nil {
		t.Fatal("expected an error for queueSize below 1")
	}
}
