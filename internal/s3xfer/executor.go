package s3xfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ethanadams/s3client/internal/s3errors"
	"github.com/ethanadams/s3client/internal/s3sign"
)

// Outcome is one of the typed result variants spec.md §4.5 assigns to
// each simple-executor operation.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNotFound
	OutcomeFailure
)

// Result is the generic envelope every simple-executor call returns.
// Only the fields relevant to the operation that produced it are
// populated.
type Result struct {
	Outcome       Outcome
	Err           *s3errors.Error
	ETag          string
	ContentLength int64
	Body          []byte
}

// Executor wraps a Signer and Transport to drive one-shot S3 REST
// operations (spec.md §4.5): sign, dispatch, classify the response
// into a typed Result.
type Executor struct {
	Signer    *s3sign.Signer
	Transport Transport
}

// NewExecutor builds an Executor over the given transport, using a
// fresh Signer with the default crypto backend.
func NewExecutor(transport Transport) *Executor {
	return &Executor{Signer: s3sign.NewSigner(), Transport: transport}
}

// RequestSpec is the input to a single simple-executor operation.
type RequestSpec struct {
	Path               string
	SearchParams       []s3sign.KV
	ContentType        string
	ContentDisposition string
	Body               []byte
	ProxyURL           string
	RangeHeader        string
	ACL                s3sign.ACL

	// ClientID, when set, is attached as the x-amz-client-id debug
	// header so a caller's correlation id shows up in S3 access logs.
	ClientID string
}

func (e *Executor) dispatch(ctx context.Context, creds *s3sign.Credentials, operation, method string, spec RequestSpec) (*Event, error) {
	signOpts := s3sign.SignOptions{
		Path:               spec.Path,
		Method:             method,
		SearchParams:       spec.SearchParams,
		ContentDisposition: spec.ContentDisposition,
		ACL:                spec.ACL,
	}
	signed, err := e.Signer.Sign(creds, signOpts)
	if err != nil {
		return nil, err
	}

	headers := make([]Header, 0, len(signed.Headers)+2)
	for _, h := range signed.Headers {
		headers = append(headers, Header{Name: h.Name, Value: h.Value})
	}
	if spec.RangeHeader != "" {
		headers = append(headers, Header{Name: "Range", Value: spec.RangeHeader})
	}
	if spec.ContentType != "" {
		headers = append(headers, Header{Name: "Content-Type", Value: spec.ContentType})
	}
	if spec.ClientID != "" {
		headers = append(headers, Header{Name: "x-amz-client-id", Value: spec.ClientID})
	}

	req := &Request{
		Method:    method,
		URL:       signed.URL,
		Headers:   headers,
		Proxy:     spec.ProxyURL,
		Operation: operation,
	}
	if spec.Body != nil {
		req.Body = newByteReader(spec.Body)
	}

	ch, err := e.Transport.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	var final Event
	for ev := range ch {
		final = ev
		if !ev.HasMore {
			break
		}
	}
	return &final, nil
}

// Stat issues a HEAD and classifies the response per spec.md §4.5's
// stat row (200 success, 404 not found, else failure).
func (e *Executor) Stat(ctx context.Context, creds *s3sign.Credentials, spec RequestSpec) *Result {
	ev, err := e.dispatch(ctx, creds, "stat", http.MethodHead, spec)
	if err != nil {
		return transportFailure(err)
	}
	if ev.Err != nil {
		return transportFailure(ev.Err)
	}
	switch ev.Status {
	case 200:
		return &Result{
			Outcome:       OutcomeSuccess,
			ETag:          ev.Headers.Get("ETag"),
			ContentLength: parseContentLength(ev.Headers.Get("Content-Length")),
		}
	case 404:
		return &Result{Outcome: OutcomeNotFound}
	default:
		return &Result{Outcome: OutcomeFailure, Err: s3errors.ErrorWithBody(ev.Body, false)}
	}
}

// Download issues a GET (optionally ranged) and classifies per
// spec.md §4.5's download row (200/204/206 success).
func (e *Executor) Download(ctx context.Context, creds *s3sign.Credentials, spec RequestSpec) *Result {
	ev, err := e.dispatch(ctx, creds, "download", http.MethodGet, spec)
	if err != nil {
		return transportFailure(err)
	}
	if ev.Err != nil {
		return transportFailure(ev.Err)
	}
	switch ev.Status {
	case 200, 204, 206:
		return &Result{Outcome: OutcomeSuccess, Body: ev.Body, ContentLength: int64(len(ev.Body))}
	case 404:
		return &Result{Outcome: OutcomeNotFound}
	default:
		return &Result{Outcome: OutcomeFailure, Err: s3errors.ErrorWithBody(ev.Body, false)}
	}
}

// Upload issues a PUT and classifies per spec.md §4.5's upload row
// (200 success, anything else failure — upload has no not-found
// variant).
func (e *Executor) Upload(ctx context.Context, creds *s3sign.Credentials, spec RequestSpec) *Result {
	ev, err := e.dispatch(ctx, creds, "upload", http.MethodPut, spec)
	if err != nil {
		return transportFailure(err)
	}
	if ev.Err != nil {
		return transportFailure(ev.Err)
	}
	if ev.Status == 200 {
		return &Result{Outcome: OutcomeSuccess, ETag: ev.Headers.Get("ETag")}
	}
	return &Result{Outcome: OutcomeFailure, Err: s3errors.ErrorWithBody(ev.Body, false)}
}

// Delete issues a DELETE and classifies per spec.md §4.5's delete row
// (200/204 success, 404 not found, else failure).
func (e *Executor) Delete(ctx context.Context, creds *s3sign.Credentials, spec RequestSpec) *Result {
	ev, err := e.dispatch(ctx, creds, "delete", http.MethodDelete, spec)
	if err != nil {
		return transportFailure(err)
	}
	if ev.Err != nil {
		return transportFailure(ev.Err)
	}
	switch ev.Status {
	case 200, 204:
		return &Result{Outcome: OutcomeSuccess}
	case 404:
		return &Result{Outcome: OutcomeNotFound}
	default:
		return &Result{Outcome: OutcomeFailure, Err: s3errors.ErrorWithBody(ev.Body, false)}
	}
}

// Commit issues the CompleteMultipartUpload POST and classifies per
// spec.md §4.5's commit row: 200 is only a success if the body carries
// no <Error> envelope.
func (e *Executor) Commit(ctx context.Context, creds *s3sign.Credentials, spec RequestSpec) *Result {
	ev, err := e.dispatch(ctx, creds, "commit", http.MethodPost, spec)
	if err != nil {
		return transportFailure(err)
	}
	if ev.Err != nil {
		return transportFailure(ev.Err)
	}
	if classified := s3errors.FailIfContainsError(ev.Status, ev.Body); classified != nil {
		return &Result{Outcome: OutcomeFailure, Err: classified}
	}
	return &Result{Outcome: OutcomeSuccess, Body: ev.Body}
}

// Part issues the UploadPart PUT and classifies per spec.md §4.5's
// part row: any anomaly (a status other than 200/206, a body
// containing <Error>, or a missing ETag header) is a failure.
func (e *Executor) Part(ctx context.Context, creds *s3sign.Credentials, spec RequestSpec) *Result {
	ev, err := e.dispatch(ctx, creds, "part", http.MethodPut, spec)
	if err != nil {
		return transportFailure(err)
	}
	if ev.Err != nil {
		return transportFailure(ev.Err)
	}
	if classified := s3errors.FailIfContainsError(ev.Status, ev.Body); classified != nil {
		return &Result{Outcome: OutcomeFailure, Err: classified}
	}
	etag := ev.Headers.Get("ETag")
	if etag == "" {
		return &Result{Outcome: OutcomeFailure, Err: &s3errors.Error{Code: "UnknownError", Message: "part response missing ETag"}}
	}
	return &Result{Outcome: OutcomeSuccess, ETag: etag}
}

// Initiate issues the CreateMultipartUpload POST (`?uploads=`) and
// extracts the `<UploadId>` element from the response body; absence of
// that element is itself a failure even on a 2xx status.
func (e *Executor) Initiate(ctx context.Context, creds *s3sign.Credentials, spec RequestSpec) *Result {
	ev, err := e.dispatch(ctx, creds, "initiate", http.MethodPost, spec)
	if err != nil {
		return transportFailure(err)
	}
	if ev.Err != nil {
		return transportFailure(ev.Err)
	}
	if classified := s3errors.FailIfContainsError(ev.Status, ev.Body); classified != nil {
		return &Result{Outcome: OutcomeFailure, Err: classified}
	}
	uploadID := extractUploadID(ev.Body)
	if uploadID == "" {
		return &Result{Outcome: OutcomeFailure, Err: &s3errors.Error{Code: "UnknownError", Message: "Failed to initiate multipart upload"}}
	}
	return &Result{Outcome: OutcomeSuccess, ETag: uploadID}
}

func extractUploadID(body []byte) string {
	const open, closeTag = "<UploadId>", "</UploadId>"
	start := bytes.Index(body, []byte(open))
	if start < 0 {
		return ""
	}
	start += len(open)
	end := bytes.Index(body[start:], []byte(closeTag))
	if end < 0 {
		return ""
	}
	return string(body[start : start+end])
}

func transportFailure(err error) *Result {
	return &Result{
		Outcome: OutcomeFailure,
		Err:     &s3errors.Error{Code: fmt.Sprintf("%T", err), Message: err.Error()},
	}
}

func parseContentLength(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader {
	return &byteReader{data: data}
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
