package s3xfer

import (
	"context"
	"net/http"
)

// fakeTransport replays a fixed sequence of Events for every Do call,
// recording the requests it was asked to issue.
type fakeTransport struct {
	events   []Event
	requests []*Request
	err      error
}

func (f *fakeTransport) Do(ctx context.Context, req *Request) (<-chan Event, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func headerWithETag(etag string) http.Header {
	h := make(http.Header)
	h.Set("ETag", etag)
	return h
}
