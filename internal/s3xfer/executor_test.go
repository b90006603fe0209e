package s3xfer

import (
	"context"
	"testing"

	"github.com/ethanadams/s3client/internal/s3sign"
)

func testCreds() *s3sign.Credentials {
	return &s3sign.Credentials{
		AccessKeyID: "AKID", SecretAccessKey: "SECRET", Bucket: "mybucket",
	}
}

func TestStatSuccessAndNotFound(t *testing.T) {
	transport := &fakeTransport{events: []Event{{Status: 200, Headers: headerWithETag(`"abc"`), HasMore: false}}}
	ex := NewExecutor(transport)
	res := ex.Stat(context.Background(), testCreds(), RequestSpec{Path: "/key"})
	if res.Outcome != OutcomeSuccess || res.ETag != `"abc"` {
		t.Fatalf("got %+v", res)
	}

	transport = &fakeTransport{events: []Event{{Status: 404}}}
	ex = NewExecutor(transport)
	res = ex.Stat(context.Background(), testCreds(), RequestSpec{Path: "/key"})
	if res.Outcome != OutcomeNotFound {
		t.Fatalf("got %+v, want not found", res)
	}
}

func TestDownloadClassifiesRangeStatuses(t *testing.T) {
	for _, status := range []int{200, 204, 206} {
		transport := &fakeTransport{events: []Event{{Status: status, Body: []byte("hello")}}}
		ex := NewExecutor(transport)
		res := ex.Download(context.Background(), testCreds(), RequestSpec{Path: "/key"})
		if res.Outcome != OutcomeSuccess {
			t.Errorf("status %d: got %+v, want success", status, res)
		}
	}
}

func TestUploadSuccessAndFailure(t *testing.T) {
	transport := &fakeTransport{events: []Event{{Status: 200, Headers: headerWithETag(`"etag1"`)}}}
	ex := NewExecutor(transport)
	res := ex.Upload(context.Background(), testCreds(), RequestSpec{Path: "/key", Body: []byte("data")})
	if res.Outcome != OutcomeSuccess || res.ETag != `"etag1"` {
		t.Fatalf("got %+v", res)
	}

	transport = &fakeTransport{events: []Event{{Status: 500, Body: []byte(`<Error><Code>InternalError</Code></Error>`)}}}
	ex = NewExecutor(transport)
	res = ex.Upload(context.Background(), testCreds(), RequestSpec{Path: "/key"})
	if res.Outcome != OutcomeFailure {
		t.Fatalf("got %+v, want failure", res)
	}
}

func TestCommitFailsOn200WithErrorBody(t *testing.T) {
	body := []byte(`<Error><Code>InternalError</Code><Message>retry</Message></Error>`)
	transport := &fakeTransport{events: []Event{{Status: 200, Body: body}}}
	ex := NewExecutor(transport)
	res := ex.Commit(context.Background(), testCreds(), RequestSpec{Path: "/key"})
	if res.Outcome != OutcomeFailure || res.Err.Code != "InternalError" {
		t.Fatalf("got %+v", res)
	}
}

func TestPartRequiresETag(t *testing.T) {
	transport := &fakeTransport{events: []Event{{Status: 200}}}
	ex := NewExecutor(transport)
	res := ex.Part(context.Background(), testCreds(), RequestSpec{Path: "/key"})
	if res.Outcome != OutcomeFailure {
		t.Fatalf("got %+v, want failure for missing ETag", res)
	}
}

func TestInitiateExtractsUploadID(t *testing.T) {
	body := []byte(`<InitiateMultipartUploadResult><Bucket>b</Bucket><Key>k</Key><UploadId>XYZ123</UploadId></InitiateMultipartUploadResult>`)
	transport := &fakeTransport{events: []Event{{Status: 200, Body: body}}}
	ex := NewExecutor(transport)
	res := ex.Initiate(context.Background(), testCreds(), RequestSpec{Path: "/key"})
	if res.Outcome != OutcomeSuccess || res.ETag != "XYZ123" {
		t.Fatalf("got %+v", res)
	}
}

func TestInitiateFailsWhenUploadIDMissing(t *testing.T) {
	transport := &fakeTransport{events: []Event{{Status: 200, Body: []byte(`<Foo/>`)}}}
	ex := NewExecutor(transport)
	res := ex.Initiate(context.Background(), testCreds(), RequestSpec{Path: "/key"})
	if res.Outcome != OutcomeFailure {
		t.Fatalf("got %+v, want failure", res)
	}
}

func TestDispatchAttachesClientIDHeader(t *testing.T) {
	transport := &fakeTransport{events: []Event{{Status: 200}}}
	ex := NewExecutor(transport)
	ex.Stat(context.Background(), testCreds(), RequestSpec{Path: "/key", ClientID: "01ARZ3"})

	if len(transport.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(transport.requests))
	}
	var found bool
	for _, h := range transport.requests[0].Headers {
		if h.Name == "x-amz-client-id" && h.Value == "01ARZ3" {
			found = true
		}
	}
	if !found {
		t.Error("x-amz-client-id header not attached")
	}
}
