package s3xfer

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"time"
)

// streamChunkBytes bounds how much of the response body is read per
// step; each Event carries the whole body accumulated so far, and the
// caller's streaming download task is responsible for coalescing these
// into consumer-visible reports (spec.md §4.6).
const streamChunkBytes = 64 * 1024

// TimingObserver receives a per-request httptrace breakdown. Set
// HTTPTransport.OnTiming to wire request timing into a metrics
// collector.
type TimingObserver func(operation string, timings RequestTimings)

// RequestTimings holds the httptrace phase boundaries for one
// request, mirroring what a metrics.Collector.RecordHTTPTiming call
// expects.
type RequestTimings struct {
	DNSLookup    time.Duration
	TCPConnect   time.Duration
	TLSHandshake time.Duration
	TTFB         time.Duration
	Transfer     time.Duration
	Total        time.Duration
}

// HTTPTransport is the default Transport, built on net/http. It plays
// the role of the host runtime's HTTP stack in a standalone binary; an
// embedding host may supply its own Transport instead.
type HTTPTransport struct {
	Client *http.Client

	// OnTiming, when set, receives a timing breakdown for every
	// request this transport issues that gets a response; a request
	// that fails before any response arrives is not reported.
	// Operation is taken from Request.Operation.
	OnTiming TimingObserver
}

// NewHTTPTransport returns an HTTPTransport with sane client timeouts,
// matching the teacher's http_s3_executor default client setup.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{
		Client: &http.Client{Timeout: 5 * time.Minute},
	}
}

// httpTimingTracer accumulates httptrace.ClientTrace callback
// timestamps for one request.
type httpTimingTracer struct {
	start        time.Time
	dnsStart     time.Time
	dnsDone      time.Time
	connectStart time.Time
	connectDone  time.Time
	tlsStart     time.Time
	tlsDone      time.Time
	wroteRequest time.Time
	firstByte    time.Time
}

func newHTTPTimingTracer() *httpTimingTracer {
	return &httpTimingTracer{start: time.Now()}
}

func (t *httpTimingTracer) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart:             func(httptrace.DNSStartInfo) { t.dnsStart = time.Now() },
		DNSDone:              func(httptrace.DNSDoneInfo) { t.dnsDone = time.Now() },
		ConnectStart:         func(string, string) { t.connectStart = time.Now() },
		ConnectDone:          func(string, string, error) { t.connectDone = time.Now() },
		TLSHandshakeStart:    func() { t.tlsStart = time.Now() },
		TLSHandshakeDone:     func(tls.ConnectionState, error) { t.tlsDone = time.Now() },
		WroteRequest:         func(httptrace.WroteRequestInfo) { t.wroteRequest = time.Now() },
		GotFirstResponseByte: func() { t.firstByte = time.Now() },
	}
}

func (t *httpTimingTracer) finish(transferDone time.Time) RequestTimings {
	timings := RequestTimings{Total: transferDone.Sub(t.start)}
	if !t.dnsStart.IsZero() && !t.dnsDone.IsZero() {
		timings.DNSLookup = t.dnsDone.Sub(t.dnsStart)
	}
	if !t.connectStart.IsZero() && !t.connectDone.IsZero() {
		timings.TCPConnect = t.connectDone.Sub(t.connectStart)
	}
	if !t.tlsStart.IsZero() && !t.tlsDone.IsZero() {
		timings.TLSHandshake = t.tlsDone.Sub(t.tlsStart)
	}
	if !t.wroteRequest.IsZero() && !t.firstByte.IsZero() {
		timings.TTFB = t.firstByte.Sub(t.wroteRequest)
	}
	if !t.firstByte.IsZero() {
		timings.Transfer = transferDone.Sub(t.firstByte)
	}
	return timings
}

func (t *HTTPTransport) client(proxy string) (*http.Client, error) {
	if proxy == "" {
		return t.Client, nil
	}
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		return nil, err
	}
	transport := &http.Transport{
		Proxy:           http.ProxyURL(proxyURL),
		TLSClientConfig: &tls.Config{},
	}
	clone := *t.Client
	clone.Transport = transport
	return &clone, nil
}

// Do issues the request and reads the response body in bounded
// chunks, delivering after each chunk an Event whose Body is the
// whole body accumulated so far, with HasMore=true except the last.
func (t *HTTPTransport) Do(ctx context.Context, req *Request) (<-chan Event, error) {
	tracer := newHTTPTimingTracer()
	if t.OnTiming != nil {
		ctx = httptrace.WithClientTrace(ctx, tracer.clientTrace())
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, req.Body)
	if err != nil {
		return nil, err
	}
	for _, h := range req.Headers {
		httpReq.Header.Set(h.Name, h.Value)
	}

	client, err := t.client(req.Proxy)
	if err != nil {
		return nil, err
	}

	ch := make(chan Event, 4)
	go func() {
		defer close(ch)

		resp, err := client.Do(httpReq)
		if err != nil {
			ch <- Event{Err: err, HasMore: false}
			return
		}
		defer resp.Body.Close()
		if t.OnTiming != nil {
			defer func() { t.OnTiming(req.Operation, tracer.finish(time.Now())) }()
		}

		buf := make([]byte, streamChunkBytes)
		var accumulated []byte
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				accumulated = append(accumulated, chunk...)
			}
			if readErr == io.EOF {
				ch <- Event{
					Status:  resp.StatusCode,
					Headers: resp.Header,
					Body:    accumulated,
					HasMore: false,
				}
				return
			}
			if readErr != nil {
				ch <- Event{
					Status:  resp.StatusCode,
					Headers: resp.Header,
					Body:    accumulated,
					Err:     readErr,
					HasMore: false,
				}
				return
			}
			if n > 0 {
				ch <- Event{
					Status:  resp.StatusCode,
					Headers: resp.Header,
					Body:    accumulated,
					HasMore: true,
				}
			}
		}
	}()

	return ch, nil
}
