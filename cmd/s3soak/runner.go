package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ethanadams/s3client/internal/config"
	"github.com/ethanadams/s3client/internal/fixture"
	"github.com/ethanadams/s3client/internal/logging"
	"github.com/ethanadams/s3client/internal/metrics"
	"github.com/ethanadams/s3client/internal/s3multipart"
	"github.com/ethanadams/s3client/internal/s3sign"
	"github.com/ethanadams/s3client/internal/s3xfer"
)

// soakRunner implements scheduler.CycleRunner, driving each configured
// cycle's upload, download, or delete against the coordinator and
// simple executor built for this process.
type soakRunner struct {
	executor        *s3xfer.Executor
	metrics         *metrics.Collector
	creds           *s3sign.Credentials
	fixtures        *fixture.Generator
	acl             s3sign.ACL
	waitStreamCheck bool
}

func newSoakRunner(executor *s3xfer.Executor, mc *metrics.Collector, creds *s3sign.Credentials, acl s3sign.ACL, waitStreamCheck bool) *soakRunner {
	return &soakRunner{
		executor:        executor,
		metrics:         mc,
		creds:           creds,
		fixtures:        fixture.New(),
		acl:             acl,
		waitStreamCheck: waitStreamCheck,
	}
}

func (r *soakRunner) RunCycle(ctx context.Context, cycle config.SoakCycle) error {
	switch cycle.Action {
	case "upload":
		return r.runUpload(ctx, cycle)
	case "download":
		return r.runDownload(ctx, cycle)
	case "delete":
		return r.runDelete(ctx, cycle)
	default:
		return fmt.Errorf("unknown soak cycle action %q", cycle.Action)
	}
}

func (r *soakRunner) runUpload(ctx context.Context, cycle config.SoakCycle) error {
	path, err := r.fixtures.Ensure(cycle.Name, cycle.GetFileSize())
	if err != nil {
		return fmt.Errorf("soak upload %s: %w", cycle.Name, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("soak upload %s: %w", cycle.Name, err)
	}
	defer f.Close()

	done := make(chan s3multipart.Result, 1)
	start := time.Now()

	mp, err := s3multipart.New(r.executor, r.metrics, s3multipart.Params{
		Credentials: r.creds,
		Path:        "/" + cycle.Key,
		ContentType: "application/octet-stream",
		ACL:         r.acl,
		Options:     s3multipart.DefaultOptions(),
	}, r.waitStreamCheck, func(res s3multipart.Result) { done <- res })
	if err != nil {
		return fmt.Errorf("soak upload %s: %w", cycle.Name, err)
	}
	if r.waitStreamCheck && cycle.GetFileSize() > 0 {
		// The configured payload size is nonzero and the fixture file
		// opened above without error, so release the wait_stream_check
		// latch before sending any chunks.
		mp.ContinueStream()
	}

	buf := make([]byte, 1024*1024)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			mp.SendRequestData(chunk, false)
		}
		if readErr != nil {
			mp.SendRequestData(nil, true)
			break
		}
	}

	select {
	case res := <-done:
		r.metrics.RecordOperation("soak_upload", r.creds.Bucket, outcomeLabel(res.Outcome == s3multipart.OutcomeSuccess), time.Since(start))
		if res.Outcome != s3multipart.OutcomeSuccess {
			return fmt.Errorf("soak upload %s: %w", cycle.Name, res.Err)
		}
		logging.Info("soak upload %s complete (etag=%s)", cycle.Name, res.ETag)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *soakRunner) runDownload(ctx context.Context, cycle config.SoakCycle) error {
	start := time.Now()
	res := r.executor.Download(ctx, r.creds, s3xfer.RequestSpec{Path: "/" + cycle.Key})
	success := res.Outcome == s3xfer.OutcomeSuccess
	r.metrics.RecordOperation("soak_download", r.creds.Bucket, outcomeLabel(success), time.Since(start))
	if !success {
		if res.Outcome == s3xfer.OutcomeNotFound {
			logging.Warn("soak download %s: object not found", cycle.Name)
			return nil
		}
		return fmt.Errorf("soak download %s: %s", cycle.Name, res.Err)
	}
	r.metrics.RecordBytes("soak_download", r.creds.Bucket, res.ContentLength)
	logging.Info("soak download %s complete (%d bytes)", cycle.Name, res.ContentLength)
	return nil
}

func (r *soakRunner) runDelete(ctx context.Context, cycle config.SoakCycle) error {
	start := time.Now()
	res := r.executor.Delete(ctx, r.creds, s3xfer.RequestSpec{Path: "/" + cycle.Key})
	success := res.Outcome == s3xfer.OutcomeSuccess || res.Outcome == s3xfer.OutcomeNotFound
	r.metrics.RecordOperation("soak_delete", r.creds.Bucket, outcomeLabel(success), time.Since(start))
	if !success {
		return fmt.Errorf("soak delete %s: %s", cycle.Name, res.Err)
	}
	logging.Info("soak delete %s complete", cycle.Name)
	return nil
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
