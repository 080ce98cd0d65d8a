package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/zgpcy/azure-billing-collector/internal/fetch"
	"github.com/zgpcy/azure-billing-collector/internal/logger"
	"github.com/zgpcy/azure-billing-collector/internal/provider"
	"github.com/zgpcy/azure-billing-collector/internal/reconcile"
	"github.com/zgpcy/azure-billing-collector/internal/retry"
	"github.com/zgpcy/azure-billing-collector/internal/scope"
)

// collectExport runs a cost details report for the scope and streams every
// resulting CSV blob through the mapper
func (r *run) collectExport(ctx context.Context, w scope.Window, s scope.Scope, log *logger.Logger) error {
	blobs, err := r.requestReport(ctx, s, ExportParams{
		Metric: r.options.CostMetric,
		Start:  w.Start,
		End:    w.End,
	})
	if err != nil {
		return fmt.Errorf("cost details report: %w", err)
	}
	if len(blobs) == 0 {
		log.Warn("Cost details report returned no blobs")
		return nil
	}

	for i, blob := range blobs {
		if err := r.collectBlob(ctx, w, s, blob); err != nil {
			return fmt.Errorf("blob %d: %w", i+1, err)
		}
	}
	return nil
}

// requestReport asks for a cost details report and polls its Location until
// the manifest is ready. The request and every poll go through the retry
// controller. A scope the service reports as not found has no blobs.
func (r *run) requestReport(ctx context.Context, s scope.Scope, params ExportParams) ([]Blob, error) {
	resp, err := r.retry.Do(ctx, notFoundAsEmpty(func(ctx context.Context) (*fetch.Response, error) {
		return r.vendor.StartBulkExport(ctx, s.Path, params)
	}))
	if err != nil {
		return nil, err
	}

	location := ""
	for polls := 0; resp.StatusCode == http.StatusAccepted; polls++ {
		if l := resp.Header.Get("Location"); l != "" {
			location = l
		}
		if location == "" {
			return nil, fmt.Errorf("%w: report accepted without a Location", provider.ErrCollectionFailed)
		}

		wait := retry.SleepFor(resp.Header)
		if wait <= 0 {
			wait = r.pollEvery
		}
		r.log.Debug("Waiting for cost details report", "scope", s.Path, "polls", polls, "wait", wait.String())
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}

		poll := location
		resp, err = r.retry.Do(ctx, notFoundAsEmpty(func(ctx context.Context) (*fetch.Response, error) {
			return r.vendor.PollBulkExport(ctx, poll)
		}))
		if err != nil {
			return nil, err
		}
	}

	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil, nil
	}
	return decodeManifest(resp.Body)
}

// notFoundAsEmpty turns a 404 into an empty 204 so it is not classified as fatal
func notFoundAsEmpty(fn fetch.Func) fetch.Func {
	return func(ctx context.Context) (*fetch.Response, error) {
		resp, err := fn(ctx)
		if err == nil && resp != nil && resp.StatusCode == http.StatusNotFound {
			return &fetch.Response{StatusCode: http.StatusNoContent, Header: resp.Header}, nil
		}
		return resp, err
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type reportBlob struct {
	BlobLink  string `json:"blobLink"`
	ByteCount int64  `json:"byteCount"`
}

type reportManifest struct {
	Blobs []reportBlob `json:"blobs"`
}

// reportResult accepts the manifest at the top level or under properties
type reportResult struct {
	Status     string          `json:"status"`
	Manifest   *reportManifest `json:"manifest"`
	Properties *struct {
		Status   string          `json:"status"`
		Manifest *reportManifest `json:"manifest"`
	} `json:"properties"`
}

// decodeManifest reads the blob list of a finished report. Blobs without a
// link are skipped.
func decodeManifest(body []byte) ([]Blob, error) {
	var result reportResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: failed to decode report manifest: %w", provider.ErrCollectionFailed, err)
	}

	status, manifest := result.Status, result.Manifest
	if result.Properties != nil {
		if status == "" {
			status = result.Properties.Status
		}
		if manifest == nil {
			manifest = result.Properties.Manifest
		}
	}
	if strings.EqualFold(status, "Failed") {
		return nil, fmt.Errorf("%w: report generation failed", provider.ErrCollectionFailed)
	}
	if manifest == nil {
		return nil, nil
	}

	blobs := make([]Blob, 0, len(manifest.Blobs))
	for _, b := range manifest.Blobs {
		if b.BlobLink == "" {
			continue
		}
		blobs = append(blobs, Blob{Link: b.BlobLink, ByteCount: b.ByteCount})
	}
	return blobs, nil
}

func (r *run) collectBlob(ctx context.Context, w scope.Window, s scope.Scope, blob Blob) error {
	f, err := os.CreateTemp(r.tempDir, "azure-cost-*.csv")
	if err != nil {
		return fmt.Errorf("failed to stage blob: %w", err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}()

	size, err := r.download(ctx, blob, f)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind staged blob: %w", err)
	}

	reader, err := reconcile.NewCSVReader(f, r.options.PageSize)
	if err != nil {
		return err
	}

	rows := 0
	for {
		page, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		rows += len(page)

		records, err := r.mapper.MapPage(ctx, page, w.End, s.TenantID)
		if err != nil {
			return err
		}
		if err := r.send(records); err != nil {
			return err
		}
	}

	r.log.Debug("Blob processed", "bytes", size, "rows", rows)
	return nil
}

// download copies a blob into w using ranged requests, each retried
// independently. A blob of unknown size is fetched in one request.
func (r *run) download(ctx context.Context, blob Blob, w io.Writer) (int64, error) {
	if blob.ByteCount <= 0 {
		resp, err := r.retry.Do(ctx, r.chunk(blob.Link, 0, 0))
		if err != nil {
			return 0, fmt.Errorf("download: %w", err)
		}
		n, err := w.Write(resp.Body)
		if err != nil {
			return 0, fmt.Errorf("failed to stage blob: %w", err)
		}
		return int64(n), nil
	}

	var written int64
	for written < blob.ByteCount {
		length := min(r.chunkSize, blob.ByteCount-written)
		resp, err := r.retry.Do(ctx, r.chunk(blob.Link, written, length))
		if err != nil {
			return written, fmt.Errorf("download at offset %d: %w", written, err)
		}
		if len(resp.Body) == 0 {
			return written, fmt.Errorf("%w: empty range at offset %d", provider.ErrCollectorCallFailed, written)
		}
		n, err := w.Write(resp.Body)
		if err != nil {
			return written, fmt.Errorf("failed to stage blob: %w", err)
		}
		written += int64(n)
	}
	return written, nil
}

func (r *run) chunk(link string, offset, length int64) fetch.Func {
	return func(ctx context.Context) (*fetch.Response, error) {
		return r.vendor.FetchBlobChunk(ctx, link, offset, length)
	}
}
