package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"

	"github.com/tripdesk/planner/internal/services"
)

const jsonContentType = "application/json"

// ObjectWriter persists a payload and reports the stored size.
type ObjectWriter func(ctx context.Context, bucket, object string, payload []byte, metadata map[string]string) (int64, error)

// HistoryExporter archives version history documents in Cloud Storage.
type HistoryExporter struct {
	bucket string
	prefix string
	write  ObjectWriter
	signer Signer
	urlTTL time.Duration
	clock  func() time.Time
}

var _ services.HistoryExporter = (*HistoryExporter)(nil)

// HistoryExporterOption customises exporter behaviour.
type HistoryExporterOption func(*HistoryExporter)

// WithHistoryPrefix nests exports under the given object prefix.
func WithHistoryPrefix(prefix string) HistoryExporterOption {
	return func(e *HistoryExporter) {
		e.prefix = prefix
	}
}

// WithDownloadURLs attaches a V4 signed GET URL to every export.
func WithDownloadURLs(signer Signer, ttl time.Duration) HistoryExporterOption {
	return func(e *HistoryExporter) {
		if signer == nil || strings.TrimSpace(signer.Email()) == "" || ttl <= 0 {
			return
		}
		e.signer = signer
		e.urlTTL = ttl
	}
}

// WithExporterClock injects a custom clock.
func WithExporterClock(clock func() time.Time) HistoryExporterOption {
	return func(e *HistoryExporter) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithObjectWriter replaces the Cloud Storage writer.
func WithObjectWriter(writer ObjectWriter) HistoryExporterOption {
	return func(e *HistoryExporter) {
		if writer != nil {
			e.write = writer
		}
	}
}

// NewHistoryExporter constructs an exporter writing to bucket through client.
func NewHistoryExporter(client *gcs.Client, bucket string, opts ...HistoryExporterOption) (*HistoryExporter, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: history bucket is required")
	}
	exporter := &HistoryExporter{
		bucket: bucket,
		clock:  time.Now,
	}
	if client != nil {
		exporter.write = GCSObjectWriter(client)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(exporter)
		}
	}
	if exporter.write == nil {
		return nil, errors.New("storage: client or object writer is required")
	}
	return exporter, nil
}

// ExportHistory writes payload to a new timestamped object for the trip.
func (e *HistoryExporter) ExportHistory(ctx context.Context, tripID string, payload []byte) (services.HistoryExport, error) {
	if e == nil || e.write == nil {
		return services.HistoryExport{}, errors.New("storage: history exporter not initialised")
	}
	exportedAt := e.clock().UTC()
	object, err := BuildObjectPath(PurposeHistoryExport, PathParams{
		Prefix: e.prefix,
		TripID: tripID,
		At:     exportedAt,
	})
	if err != nil {
		return services.HistoryExport{}, err
	}

	size, err := e.write(ctx, e.bucket, object, payload, map[string]string{"tripId": strings.TrimSpace(tripID)})
	if err != nil {
		return services.HistoryExport{}, fmt.Errorf("storage: write history export: %w", err)
	}

	export := services.HistoryExport{
		Bucket:     e.bucket,
		Object:     object,
		Size:       size,
		ExportedAt: exportedAt,
	}
	if e.signer != nil {
		expires := exportedAt.Add(e.urlTTL)
		signed, err := gcs.SignedURL(e.bucket, object, &gcs.SignedURLOptions{
			GoogleAccessID: e.signer.Email(),
			SignBytes: func(b []byte) ([]byte, error) {
				return e.signer.SignBytes(ctx, b)
			},
			Method:  "GET",
			Expires: expires,
			Scheme:  gcs.SigningSchemeV4,
			QueryParameters: url.Values{
				"response-content-disposition": {fmt.Sprintf("attachment; filename=\"%s\"", path.Base(object))},
			},
		})
		if err != nil {
			return services.HistoryExport{}, fmt.Errorf("storage: sign download url: %w", err)
		}
		export.DownloadURL = signed
		export.URLExpiresAt = &expires
	}
	return export, nil
}

// GCSObjectWriter writes JSON objects that must not already exist.
func GCSObjectWriter(client *gcs.Client) ObjectWriter {
	return func(ctx context.Context, bucket, object string, payload []byte, metadata map[string]string) (int64, error) {
		handle := client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true})
		w := handle.NewWriter(ctx)
		w.ContentType = jsonContentType
		w.CacheControl = "no-store"
		w.Metadata = metadata
		if _, err := w.Write(payload); err != nil {
			_ = w.Close()
			return 0, err
		}
		if err := w.Close(); err != nil {
			return 0, err
		}
		if attrs := w.Attrs(); attrs != nil {
			return attrs.Size, nil
		}
		return int64(len(payload)), nil
	}
}
