package sis

import (
	"context"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/noah-isme/sis-sync/internal/models"
	"github.com/noah-isme/sis-sync/pkg/decode"
	appErrors "github.com/noah-isme/sis-sync/pkg/errors"
	"github.com/noah-isme/sis-sync/pkg/ratelimit"
)

// DefaultExportWindow is the number of rows requested per export chunk.
const DefaultExportWindow = 5000

// ExportEndpoint is a windowed file export.
type ExportEndpoint struct {
	Name   string
	Path   string
	Format string
}

// Decoder turns one payload into rows.
type Decoder interface {
	Decode(contentType string, data []byte) (*decode.Result, error)
}

// ChunkArchive keeps payloads that could not be decoded.
type ChunkArchive interface {
	SaveChunk(tenantID, domain string, offset int, ext string, data []byte) (string, error)
}

// Chunk is one decoded export window.
type Chunk struct {
	Offset   int
	Rows     []decode.Row
	Warnings []decode.Warning
	Strategy string
	// Last is set when the chunk was empty or undersized.
	Last bool
}

// ExportIngestor fetches exports in windows and decodes each window with the
// decode fallback chain.
type ExportIngestor struct {
	fetcher  Fetcher
	pace     *ratelimit.RateLimiter
	decoder  Decoder
	window   int
	archive  ChunkArchive
	observer Observer
	logger   *zap.Logger
}

// NewExportIngestor constructs an ExportIngestor. archive may be nil.
func NewExportIngestor(fetcher Fetcher, pace *ratelimit.RateLimiter, decoder Decoder, window int, archive ChunkArchive, observer Observer, logger *zap.Logger) *ExportIngestor {
	if pace == nil {
		pace = ratelimit.NewRateLimiter(&ratelimit.Config{MaxAttempts: 1})
	}
	if decoder == nil {
		decoder = decode.NewChain(decode.DefaultMaxCellLength)
	}
	if window <= 0 {
		window = DefaultExportWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportIngestor{
		fetcher:  fetcher,
		pace:     pace,
		decoder:  decoder,
		window:   window,
		archive:  archive,
		observer: observerOrNop(observer),
		logger:   logger,
	}
}

// FetchAndDecode fetches and decodes the window starting at offset. A chunk
// that no strategy can decode is archived and reported as a parse error
// carrying the offset.
func (x *ExportIngestor) FetchAndDecode(ctx context.Context, tenant models.TenantConfig, ep ExportEndpoint, window, offset int, params url.Values) (*Chunk, error) {
	if window <= 0 {
		window = x.window
	}
	if err := x.pace.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	for k, v := range params {
		query[k] = append([]string(nil), v...)
	}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(window))
	if ep.Format != "" {
		query.Set("format", ep.Format)
	}

	payload, err := x.fetcher.Get(ctx, tenant, ep.Path, query)
	if err != nil {
		return nil, annotate(err, "%s chunk at offset %d", ep.Name, offset)
	}

	result, err := x.decoder.Decode(payload.ContentType, payload.Body)
	if err != nil {
		x.keep(tenant, ep, offset, payload)
		return nil, appErrors.WrapAs(appErrors.ErrParse, err, "%s chunk at offset %d could not be decoded", ep.Name, offset)
	}
	x.observer.ChunkDecoded(ep.Name, result.Strategy, len(result.Rows))
	for _, w := range result.Warnings {
		x.logger.Sugar().Warnw("export decode warning", "tenant_id", tenant.TenantID, "endpoint", ep.Name, "offset", offset, "row", w.Row, "column", w.Column, "message", w.Message)
	}

	return &Chunk{
		Offset:   offset,
		Rows:     result.Rows,
		Warnings: result.Warnings,
		Strategy: result.Strategy,
		Last:     len(result.Rows) < window,
	}, nil
}

// Each walks the export window by window until an empty or undersized chunk,
// handing each chunk to fn before the next is fetched. It returns the total
// number of decoded rows.
func (x *ExportIngestor) Each(ctx context.Context, tenant models.TenantConfig, ep ExportEndpoint, params url.Values, fn func(*Chunk) error) (int, error) {
	total := 0
	for offset := 0; ; offset += x.window {
		chunk, err := x.FetchAndDecode(ctx, tenant, ep, x.window, offset, params)
		if err != nil {
			return total, err
		}
		total += len(chunk.Rows)
		if len(chunk.Rows) > 0 {
			if err := fn(chunk); err != nil {
				return total, err
			}
		}
		if chunk.Last {
			return total, nil
		}
	}
}

func (x *ExportIngestor) keep(tenant models.TenantConfig, ep ExportEndpoint, offset int, payload *Payload) {
	if x.archive == nil {
		return
	}
	ext := "bin"
	switch decode.DetectKind(payload.ContentType, payload.Body) {
	case decode.KindSpreadsheet:
		ext = "xlsx"
	case decode.KindDelimited:
		ext = "csv"
	}
	name, err := x.archive.SaveChunk(tenant.TenantID, ep.Name, offset, ext, payload.Body)
	if err != nil {
		x.logger.Sugar().Errorw("failed to archive undecodable chunk", "tenant_id", tenant.TenantID, "endpoint", ep.Name, "offset", offset, "error", err)
		return
	}
	x.logger.Sugar().Warnw("undecodable chunk archived", "tenant_id", tenant.TenantID, "endpoint", ep.Name, "offset", offset, "file", name)
}
