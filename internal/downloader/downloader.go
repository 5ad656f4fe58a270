// Package downloader fetches the session files whose names match configured patterns.
package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/council-sessions/internal/metrics"
	"github.com/JakeFAU/council-sessions/internal/session"
)

const pdfContentType = "application/pdf"

// Status is the classification of one session file.
type Status int

// File classifications.
const (
	StatusError Status = iota + 1
	StatusExisting
	StatusToDownload
	StatusIgnored
)

func (s Status) String() string {
	switch s {
	case StatusError:
		return "error"
	case StatusExisting:
		return "existing"
	case StatusToDownload:
		return "to_download"
	case StatusIgnored:
		return "ignored"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Classify decides what to do with file. Files missing a name or alias are
// errors, already stored files are kept, and otherwise the name must contain
// one of patterns to be downloaded.
func Classify(file session.DetailFile, exists bool, patterns []string) Status {
	if strings.TrimSpace(file.Alias) == "" || strings.TrimSpace(file.Name) == "" {
		return StatusError
	}
	if exists {
		return StatusExisting
	}
	for _, p := range patterns {
		if p != "" && strings.Contains(file.Name, p) {
			return StatusToDownload
		}
	}
	return StatusIgnored
}

// Store lists the sessions whose files are considered.
type Store interface {
	All() []session.Record
}

// Fetcher retrieves file bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// BlobStore persists downloaded files by alias.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Config selects the files to download.
type Config struct {
	Patterns []string
}

// Result counts file outcomes across all sessions.
type Result struct {
	Downloaded int `json:"downloaded"`
	Failed     int `json:"failed"`
	Ignored    int `json:"ignored"`
	Existing   int `json:"existing"`
}

func (r *Result) add(o Result) {
	r.Downloaded += o.Downloaded
	r.Failed += o.Failed
	r.Ignored += o.Ignored
	r.Existing += o.Existing
}

// Downloader copies matching session files into a BlobStore.
type Downloader struct {
	cfg     Config
	store   Store
	fetcher Fetcher
	blobs   BlobStore
	logger  *zap.Logger
}

// New builds a Downloader.
func New(cfg Config, st Store, fetcher Fetcher, blobs BlobStore, logger *zap.Logger) (*Downloader, error) {
	if st == nil || fetcher == nil || blobs == nil {
		return nil, errors.New("downloader store, fetcher and blob store are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{cfg: cfg, store: st, fetcher: fetcher, blobs: blobs, logger: logger}, nil
}

// DownloadAll processes the files of every stored session.
// Only cancellation is returned as an error.
func (d *Downloader) DownloadAll(ctx context.Context) (Result, error) {
	var total Result
	for _, rec := range d.store.All() {
		res, err := d.DownloadSession(ctx, rec)
		total.add(res)
		if err != nil {
			return total, err
		}
	}
	d.logger.Info("file download finished",
		zap.Int("downloaded", total.Downloaded),
		zap.Int("failed", total.Failed),
		zap.Int("ignored", total.Ignored),
		zap.Int("existing", total.Existing),
	)
	return total, nil
}

// DownloadSession processes the files attached to one session.
func (d *Downloader) DownloadSession(ctx context.Context, rec session.Record) (Result, error) {
	var res Result
	for _, file := range rec.Files() {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("download canceled: %w", err)
		}
		logger := d.logger.With(zap.String("name", file.Name), zap.String("alias", file.Alias))

		exists := false
		if strings.TrimSpace(file.Alias) != "" {
			var err error
			exists, err = d.blobs.Exists(ctx, file.Alias)
			if err != nil {
				logger.Error("file existence check failed", zap.Error(err))
				res.Failed++
				metrics.ObserveFile(StatusError.String())
				continue
			}
		}
		d.dispatch(ctx, logger, file, Classify(file, exists, d.cfg.Patterns), &res)
	}
	return res, nil
}

func (d *Downloader) dispatch(ctx context.Context, logger *zap.Logger, file session.DetailFile, status Status, res *Result) {
	switch status {
	case StatusToDownload:
		if err := d.download(ctx, file); err != nil {
			logger.Error("file download failed", zap.String("url", file.URL), zap.Error(err))
			res.Failed++
			metrics.ObserveFile("failed")
			return
		}
		logger.Info("file downloaded")
		res.Downloaded++
		metrics.ObserveFile("downloaded")
	case StatusError:
		logger.Error("file entry is incomplete")
		res.Failed++
		metrics.ObserveFile(status.String())
	case StatusIgnored:
		logger.Debug("file ignored by name")
		res.Ignored++
		metrics.ObserveFile(status.String())
	case StatusExisting:
		logger.Debug("file already downloaded")
		res.Existing++
		metrics.ObserveFile(status.String())
	default:
		panic(fmt.Sprintf("downloader: unknown status %s for file %q", status, file.Name))
	}
}

func (d *Downloader) download(ctx context.Context, file session.DetailFile) error {
	body, err := d.fetcher.Fetch(ctx, file.URL)
	if err != nil {
		return err
	}
	if _, err := d.blobs.PutObject(ctx, file.Alias, pdfContentType, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("store %s: %w", file.Alias, err)
	}
	return nil
}
