// Package uploadqueue drains pending photo uploads from the relational queue
// to the remote storage provider on a fixed cadence. The engine is the only
// writer of image upload-state fields once a queue entry exists.
package uploadqueue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"packdoc/pkg/drive"
)

// ErrStagingMissing means the staged local copy vanished before the upload
// could read it.
var ErrStagingMissing = errors.New("staged file missing")

const (
	// DefaultInterval is the drain cadence; requeued entries wait for the
	// next cycle, so the interval doubles as retry backoff.
	DefaultInterval = 5 * time.Second
	// DefaultBatchSize caps entries per drain cycle.
	DefaultBatchSize = 5
)

// Entry is the engine's working view of one queue row joined with its image
// and owning record.
type Entry struct {
	QueueID     uint
	ImageID     uint
	Attempts    int
	MaxAttempts int

	ImageType    string
	FileName     string
	DisplayOrder int
	LocalPath    string

	RecordID      uint
	InvoiceNumber string
	PackedAt      time.Time
	StoreCode     string
	StoreName     string

	// Orphaned marks entries whose image or record was deleted underneath
	// them; they are failed terminally instead of crashing the drain.
	Orphaned bool
}

// Store is the persistence surface the engine drains from and writes state
// back through.
type Store interface {
	// NextBatch returns up to limit PENDING entries with attempts below
	// their cap, ordered by priority descending then creation ascending.
	NextBatch(ctx context.Context, limit int) ([]Entry, error)
	// MarkUploading moves entry and image to UPLOADING with progress 10.
	MarkUploading(ctx context.Context, queueID, imageID uint) error
	SetImageProgress(ctx context.Context, imageID uint, progress int) error
	// Complete records the remote file on the image and finishes the entry.
	Complete(ctx context.Context, queueID, imageID uint, fileID, viewURL string) error
	ClearLocalPath(ctx context.Context, imageID uint) error
	// Fail records the new attempt count and error; terminal failures also
	// mark the image FAILED.
	Fail(ctx context.Context, queueID, imageID uint, attempts int, terminal bool, msg string) error
}

// Storage is the remote provider surface (implemented by drive.Client).
type Storage interface {
	ProvisionInvoiceFolder(ctx context.Context, storeCode, storeName, invoiceNumber string, ts time.Time) (string, error)
	UploadFile(ctx context.Context, data []byte, name, mimeType, folderID string) (*drive.UploadResult, error)
	GrantPublicRead(ctx context.Context, fileID string) error
}

// Staging is the local write-ahead area the entries were staged into.
type Staging interface {
	Read(path string) ([]byte, error)
	Release(path string) error
}

// Engine runs the periodic drain loop. There is exactly one drain in flight
// at a time; the guard makes overlapping ticks no-ops rather than queueing.
type Engine struct {
	store    Store
	gateway  Storage
	staging  Staging
	interval time.Duration
	batch    int
	logger   *log.Logger

	mu       sync.Mutex
	draining bool

	stop chan struct{}
	done chan struct{}
}

// Option tweaks an Engine at construction.
type Option func(*Engine)

func WithInterval(d time.Duration) Option { return func(e *Engine) { e.interval = d } }
func WithBatchSize(n int) Option          { return func(e *Engine) { e.batch = n } }
func WithLogger(l *log.Logger) Option     { return func(e *Engine) { e.logger = l } }

func New(store Store, gateway Storage, staging Staging, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		gateway:  gateway,
		staging:  staging,
		interval: DefaultInterval,
		batch:    DefaultBatchSize,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the background drain loop with an immediate first cycle.
func (e *Engine) Start() {
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		e.Drain(context.Background())
		for {
			select {
			case <-ticker.C:
				e.Drain(context.Background())
			case <-e.stop:
				return
			}
		}
	}()
	e.logger.Printf("upload queue engine started (interval=%s batch=%d)", e.interval, e.batch)
}

// Stop halts the loop and waits for an in-flight cycle to finish.
func (e *Engine) Stop() {
	if e.stop == nil {
		return
	}
	close(e.stop)
	<-e.done
}

// Drain runs one selection-and-process pass. It returns false when another
// cycle is already in flight. One entry's failure never blocks the rest of
// the batch.
func (e *Engine) Drain(ctx context.Context) bool {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return false
	}
	e.draining = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.draining = false
		e.mu.Unlock()
	}()

	entries, err := e.store.NextBatch(ctx, e.batch)
	if err != nil {
		e.logger.Printf("queue: select batch failed: %v", err)
		return true
	}
	for _, entry := range entries {
		if err := e.process(ctx, entry); err != nil {
			e.recordFailure(ctx, entry, err)
		}
	}
	return true
}

// process runs the upload state machine for one entry.
func (e *Engine) process(ctx context.Context, entry Entry) error {
	if entry.Orphaned {
		return fmt.Errorf("image or record deleted while queued")
	}
	if err := e.store.MarkUploading(ctx, entry.QueueID, entry.ImageID); err != nil {
		return fmt.Errorf("mark uploading: %w", err)
	}

	if entry.LocalPath == "" {
		return ErrStagingMissing
	}
	data, err := e.staging.Read(entry.LocalPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStagingMissing, err)
	}

	folderID, err := e.gateway.ProvisionInvoiceFolder(ctx, entry.StoreCode, entry.StoreName, entry.InvoiceNumber, entry.PackedAt)
	if err != nil {
		return fmt.Errorf("provision folder: %w", err)
	}
	if err := e.store.SetImageProgress(ctx, entry.ImageID, 50); err != nil {
		e.logger.Printf("queue: progress update failed for image %d: %v", entry.ImageID, err)
	}

	name := remoteFileName(entry.ImageType, entry.DisplayOrder, entry.FileName)
	res, err := e.gateway.UploadFile(ctx, data, name, mimeTypeFor(entry.FileName), folderID)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if err := e.gateway.GrantPublicRead(ctx, res.FileID); err != nil {
		return fmt.Errorf("grant read: %w", err)
	}

	if err := e.store.Complete(ctx, entry.QueueID, entry.ImageID, res.FileID, res.ViewURL); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	// Release the staged copy; a leftover file is an annoyance, not a fault.
	if err := e.staging.Release(entry.LocalPath); err != nil {
		e.logger.Printf("queue: release staged file %s failed: %v", entry.LocalPath, err)
	} else if err := e.store.ClearLocalPath(ctx, entry.ImageID); err != nil {
		e.logger.Printf("queue: clear local path for image %d failed: %v", entry.ImageID, err)
	}
	return nil
}

// recordFailure bumps the attempt count, requeueing the entry until the cap
// is hit, then fails entry and image permanently.
func (e *Engine) recordFailure(ctx context.Context, entry Entry, cause error) {
	attempts := entry.Attempts + 1
	terminal := attempts >= entry.MaxAttempts || entry.Orphaned
	if err := e.store.Fail(ctx, entry.QueueID, entry.ImageID, attempts, terminal, cause.Error()); err != nil {
		e.logger.Printf("queue: record failure for entry %d failed: %v", entry.QueueID, err)
		return
	}
	if terminal {
		e.logger.Printf("queue: entry %d failed permanently after %d attempts: %v", entry.QueueID, attempts, cause)
	} else {
		e.logger.Printf("queue: entry %d attempt %d/%d failed, requeued: %v", entry.QueueID, attempts, entry.MaxAttempts, cause)
	}
}

// remoteFileName canonicalizes the provider-side name: before_1.jpg, after_2.png.
func remoteFileName(imageType string, order int, fileName string) string {
	ext := strings.TrimPrefix(filepath.Ext(fileName), ".")
	if ext == "" {
		ext = "jpg"
	}
	if order < 1 {
		order = 1
	}
	return fmt.Sprintf("%s_%d.%s", strings.ToLower(imageType), order, ext)
}

func mimeTypeFor(fileName string) string {
	if strings.HasSuffix(strings.ToLower(fileName), ".png") {
		return "image/png"
	}
	return "image/jpeg"
}
