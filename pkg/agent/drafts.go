package agent

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DraftPhoto is one captured photo inside a draft, stored losslessly;
// compression happens server-side at actual upload time.
type DraftPhoto struct {
	ID         string
	Type       string // BEFORE or AFTER
	Order      int
	FileName   string
	MimeType   string
	Data       []byte
	CapturedAt time.Time
}

// Draft is an unsynced packing record captured while offline. It is owned
// exclusively by this device and purged after a successful sync.
type Draft struct {
	ID            string
	InvoiceNumber string
	Notes         string
	Synced        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Photos        []DraftPhoto
}

const draftSchema = `
CREATE TABLE IF NOT EXISTS drafts (
	id TEXT PRIMARY KEY,
	invoice_number TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	synced INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_drafts_synced ON drafts(synced);
CREATE TABLE IF NOT EXISTS draft_photos (
	id TEXT PRIMARY KEY,
	draft_id TEXT NOT NULL REFERENCES drafts(id) ON DELETE CASCADE,
	image_type TEXT NOT NULL,
	display_order INTEGER NOT NULL,
	file_name TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	data BLOB NOT NULL,
	captured_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_draft_photos_draft ON draft_photos(draft_id);
`

// DraftStore persists offline drafts in an embedded SQLite database.
type DraftStore struct {
	db *sql.DB
}

func OpenDraftStore(path string) (*DraftStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open draft db: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(draftSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create draft schema: %w", err)
	}
	return &DraftStore{db: db}, nil
}

func (s *DraftStore) Close() error {
	return s.db.Close()
}

// Save inserts a new draft with its photos and returns the draft id.
func (s *DraftStore) Save(invoiceNumber, notes string, photos []DraftPhoto) (string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	id := uuid.NewString()
	now := time.Now().UTC()
	_, err = tx.Exec(
		`INSERT INTO drafts (id, invoice_number, notes, synced, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?)`,
		id, invoiceNumber, notes, now, now)
	if err != nil {
		return "", fmt.Errorf("insert draft: %w", err)
	}
	for _, p := range photos {
		photoID := p.ID
		if photoID == "" {
			photoID = uuid.NewString()
		}
		capturedAt := p.CapturedAt
		if capturedAt.IsZero() {
			capturedAt = now
		}
		_, err = tx.Exec(
			`INSERT INTO draft_photos (id, draft_id, image_type, display_order, file_name, mime_type, data, captured_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			photoID, id, p.Type, p.Order, p.FileName, p.MimeType, p.Data, capturedAt)
		if err != nil {
			return "", fmt.Errorf("insert draft photo: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// AddPhoto appends a photo to the open unsynced draft for the invoice,
// creating the draft on first use. The photo's display order is assigned
// within its type.
func (s *DraftStore) AddPhoto(invoiceNumber string, photo DraftPhoto) (string, error) {
	var draftID string
	err := s.db.QueryRow(
		`SELECT id FROM drafts WHERE invoice_number = ? AND synced = 0 ORDER BY created_at DESC LIMIT 1`,
		invoiceNumber).Scan(&draftID)
	if err == sql.ErrNoRows {
		photo.Order = 1
		return s.Save(invoiceNumber, "", []DraftPhoto{photo})
	}
	if err != nil {
		return "", err
	}

	var maxOrder sql.NullInt64
	err = s.db.QueryRow(
		`SELECT MAX(display_order) FROM draft_photos WHERE draft_id = ? AND image_type = ?`,
		draftID, photo.Type).Scan(&maxOrder)
	if err != nil {
		return "", err
	}
	photo.Order = int(maxOrder.Int64) + 1

	photoID := photo.ID
	if photoID == "" {
		photoID = uuid.NewString()
	}
	now := time.Now().UTC()
	capturedAt := photo.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = now
	}
	_, err = s.db.Exec(
		`INSERT INTO draft_photos (id, draft_id, image_type, display_order, file_name, mime_type, data, captured_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		photoID, draftID, photo.Type, photo.Order, photo.FileName, photo.MimeType, photo.Data, capturedAt)
	if err != nil {
		return "", fmt.Errorf("insert draft photo: %w", err)
	}
	_, _ = s.db.Exec(`UPDATE drafts SET updated_at = ? WHERE id = ?`, now, draftID)
	return draftID, nil
}

// Unsynced returns drafts awaiting replay, photos ordered by type then
// display order.
func (s *DraftStore) Unsynced() ([]Draft, error) {
	rows, err := s.db.Query(
		`SELECT id, invoice_number, notes, synced, created_at, updated_at
		 FROM drafts WHERE synced = 0 ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drafts []Draft
	for rows.Next() {
		var d Draft
		if err := rows.Scan(&d.ID, &d.InvoiceNumber, &d.Notes, &d.Synced, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range drafts {
		photos, err := s.photos(drafts[i].ID)
		if err != nil {
			return nil, err
		}
		drafts[i].Photos = photos
	}
	return drafts, nil
}

func (s *DraftStore) photos(draftID string) ([]DraftPhoto, error) {
	rows, err := s.db.Query(
		`SELECT id, image_type, display_order, file_name, mime_type, data, captured_at
		 FROM draft_photos WHERE draft_id = ? ORDER BY image_type ASC, display_order ASC`, draftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var photos []DraftPhoto
	for rows.Next() {
		var p DraftPhoto
		if err := rows.Scan(&p.ID, &p.Type, &p.Order, &p.FileName, &p.MimeType, &p.Data, &p.CapturedAt); err != nil {
			return nil, err
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

// MarkSynced flags a draft as replayed to the server.
func (s *DraftStore) MarkSynced(id string) error {
	_, err := s.db.Exec(`UPDATE drafts SET synced = 1, updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// Delete purges a draft and its photos.
func (s *DraftStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM drafts WHERE id = ?`, id)
	return err
}
