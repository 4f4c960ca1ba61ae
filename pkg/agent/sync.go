package agent

import (
	"context"
	"fmt"
	"log"
)

// Syncer replays offline drafts through the normal create+upload path once
// the server is reachable again.
type Syncer struct {
	Client  *Client
	Drafts  *DraftStore
	Tracker *Tracker
	Logger  *log.Logger
}

func NewSyncer(client *Client, drafts *DraftStore) *Syncer {
	return &Syncer{
		Client:  client,
		Drafts:  drafts,
		Tracker: NewTracker(client),
		Logger:  log.Default(),
	}
}

// Replay pushes every unsynced draft to the server: create the record, then
// upload each photo in order. Synced drafts are marked and purged; a draft
// that fails partway stays unsynced for the next pass.
func (s *Syncer) Replay(ctx context.Context) error {
	if err := s.Client.Ping(ctx); err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	drafts, err := s.Drafts.Unsynced()
	if err != nil {
		return err
	}
	for _, draft := range drafts {
		if err := s.replayDraft(ctx, draft); err != nil {
			s.Logger.Printf("agent: draft %s sync failed, will retry: %v", draft.ID, err)
			continue
		}
		if err := s.Drafts.MarkSynced(draft.ID); err != nil {
			return err
		}
		if err := s.Drafts.Delete(draft.ID); err != nil {
			return err
		}
		s.Logger.Printf("agent: draft %s synced (%d photos)", draft.ID, len(draft.Photos))
	}
	return nil
}

func (s *Syncer) replayDraft(ctx context.Context, draft Draft) error {
	recordID, err := s.Client.CreateRecord(ctx, draft.InvoiceNumber, draft.Notes, draft.CreatedAt)
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	for _, photo := range draft.Photos {
		resp, err := s.Client.UploadImage(ctx, recordID, photo.Type, photo.FileName, photo.Data, nil)
		if err != nil {
			return fmt.Errorf("upload %s: %w", photo.FileName, err)
		}
		s.Tracker.Add(Upload{
			ImageID:  resp.ID,
			RecordID: recordID,
			FileName: resp.FileName,
			Status:   resp.Status,
		})
	}
	return nil
}
