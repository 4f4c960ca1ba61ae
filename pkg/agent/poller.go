package agent

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	// defaultPollInterval is how often outstanding uploads are re-queried.
	defaultPollInterval = 3 * time.Second
	// defaultDisplayDelay keeps a completed upload visible briefly before
	// it drops out of the tracked set.
	defaultDisplayDelay = 3 * time.Second
)

// Upload is one tracked image upload, reconciled against server state on
// every poll.
type Upload struct {
	ImageID   uint
	RecordID  uint
	FileName  string
	Status    string
	Progress  int
	Error     string
	RemoteURL string
}

func (u Upload) outstanding() bool {
	return u.Status == "PENDING" || u.Status == "UPLOADING"
}

// Tracker polls the batch status endpoint while any tracked upload is still
// outstanding and stops on its own once none remain.
type Tracker struct {
	client       *Client
	interval     time.Duration
	displayDelay time.Duration
	logger       *log.Logger

	// OnCompleted and OnFailed fire once per terminal transition.
	OnCompleted func(Upload)
	OnFailed    func(Upload)

	mu      sync.Mutex
	items   map[uint]*Upload
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewTracker(client *Client) *Tracker {
	return &Tracker{
		client:       client,
		interval:     defaultPollInterval,
		displayDelay: defaultDisplayDelay,
		logger:       log.Default(),
		items:        map[uint]*Upload{},
	}
}

// Add registers an upload and starts the polling loop if it is idle.
func (t *Tracker) Add(u Upload) {
	t.mu.Lock()
	copied := u
	t.items[u.ImageID] = &copied
	start := !t.running
	var stop, done chan struct{}
	if start {
		t.running = true
		t.stop = make(chan struct{})
		t.done = make(chan struct{})
		stop, done = t.stop, t.done
	}
	t.mu.Unlock()
	if start {
		go t.loop(stop, done)
	}
}

// Items returns a snapshot of the tracked uploads.
func (t *Tracker) Items() []Upload {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Upload, 0, len(t.items))
	for _, u := range t.items {
		out = append(out, *u)
	}
	return out
}

// Stop halts polling regardless of outstanding items.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	stop, done := t.stop, t.done
	t.mu.Unlock()
	close(stop)
	<-done
}

// loop owns the stop and done channels it was started with; a replacement
// loop started by a later Add gets fresh ones, so an exiting loop can never
// close its successor's channel.
func (t *Tracker) loop(stop, done chan struct{}) {
	defer func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
		close(done)
	}()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !t.pollOnce() {
				return
			}
		case <-stop:
			return
		}
	}
}

// pollOnce queries every record with outstanding uploads and reconciles the
// tracked set. It returns false when nothing is left to poll.
func (t *Tracker) pollOnce() bool {
	t.mu.Lock()
	byRecord := map[uint][]uint{}
	for _, u := range t.items {
		if u.outstanding() {
			byRecord[u.RecordID] = append(byRecord[u.RecordID], u.ImageID)
		}
	}
	t.mu.Unlock()
	if len(byRecord) == 0 {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.interval)
	defer cancel()
	for recordID, ids := range byRecord {
		statuses, err := t.client.UploadStatus(ctx, recordID, ids)
		if err != nil {
			// transient poll errors are logged and retried next tick
			t.logger.Printf("agent: status poll failed for record %d: %v", recordID, err)
			continue
		}
		for _, st := range statuses {
			t.apply(st)
		}
	}
	return true
}

func (t *Tracker) apply(st StatusItem) {
	t.mu.Lock()
	u, ok := t.items[st.ID]
	if !ok {
		t.mu.Unlock()
		return
	}
	wasOutstanding := u.outstanding()
	u.Status = st.Status
	u.Progress = st.Progress
	u.Error = st.Error
	u.RemoteURL = st.RemoteURL
	snapshot := *u
	t.mu.Unlock()

	if !wasOutstanding {
		return
	}
	switch st.Status {
	case "COMPLETED":
		if t.OnCompleted != nil {
			t.OnCompleted(snapshot)
		}
		// keep it visible briefly, then drop it from the set
		time.AfterFunc(t.displayDelay, func() {
			t.mu.Lock()
			delete(t.items, st.ID)
			t.mu.Unlock()
		})
	case "FAILED":
		// failed uploads stay listed for user action
		if t.OnFailed != nil {
			t.OnFailed(snapshot)
		}
	}
}
