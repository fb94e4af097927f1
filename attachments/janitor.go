package attachments

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/Desarso/taxassist/stores"
	"github.com/robfig/cron/v3"
)

// DefaultRetention is how long uploaded documents are kept.
const DefaultRetention = 24 * time.Hour

// Janitor periodically removes attachments older than Retention.
type Janitor struct {
	Store     stores.BlobStore
	Retention time.Duration
	Logger    *log.Logger

	mu      sync.Mutex
	sched   *cron.Cron
	entryID cron.EntryID
	now     func() time.Time
}

func NewJanitor(store stores.BlobStore, retention time.Duration) *Janitor {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Janitor{
		Store:     store,
		Retention: retention,
		Logger:    log.New(os.Stderr, "[ATTACH] ", log.LstdFlags),
		now:       time.Now,
	}
}

// Sweep deletes expired attachments once and returns how many were removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	blobs, err := j.Store.List(ctx, KeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list attachments: %w", err)
	}

	cutoff := j.now().Add(-j.Retention)
	removed := 0
	for _, b := range blobs {
		if !b.ModTime.Before(cutoff) {
			continue
		}
		if err := j.Store.Delete(ctx, b.Key); err != nil {
			return removed, fmt.Errorf("failed to delete %s: %w", b.Key, err)
		}
		removed++
	}
	if removed > 0 {
		j.Logger.Printf("Removed %d expired attachments", removed)
	}
	return removed, nil
}

// Start schedules Sweep with a standard cron spec such as "@hourly" or
// "*/15 * * * *". Calling Start again replaces the schedule.
func (j *Janitor) Start(spec string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.sched == nil {
		j.sched = cron.New()
		j.sched.Start()
	}
	if j.entryID != 0 {
		j.sched.Remove(j.entryID)
		j.entryID = 0
	}

	id, err := j.sched.AddFunc(spec, func() {
		if _, err := j.Sweep(context.Background()); err != nil {
			j.Logger.Printf("Sweep failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", spec, err)
	}
	j.entryID = id
	j.Logger.Printf("Janitor scheduled (%s, retention %v)", spec, j.Retention)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	sched := j.sched
	j.sched = nil
	j.entryID = 0
	j.mu.Unlock()

	if sched != nil {
		<-sched.Stop().Done()
	}
}
