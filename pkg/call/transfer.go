package call

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/code-100-precent/TrunkEcho/pkg/events"
	"github.com/code-100-precent/TrunkEcho/pkg/logger"
	"go.uber.org/zap"
)

// TransferStatus is the lifecycle state of an attachment transfer job.
type TransferStatus string

const (
	TransferRunning TransferStatus = "running"
	TransferDone    TransferStatus = "done"
	TransferFailed  TransferStatus = "failed"
)

// TransferJob tracks one attachment transfer (voice clip, patch plan, image)
// attached to a call window.
type TransferJob struct {
	ID        string
	SessionID uint64
	Name      string
	Size      int64
	Status    TransferStatus
	Error     string
	StartedAt time.Time
}

// Transfers copies call attachments off the loop. The copy itself runs in a
// worker goroutine; bookkeeping and the completion notification happen back
// on the dispatcher loop, so jobs follow the same single-writer rule as
// session state.
type Transfers struct {
	d    *Dispatcher
	dir  string
	jobs map[string]*TransferJob
}

// NewTransfers creates the transfer manager storing attachments under dir.
func NewTransfers(d *Dispatcher, dir string) *Transfers {
	return &Transfers{
		d:    d,
		dir:  dir,
		jobs: make(map[string]*TransferJob),
	}
}

// Enqueue starts a transfer of src into the attachment store, associated
// with the given session slot. Returns the job ID immediately.
func (t *Transfers) Enqueue(sessionID uint64, name string, src io.Reader) string {
	job := &TransferJob{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Name:      name,
		Status:    TransferRunning,
		StartedAt: time.Now(),
	}
	t.d.post(func() { t.jobs[job.ID] = job })

	go func() {
		size, err := t.copyToStore(job.ID, name, src)
		t.d.post(func() { t.finish(job, size, err) })
	}()
	return job.ID
}

func (t *Transfers) copyToStore(jobID, name string, src io.Reader) (int64, error) {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return 0, err
	}
	dst, err := os.Create(filepath.Join(t.dir, jobID+"_"+filepath.Base(name)))
	if err != nil {
		return 0, err
	}
	defer dst.Close()
	return io.Copy(dst, src)
}

// finish records the outcome and notifies the console. Runs on the loop.
func (t *Transfers) finish(job *TransferJob, size int64, err error) {
	job.Size = size
	if err != nil {
		job.Status = TransferFailed
		job.Error = err.Error()
		logger.Warn("attachment transfer failed",
			zap.String("job", job.ID),
			zap.String("name", job.Name),
			zap.Error(err))
	} else {
		job.Status = TransferDone
		logger.Info("attachment transfer done",
			zap.String("job", job.ID),
			zap.String("name", job.Name),
			zap.Int64("size", size))
	}
	t.d.sub.notify(events.TypeTransferDone, map[string]interface{}{
		"job":     job.ID,
		"session": job.SessionID,
		"name":    job.Name,
		"status":  string(job.Status),
		"error":   job.Error,
	})
}

// Job returns a snapshot of the job, or nil.
func (t *Transfers) Job(id string) *TransferJob {
	var out *TransferJob
	t.d.do(func() {
		if j, ok := t.jobs[id]; ok {
			cp := *j
			out = &cp
		}
	})
	return out
}
