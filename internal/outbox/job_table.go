package outbox

import (
	"sort"
	"time"

	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/utils"
)

// jobTable holds the queue rules shared by the memory and file backends.
// It is not safe for concurrent use.
type jobTable struct {
	jobs map[string]*models.OutboxJob
}

func newJobTable() *jobTable {
	return &jobTable{jobs: make(map[string]*models.OutboxJob)}
}

func (t *jobTable) find(key string, state enum.JobState) *models.OutboxJob {
	for _, j := range t.jobs {
		if j.Key == key && j.State == state {
			return j
		}
	}
	return nil
}

func (t *jobTable) enqueueUnique(job *models.OutboxJob) {
	job.Prepare()
	job.State = enum.JobStateQueued
	job.LeasedAt = nil
	if queued := t.find(job.Key, enum.JobStateQueued); queued != nil {
		delete(t.jobs, queued.ID)
	}
	t.jobs[job.ID] = job.Clone()
}

func (t *jobTable) dequeue(now time.Time) *models.OutboxJob {
	var ready []*models.OutboxJob
	for _, j := range t.jobs {
		if j.State != enum.JobStateQueued || j.RunAt.After(now) {
			continue
		}
		if t.find(j.Key, enum.JobStateRunning) != nil {
			continue
		}
		ready = append(ready, j)
	}
	if len(ready) == 0 {
		return nil
	}
	sort.Slice(ready, func(i, k int) bool {
		if !ready[i].RunAt.Equal(ready[k].RunAt) {
			return ready[i].RunAt.Before(ready[k].RunAt)
		}
		return ready[i].CreatedAt.Before(ready[k].CreatedAt)
	})
	next := ready[0]
	next.State = enum.JobStateRunning
	next.LeasedAt = utils.TimePtr(now)
	next.Attempt++
	next.UpdatedAt = now
	return next.Clone()
}

func (t *jobTable) complete(job *models.OutboxJob) {
	delete(t.jobs, job.ID)
}

// reschedule reports whether the job was kept.
func (t *jobTable) reschedule(job *models.OutboxJob, runAt time.Time, lastError string) bool {
	current, ok := t.jobs[job.ID]
	if !ok {
		return false
	}
	if queued := t.find(current.Key, enum.JobStateQueued); queued != nil && queued.ID != current.ID {
		delete(t.jobs, current.ID)
		return false
	}
	current.State = enum.JobStateQueued
	current.Attempt = job.Attempt
	current.RunAt = runAt
	current.LeasedAt = nil
	current.LastError = lastError
	current.UpdatedAt = utils.Now()
	return true
}

func (t *jobTable) cancel(key string) bool {
	if queued := t.find(key, enum.JobStateQueued); queued != nil {
		delete(t.jobs, queued.ID)
		return true
	}
	return false
}

func (t *jobTable) rekey(oldDraftID, newDraftID string) bool {
	changed := false
	for _, j := range t.jobs {
		if j.DraftID != oldDraftID {
			continue
		}
		j.DraftID = newDraftID
		j.Key = models.JobKey(j.Kind, j.Target())
		j.UpdatedAt = utils.Now()
		changed = true
	}
	if changed {
		t.dropDuplicateQueued()
	}
	return changed
}

// dropDuplicateQueued keeps the newest queued job per key.
func (t *jobTable) dropDuplicateQueued() {
	newest := make(map[string]*models.OutboxJob)
	for _, j := range t.jobs {
		if j.State != enum.JobStateQueued {
			continue
		}
		if prev, ok := newest[j.Key]; ok {
			if prev.CreatedAt.After(j.CreatedAt) {
				delete(t.jobs, j.ID)
				continue
			}
			delete(t.jobs, prev.ID)
		}
		newest[j.Key] = j
	}
}

func (t *jobTable) recoverStale(cutoff time.Time) int {
	recovered := 0
	for _, j := range t.jobs {
		if j.State != enum.JobStateRunning || j.LeasedAt == nil || !j.LeasedAt.Before(cutoff) {
			continue
		}
		if queued := t.find(j.Key, enum.JobStateQueued); queued != nil {
			delete(t.jobs, j.ID)
		} else {
			j.State = enum.JobStateQueued
			j.LeasedAt = nil
			j.RunAt = utils.Now()
			j.UpdatedAt = j.RunAt
		}
		recovered++
	}
	return recovered
}

func (t *jobTable) byKey(key string) []*models.OutboxJob {
	var out []*models.OutboxJob
	for _, j := range t.jobs {
		if j.Key == key {
			out = append(out, j.Clone())
		}
	}
	sortJobs(out)
	return out
}

func (t *jobTable) all() []*models.OutboxJob {
	out := make([]*models.OutboxJob, 0, len(t.jobs))
	for _, j := range t.jobs {
		out = append(out, j.Clone())
	}
	sortJobs(out)
	return out
}

func (t *jobTable) load(jobs []*models.OutboxJob) {
	t.jobs = make(map[string]*models.OutboxJob, len(jobs))
	for _, j := range jobs {
		t.jobs[j.ID] = j.Clone()
	}
}

func sortJobs(jobs []*models.OutboxJob) {
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].RunAt.Equal(jobs[k].RunAt) {
			return jobs[i].RunAt.Before(jobs[k].RunAt)
		}
		return jobs[i].ID < jobs[k].ID
	})
}
