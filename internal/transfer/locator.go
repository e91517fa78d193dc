package transfer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/javanstorm/vmxfer/pkg/hypervisor"
)

// startSkew tolerates clock differences between this machine and the host
// when comparing a job's start time to the launch time.
const startSkew = 5 * time.Second

// claimSet records which jobs are pinned by in-flight transfers so two
// concurrent transfers never track the same job.
type claimSet struct {
	mu     sync.Mutex
	owners map[string]string // job id -> transfer id
}

func newClaimSet() *claimSet {
	return &claimSet{owners: make(map[string]string)}
}

// claim pins jobID to owner unless another owner holds it.
func (c *claimSet) claim(jobID, owner string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.owners[jobID]; ok && cur != owner {
		return false
	}
	c.owners[jobID] = owner
	return true
}

func (c *claimSet) claimed(jobID, owner string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.owners[jobID]
	return ok && cur != owner
}

// release drops every claim held by owner.
func (c *claimSet) release(owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, cur := range c.owners {
		if cur == owner {
			delete(c.owners, id)
		}
	}
}

// JobLocator finds the management job belonging to a running transfer by its
// signature: the direction keyword plus the entity name in the job's caption,
// description or element name.
type JobLocator struct {
	jobs      hypervisor.JobService
	keyword   string
	target    string
	notBefore time.Time
	owner     string
	claims    *claimSet
}

func newJobLocator(jobs hypervisor.JobService, dir Direction, target string, launched time.Time, owner string, claims *claimSet) *JobLocator {
	return &JobLocator{
		jobs:      jobs,
		keyword:   string(dir),
		target:    strings.ToLower(target),
		notBefore: launched.Add(-startSkew),
		owner:     owner,
		claims:    claims,
	}
}

// Matches reports whether job carries this transfer's signature.
func (l *JobLocator) Matches(job hypervisor.Job) bool {
	if !job.StartTime.IsZero() && job.StartTime.Before(l.notBefore) {
		return false
	}
	text := strings.ToLower(job.Caption + "\n" + job.Description + "\n" + job.ElementName)
	return strings.Contains(text, l.keyword) && strings.Contains(text, l.target)
}

// Locate lists the host's jobs once and claims the newest unclaimed match.
// It returns nil when nothing matches yet.
func (l *JobLocator) Locate(ctx context.Context) (*hypervisor.Job, error) {
	jobs, err := l.jobs.ListJobs(ctx)
	if err != nil {
		return nil, err
	}

	var best *hypervisor.Job
	for i := range jobs {
		job := &jobs[i]
		if job.ID == "" || !l.Matches(*job) || l.claims.claimed(job.ID, l.owner) {
			continue
		}
		if best == nil || job.StartTime.After(best.StartTime) {
			best = job
		}
	}
	if best == nil || !l.claims.claim(best.ID, l.owner) {
		return nil, nil
	}
	found := *best
	return &found, nil
}
