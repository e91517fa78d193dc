package transfer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/javanstorm/vmxfer/pkg/hypervisor"
)

const gb = int64(1) << 30

// fakePlatform is a scripted hypervisor.Platform.
type fakePlatform struct {
	mu sync.Mutex

	vms   map[string]hypervisor.Entity // by id
	disks map[string][]hypervisor.Disk

	// listed is returned by ListJobs from call number listFrom onwards.
	listed    []hypervisor.Job
	listFrom  int
	listCalls int
	onList    func(call int)

	// jobSeq scripts successive GetJob results; the last entry repeats.
	jobSeq   map[string][]hypervisor.Job
	getCalls map[string]int
	onGet    func(job hypervisor.Job)

	exportFn func(ctx context.Context, spec hypervisor.ExportSpec) (*hypervisor.Entity, error)
	importFn func(ctx context.Context, spec hypervisor.ImportSpec) (*hypervisor.Entity, error)

	moveErr       error
	cancelledJobs []string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		vms:      make(map[string]hypervisor.Entity),
		disks:    make(map[string][]hypervisor.Disk),
		jobSeq:   make(map[string][]hypervisor.Job),
		getCalls: make(map[string]int),
	}
}

func (p *fakePlatform) addVM(e hypervisor.Entity, diskSizes ...int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vms[e.ID] = e
	var disks []hypervisor.Disk
	for i, size := range diskSizes {
		disks = append(disks, hypervisor.Disk{Path: path.Join(e.Path, fmt.Sprintf("disk%d.vhdx", i)), Size: size})
	}
	p.disks[e.ID] = disks
}

func (p *fakePlatform) listCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listCalls
}

func (p *fakePlatform) Info() hypervisor.Info {
	return hypervisor.Info{Name: "fake", Version: "test", Host: "localhost"}
}

func (p *fakePlatform) Export(ctx context.Context, spec hypervisor.ExportSpec) (*hypervisor.Entity, error) {
	return p.exportFn(ctx, spec)
}

func (p *fakePlatform) Import(ctx context.Context, spec hypervisor.ImportSpec) (*hypervisor.Entity, error) {
	return p.importFn(ctx, spec)
}

func (p *fakePlatform) ListJobs(ctx context.Context) ([]hypervisor.Job, error) {
	p.mu.Lock()
	p.listCalls++
	call := p.listCalls
	var jobs []hypervisor.Job
	if call >= p.listFrom {
		jobs = append(jobs, p.listed...)
	}
	onList := p.onList
	p.mu.Unlock()

	if onList != nil {
		onList(call)
	}
	return jobs, nil
}

func (p *fakePlatform) GetJob(ctx context.Context, id string) (*hypervisor.Job, error) {
	p.mu.Lock()
	seq := p.jobSeq[id]
	if len(seq) == 0 {
		p.mu.Unlock()
		return nil, hypervisor.ErrJobNotFound
	}
	i := p.getCalls[id]
	p.getCalls[id]++
	if i >= len(seq) {
		i = len(seq) - 1
	}
	job := seq[i]
	onGet := p.onGet
	p.mu.Unlock()

	if onGet != nil {
		onGet(job)
	}
	return &job, nil
}

func (p *fakePlatform) CancelJob(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelledJobs = append(p.cancelledJobs, id)
	return nil
}

func (p *fakePlatform) FindVM(ctx context.Context, name string) (*hypervisor.Entity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, vm := range p.vms {
		if vm.Name == name {
			found := vm
			return &found, nil
		}
	}
	return nil, hypervisor.ErrVMNotFound
}

func (p *fakePlatform) GetVM(ctx context.Context, id string) (*hypervisor.Entity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	vm, ok := p.vms[id]
	if !ok {
		return nil, hypervisor.ErrVMNotFound
	}
	return &vm, nil
}

func (p *fakePlatform) RenameVM(ctx context.Context, id, newName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	vm, ok := p.vms[id]
	if !ok {
		return hypervisor.ErrVMNotFound
	}
	vm.Name = newName
	p.vms[id] = vm
	return nil
}

func (p *fakePlatform) MoveStorage(ctx context.Context, id, dst string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.moveErr != nil {
		return p.moveErr
	}
	vm, ok := p.vms[id]
	if !ok {
		return hypervisor.ErrVMNotFound
	}
	vm.Path = dst
	p.vms[id] = vm
	return nil
}

func (p *fakePlatform) ListDisks(ctx context.Context, id string) ([]hypervisor.Disk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.vms[id]; !ok {
		return nil, hypervisor.ErrVMNotFound
	}
	return append([]hypervisor.Disk(nil), p.disks[id]...), nil
}

// fakeFS is an in-memory Filesystem using slash paths.
type fakeFS struct {
	mu       sync.Mutex
	dirs     map[string]bool
	files    map[string]int64
	contents map[string][]byte
	free     int64
	freeErr  error
}

func newFakeFS(free int64) *fakeFS {
	return &fakeFS{
		dirs:     make(map[string]bool),
		files:    make(map[string]int64),
		contents: make(map[string][]byte),
		free:     free,
	}
}

func (f *fakeFS) writeFile(p string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[p] = int64(len(data))
	f.contents[p] = data
}

func (f *fakeFS) addFile(p string, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[p] = size
}

func (f *fakeFS) dirList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var dirs []string
	for d := range f.dirs {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

func (f *fakeFS) MkdirAll(ctx context.Context, p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[p] = true
	return nil
}

func (f *fakeFS) Exists(ctx context.Context, p string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dirs[p] {
		return true, nil
	}
	for name := range f.files {
		if name == p || strings.HasPrefix(name, p+"/") {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeFS) Files(ctx context.Context, root, pattern string) ([]hypervisor.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var files []hypervisor.File
	for name, size := range f.files {
		if !strings.HasPrefix(name, root+"/") {
			continue
		}
		rel := strings.TrimPrefix(name, root+"/")
		ok, err := doublestar.Match(pattern, rel)
		if err != nil {
			return nil, err
		}
		if ok {
			files = append(files, hypervisor.File{Path: name, Rel: rel, Size: size})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Rel < files[j].Rel })
	return files, nil
}

func (f *fakeFS) ReadFile(ctx context.Context, p string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[p]; !ok {
		return nil, fs.ErrNotExist
	}
	return f.contents[p], nil
}

func (f *fakeFS) Free(ctx context.Context, p string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.free, f.freeErr
}

func (f *fakeFS) Join(elem ...string) string {
	return path.Join(elem...)
}

// fakeClock advances by step on every Now call. Its tickers fire every
// millisecond of real time and its timers after afterDelay of real time,
// whatever duration they were asked for.
type fakeClock struct {
	mu         sync.Mutex
	now        time.Time
	step       time.Duration
	afterDelay time.Duration
}

func newFakeClock(step time.Duration) *fakeClock {
	return &fakeClock{
		now:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		step:       step,
		afterDelay: 10 * time.Second,
	}
}

func (c *fakeClock) After(time.Duration) <-chan time.Time {
	return time.After(c.afterDelay)
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	return RealClock{}.NewTicker(time.Millisecond)
}

// eventSink collects emitted progress.
type eventSink struct {
	mu     sync.Mutex
	events []ProgressEvent
	onEmit func(ProgressEvent)
}

func (s *eventSink) Emit(e ProgressEvent) {
	s.mu.Lock()
	s.events = append(s.events, e)
	onEmit := s.onEmit
	s.mu.Unlock()
	if onEmit != nil {
		onEmit(e)
	}
}

func (s *eventSink) percents() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.events))
	for i, e := range s.events {
		out[i] = e.Percent
	}
	return out
}

func (s *eventSink) sources() []Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Source, len(s.events))
	for i, e := range s.events {
		out[i] = e.Source
	}
	return out
}

// stateRecorder keeps every recorded state.
type stateRecorder struct {
	mu      sync.Mutex
	states  []State
	last    Status
	onState func(State)
}

func (r *stateRecorder) Record(s Status) error {
	r.mu.Lock()
	r.states = append(r.states, s.State)
	r.last = s
	onState := r.onState
	r.mu.Unlock()
	if onState != nil {
		onState(s.State)
	}
	return nil
}

func (r *stateRecorder) saw(state State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s == state {
			return true
		}
	}
	return false
}

var errPlatform = errors.New("platform exploded")
