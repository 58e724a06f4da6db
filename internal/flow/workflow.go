package flow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/pharmbio/varflow/internal/ctxlog"
)

// Workflow is a set of wired processes scheduled as a dataflow graph: every
// process runs in its own goroutine and a keyed task starts as soon as all
// of its inputs are bound, subject to the global core budget. There is no
// ordering between tasks of different keys or of independent branches.
type Workflow struct {
	name     string
	runID    string
	started  time.Time
	logDir   string
	budget   *semaphore.Weighted
	maxCores int64

	runners []runner
	procs   map[string]*Process

	mu       sync.Mutex
	failures []error
}

type runner interface {
	Name() string
	run(ctx context.Context)
}

// NewWorkflow creates a workflow with a global budget of maxCores cores and
// per-task logs under logDir.
func NewWorkflow(name string, maxCores int, logDir string) *Workflow {
	if maxCores < 1 {
		maxCores = 1
	}
	return &Workflow{
		name:     name,
		runID:    uuid.New().String(),
		logDir:   logDir,
		budget:   semaphore.NewWeighted(int64(maxCores)),
		maxCores: int64(maxCores),
		procs:    map[string]*Process{},
	}
}

// RunID identifies this workflow invocation in logs and provenance records.
func (wf *Workflow) RunID() string { return wf.runID }

// Started returns the wall-clock start of the run, zero before Run.
func (wf *Workflow) Started() time.Time { return wf.started }

// LogDir returns the directory that receives one log file per task.
func (wf *Workflow) LogDir() string { return wf.logDir }

// MaxCores returns the global core budget. Stages that thread their tool
// invocations size the thread count from this so the command never runs
// wider than the scheduler booked.
func (wf *Workflow) MaxCores() int { return int(wf.maxCores) }

// NewProc registers a process. In and out ports are declared by the {i:...}
// and {o:...} tokens of the command template.
func (wf *Workflow) NewProc(name string, cmdTpl string) *Process {
	if _, exists := wf.procs[name]; exists {
		panic(fmt.Sprintf("flow: duplicate process name %q", name))
	}
	p := &Process{
		name:     name,
		wf:       wf,
		cmdTpl:   cmdTpl,
		cores:    1,
		inPorts:  map[string]*InPort{},
		outPorts: map[string]*OutPort{},
		pathFns:  map[string]func(*Task) string{},
	}
	for _, m := range portToken.FindAllStringSubmatch(cmdTpl, -1) {
		kind, port := m[1], m[2]
		switch kind {
		case "i":
			if _, ok := p.inPorts[port]; !ok {
				p.inPorts[port] = &InPort{name: port, proc: p, ch: make(chan Artifact, portBufSize)}
			}
		case "o":
			if _, ok := p.outPorts[port]; !ok {
				p.outPorts[port] = &OutPort{name: port, proc: p}
			}
		}
	}
	wf.procs[name] = p
	wf.runners = append(wf.runners, p)
	return p
}

// Proc returns a registered process by name.
func (wf *Workflow) Proc(name string) *Process { return wf.procs[name] }

// Run validates the wiring, starts every process, and blocks until the
// whole graph has drained. The returned error joins every recorded per-key
// failure; a partial run (some keys failed, others completed) still reports
// non-nil.
func (wf *Workflow) Run(ctx context.Context) error {
	for _, p := range wf.procs {
		if err := p.validate(); err != nil {
			return err
		}
	}
	wf.started = time.Now()
	logger := ctxlog.FromContext(ctx).With("workflow", wf.name, "run_id", wf.runID)
	logger.Info("workflow starting", "processes", len(wf.runners))

	var wg sync.WaitGroup
	for _, r := range wf.runners {
		wg.Add(1)
		go func(r runner) {
			defer wg.Done()
			r.run(ctx)
		}(r)
	}
	wg.Wait()

	wf.mu.Lock()
	defer wf.mu.Unlock()
	if len(wf.failures) > 0 {
		logger.Error("workflow finished with failures", "failed", len(wf.failures))
		return errors.Join(wf.failures...)
	}
	logger.Info("workflow finished")
	return nil
}

// Failures returns the correctness-path errors recorded during the run.
func (wf *Workflow) Failures() []error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return append([]error(nil), wf.failures...)
}

func (wf *Workflow) recordFailure(err error) {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	wf.failures = append(wf.failures, err)
}

func (wf *Workflow) taskLogFile(stage, key string) string {
	return filepath.Join(wf.logDir, fmt.Sprintf("%s.%s.log", stage, key))
}

// Source feeds keyed input files into the graph. It is the only place a run
// key is assigned; every downstream artifact inherits it unchanged.
type Source struct {
	name  string
	out   *OutPort
	files map[string]string
}

// NewSource registers a source emitting one artifact per entry of files
// (run key to file path), in key order.
func (wf *Workflow) NewSource(name string, files map[string]string) *Source {
	s := &Source{name: name, files: files}
	s.out = &OutPort{name: "out"}
	wf.runners = append(wf.runners, s)
	return s
}

// Name returns the source name.
func (s *Source) Name() string { return s.name }

// Out returns the source's single out port.
func (s *Source) Out() *OutPort { return s.out }

func (s *Source) run(ctx context.Context) {
	keys := make([]string, 0, len(s.files))
	for key := range s.files {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		s.out.send(Artifact{Key: key, Path: s.files[key]})
	}
	s.out.close()
}
