package flow

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/pharmbio/varflow/internal/ctxlog"
)

var portToken = regexp.MustCompile(`\{(i|o):([^{}:]+)\}`)

// Process is one stage of the graph: a command template over named in and
// out ports. Ports are discovered from the {i:...} and {o:...} tokens of the
// template when the process is created, the way scipipe declares them.
//
// At run time the process gathers artifacts per run key across all of its
// in ports and launches one Task per fully bound key, so a keyed fan-in can
// never pair artifacts from different keys.
type Process struct {
	name     string
	wf       *Workflow
	cmdTpl   string
	cores    int64
	inPorts  map[string]*InPort
	outPorts map[string]*OutPort
	pathFns  map[string]func(*Task) string
}

// Name returns the stage name.
func (p *Process) Name() string { return p.name }

// CommandTemplate returns the raw command template with its port tokens.
func (p *Process) CommandTemplate() string { return p.cmdTpl }

// In returns the named in port, panicking on a port the template never
// declared. Miswiring is a programming error, not a runtime condition.
func (p *Process) In(name string) *InPort {
	ip, ok := p.inPorts[name]
	if !ok {
		panic(fmt.Sprintf("flow: process %s has no in port %q", p.name, name))
	}
	return ip
}

// Out returns the named out port.
func (p *Process) Out(name string) *OutPort {
	op, ok := p.outPorts[name]
	if !ok {
		panic(fmt.Sprintf("flow: process %s has no out port %q", p.name, name))
	}
	return op
}

// SetPath sets a static output path for the named out port.
func (p *Process) SetPath(port string, path string) {
	p.Out(port)
	p.pathFns[port] = func(*Task) string { return path }
}

// SetPathFunc derives the output path for the named out port from the task.
// Every path function must depend only on the task's own key and bound
// inputs, so a rerun over the same inputs yields the same file names.
func (p *Process) SetPathFunc(port string, fn func(*Task) string) {
	p.Out(port)
	p.pathFns[port] = fn
}

// SetCores declares how many cores of the workflow budget one task of this
// process occupies while its tool runs.
func (p *Process) SetCores(n int) {
	if n < 1 {
		n = 1
	}
	p.cores = int64(n)
}

func (p *Process) inPortNames() []string {
	names := make([]string, 0, len(p.inPorts))
	for name := range p.inPorts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// validate checks the process is fully wired before the workflow starts.
func (p *Process) validate() error {
	for name, ip := range p.inPorts {
		if !ip.connected {
			return fmt.Errorf("flow: in port %s.%s is not connected", p.name, name)
		}
	}
	for name := range p.outPorts {
		if _, ok := p.pathFns[name]; !ok {
			return fmt.Errorf("flow: out port %s.%s has no path set", p.name, name)
		}
	}
	return nil
}

type inMsg struct {
	port string
	art  Artifact
}

// run is the process main loop: drain all in ports, join artifacts by run
// key, and launch one task per fully bound key. Keys whose join never
// completes by the time every upstream closes are a MissingInputError.
func (p *Process) run(ctx context.Context) {
	defer func() {
		for _, op := range p.outPorts {
			op.close()
		}
	}()

	merged := make(chan inMsg)
	var drainWG sync.WaitGroup
	for name, ip := range p.inPorts {
		drainWG.Add(1)
		go func(name string, ip *InPort) {
			defer drainWG.Done()
			for art := range ip.ch {
				merged <- inMsg{port: name, art: art}
			}
		}(name, ip)
	}
	go func() {
		drainWG.Wait()
		close(merged)
	}()

	pending := map[string]map[string]Artifact{}
	var taskWG sync.WaitGroup
	for m := range merged {
		byPort, ok := pending[m.art.Key]
		if !ok {
			byPort = map[string]Artifact{}
			pending[m.art.Key] = byPort
		}
		byPort[m.port] = m.art
		if len(byPort) < len(p.inPorts) {
			continue
		}
		delete(pending, m.art.Key)
		taskWG.Add(1)
		go func(key string, byPort map[string]Artifact) {
			defer taskWG.Done()
			p.runInstance(ctx, key, byPort)
		}(m.art.Key, byPort)
	}
	taskWG.Wait()

	// Unpaired keys: a sibling branch produced this key on some ports but
	// never on the rest, so the join must fail fast instead of pairing by
	// position.
	for key, byPort := range pending {
		var missing []string
		for _, name := range p.inPortNames() {
			if _, ok := byPort[name]; !ok {
				missing = append(missing, name)
			}
		}
		err := &MissingInputError{Stage: p.name, Key: key, Ports: missing}
		p.wf.recordFailure(err)
		p.poison(key, err)
	}
}

// runInstance executes one keyed task, or skips it when any bound input is
// poisoned by an upstream failure. Failures for one key never touch the
// chains of other keys.
func (p *Process) runInstance(ctx context.Context, key string, byPort map[string]Artifact) {
	logger := ctxlog.FromContext(ctx).With("stage", p.name, "key", key)

	for _, name := range p.inPortNames() {
		if art := byPort[name]; art.Failed() {
			logger.Warn("skipping: upstream failure", "port", name, "cause", art.Err)
			p.poison(key, art.Err)
			return
		}
	}

	task := &Task{
		Process:  p,
		Key:      key,
		InPaths:  map[string]string{},
		OutPaths: map[string]string{},
		LogFile:  p.wf.taskLogFile(p.name, key),
	}
	for name, art := range byPort {
		task.InPaths[name] = art.Path
	}
	for name, fn := range p.pathFns {
		task.OutPaths[name] = fn(task)
	}

	// A stage may not demand more than the whole budget.
	cores := p.cores
	if cores > p.wf.maxCores {
		cores = p.wf.maxCores
	}
	if err := p.wf.budget.Acquire(ctx, cores); err != nil {
		p.wf.recordFailure(fmt.Errorf("stage %s, key %q: %w", p.name, key, err))
		p.poison(key, err)
		return
	}
	logger.Info("running", "cores", cores)
	err := task.Execute(ctx)
	p.wf.budget.Release(cores)

	if err != nil {
		logger.Error("stage failed", "error", err)
		p.wf.recordFailure(err)
		p.poison(key, err)
		return
	}
	logger.Info("done")
	for name, op := range p.outPorts {
		op.send(Artifact{Key: key, Path: task.OutPaths[name]})
	}
}

// poison publishes a failed artifact for the key on every out port so the
// rest of this key's chain is skipped.
func (p *Process) poison(key string, cause error) {
	for _, op := range p.outPorts {
		op.send(Artifact{Key: key, Err: cause})
	}
}
