package flow

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyPath(dir, sub string) func(*Task) string {
	return func(t *Task) string {
		return filepath.Join(dir, sub, t.Key+".txt")
	}
}

func TestLinearChain(t *testing.T) {
	dir := t.TempDir()
	wf := NewWorkflow("wf", 2, filepath.Join(dir, "logs"))

	src := wf.NewSource("src", map[string]string{"sampleA": "a.in", "sampleB": "b.in"})

	first := wf.NewProc("first", `echo hello-{key} > {o:out} # {i:in}`)
	first.In("in").Connect(src.Out())
	first.SetPathFunc("out", keyPath(dir, "first"))

	second := wf.NewProc("second", `cat {i:in} > {o:out}`)
	second.In("in").Connect(first.Out("out"))
	second.SetPathFunc("out", keyPath(dir, "second"))

	require.NoError(t, wf.Run(context.Background()))

	for _, key := range []string{"sampleA", "sampleB"} {
		data, err := os.ReadFile(filepath.Join(dir, "second", key+".txt"))
		require.NoError(t, err)
		assert.Equal(t, "hello-"+key+"\n", string(data))
		// No stray temp files once a stage has completed.
		_, err = os.Stat(filepath.Join(dir, "second", key+".txt.tmp"))
		assert.True(t, os.IsNotExist(err))
	}
}

func TestFanOutAndKeyedJoin(t *testing.T) {
	dir := t.TempDir()
	wf := NewWorkflow("wf", 4, filepath.Join(dir, "logs"))

	src := wf.NewSource("src", map[string]string{"sampleA": "a.in", "sampleB": "b.in"})

	// One upstream output feeds two independent branches.
	left := wf.NewProc("left", `echo left-{key} > {o:out} # {i:in}`)
	left.In("in").Connect(src.Out())
	left.SetPathFunc("out", keyPath(dir, "left"))

	right := wf.NewProc("right", `echo right-{key} > {o:out} # {i:in}`)
	right.In("in").Connect(src.Out())
	right.SetPathFunc("out", keyPath(dir, "right"))

	join := wf.NewProc("join", `cat {i:a} {i:b} > {o:out}`)
	join.In("a").Connect(left.Out("out"))
	join.In("b").Connect(right.Out("out"))
	join.SetPathFunc("out", keyPath(dir, "join"))

	require.NoError(t, wf.Run(context.Background()))

	for _, key := range []string{"sampleA", "sampleB"} {
		data, err := os.ReadFile(filepath.Join(dir, "join", key+".txt"))
		require.NoError(t, err)
		// Both halves of the join carry the same run key, never a sibling's.
		assert.Equal(t, "left-"+key+"\nright-"+key+"\n", string(data))
	}
}

func TestJoinKeyMismatchFailsFast(t *testing.T) {
	dir := t.TempDir()
	wf := NewWorkflow("wf", 2, filepath.Join(dir, "logs"))

	srcA := wf.NewSource("srcA", map[string]string{"sampleA": "a.in"})
	srcB := wf.NewSource("srcB", map[string]string{"sampleB": "b.in"})

	join := wf.NewProc("join", `cat {i:a} {i:b} > {o:out}`)
	join.In("a").Connect(srcA.Out())
	join.In("b").Connect(srcB.Out())
	join.SetPathFunc("out", keyPath(dir, "join"))

	err := wf.Run(context.Background())
	require.Error(t, err)

	var missing *MissingInputError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "join", missing.Stage)

	// Mismatched keys must never be paired positionally.
	entries, _ := filepath.Glob(filepath.Join(dir, "join", "*"))
	assert.Empty(t, entries)
}

func TestStageFailureIsolatedPerKey(t *testing.T) {
	dir := t.TempDir()
	wf := NewWorkflow("wf", 2, filepath.Join(dir, "logs"))

	src := wf.NewSource("src", map[string]string{"sampleA": "a.in", "sampleB": "b.in"})

	flaky := wf.NewProc("flaky", `[ {key} != sampleA ] && echo ok-{key} > {o:out} # {i:in}`)
	flaky.In("in").Connect(src.Out())
	flaky.SetPathFunc("out", keyPath(dir, "flaky"))

	downstream := wf.NewProc("downstream", `cat {i:in} > {o:out}`)
	downstream.In("in").Connect(flaky.Out("out"))
	downstream.SetPathFunc("out", keyPath(dir, "downstream"))

	err := wf.Run(context.Background())
	require.Error(t, err)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "flaky", toolErr.Stage)
	assert.Equal(t, "sampleA", toolErr.Key)
	assert.Equal(t, 1, toolErr.ExitCode)
	assert.FileExists(t, toolErr.LogFile)

	// sampleA's downstream never ran; sampleB's chain completed normally.
	_, statErr := os.Stat(filepath.Join(dir, "downstream", "sampleA.txt"))
	assert.True(t, os.IsNotExist(statErr))
	data, readErr := os.ReadFile(filepath.Join(dir, "downstream", "sampleB.txt"))
	require.NoError(t, readErr)
	assert.Equal(t, "ok-sampleB\n", string(data))

	// Exactly one failure recorded: the tool error, not a cascade of
	// secondary errors for the skipped chain.
	require.Len(t, wf.Failures(), 1)
}

func TestMissingDeclaredOutput(t *testing.T) {
	dir := t.TempDir()
	wf := NewWorkflow("wf", 1, filepath.Join(dir, "logs"))

	src := wf.NewSource("src", map[string]string{"sampleA": "a.in"})

	silent := wf.NewProc("silent", `true # {i:in} {o:out}`)
	silent.In("in").Connect(src.Out())
	silent.SetPathFunc("out", keyPath(dir, "silent"))

	err := wf.Run(context.Background())
	require.Error(t, err)

	var missing *MissingOutputError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "silent", missing.Stage)
	assert.Equal(t, "out", missing.Port)
	assert.Equal(t, "sampleA", missing.Key)
}

func TestUnconnectedPortRejectedBeforeExecution(t *testing.T) {
	dir := t.TempDir()
	wf := NewWorkflow("wf", 1, filepath.Join(dir, "logs"))

	p := wf.NewProc("lonely", `cat {i:in} > {o:out}`)
	p.SetPathFunc("out", keyPath(dir, "lonely"))

	err := wf.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestRerunProducesIdenticalFileNames(t *testing.T) {
	build := func(dir string) *Workflow {
		wf := NewWorkflow("wf", 2, filepath.Join(dir, "logs"))
		src := wf.NewSource("src", map[string]string{"s1": "1.in", "s2": "2.in"})
		p := wf.NewProc("stage", `echo {key} > {o:out} # {i:in}`)
		p.In("in").Connect(src.Out())
		p.SetPathFunc("out", keyPath(dir, "stage"))
		return wf
	}

	names := func(dir string) []string {
		matches, err := filepath.Glob(filepath.Join(dir, "stage", "*"))
		require.NoError(t, err)
		for i := range matches {
			matches[i] = filepath.Base(matches[i])
		}
		sort.Strings(matches)
		return matches
	}

	dir1 := t.TempDir()
	require.NoError(t, build(dir1).Run(context.Background()))
	dir2 := t.TempDir()
	require.NoError(t, build(dir2).Run(context.Background()))

	assert.Equal(t, names(dir1), names(dir2))
	assert.NotEmpty(t, names(dir1))
}
