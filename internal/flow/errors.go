package flow

import (
	"fmt"
	"strings"
)

// MissingInputError reports a stage instance whose declared input ports were
// never all bound for one run key. It covers both the upstream-failure case
// (the producer for that key already failed) and the unpaired-join case (the
// sibling branch produced the key on one port but not the other).
type MissingInputError struct {
	Stage string
	Key   string
	Ports []string
	Cause error
}

func (e *MissingInputError) Error() string {
	msg := fmt.Sprintf("stage %s: input port(s) %s never bound for key %q",
		e.Stage, strings.Join(e.Ports, ", "), e.Key)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *MissingInputError) Unwrap() error { return e.Cause }

// ToolError reports a nonzero exit from an invoked external tool. The task
// log file holds the tool's raw stdout/stderr for diagnosis.
type ToolError struct {
	Stage    string
	Key      string
	ExitCode int
	LogFile  string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("stage %s: external tool failed for key %q with exit code %d (log: %s)",
		e.Stage, e.Key, e.ExitCode, e.LogFile)
}

// MissingOutputError reports a tool that exited 0 but did not produce a
// declared output file.
type MissingOutputError struct {
	Stage string
	Key   string
	Port  string
	Path  string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("stage %s: declared output %q missing for key %q (expected %s)",
		e.Stage, e.Port, e.Key, e.Path)
}
