package flow

// Artifact is one named file produced by a stage instance, tagged with the
// run key it belongs to. Artifacts are write-once: once published on an out
// port they are never mutated, only consumed downstream.
//
// A non-nil Err marks a poisoned artifact: the upstream chain for this key
// failed, and every consumer must skip the key rather than run on partial
// inputs.
type Artifact struct {
	Key  string
	Path string
	Err  error
}

// Failed reports whether the artifact carries an upstream failure.
func (a Artifact) Failed() bool { return a.Err != nil }
