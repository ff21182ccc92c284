package fleet

// Outcome is the terminal state of a playbook run.
type Outcome int

const (
	// Completed means every step ran; best-effort failures may have
	// occurred along the way.
	Completed Outcome = iota
	// Aborted means a hard step failed and no later step was dispatched.
	Aborted
)

func (o Outcome) String() string {
	if o == Aborted {
		return "aborted"
	}
	return "completed"
}

// Session records one playbook invocation: every per-host result in
// dispatch order and the overall outcome. It lives only for the duration
// of the invocation; nothing is persisted.
type Session struct {
	Playbook   string
	Results    []*HostResult
	Outcome    Outcome
	FailedStep string // set when Outcome is Aborted
	SoftFails  int    // best-effort failures that did not abort the run
}

// Failed reports whether the run aborted.
func (s *Session) Failed() bool {
	return s.Outcome == Aborted
}

// StepResults returns the results recorded for the named step, in
// dispatch order.
func (s *Session) StepResults(step string) []*HostResult {
	var out []*HostResult
	for _, r := range s.Results {
		if r.Step == step {
			out = append(out, r)
		}
	}
	return out
}
