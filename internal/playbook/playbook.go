// Package playbook defines the ordered command sequences sparkctl runs
// against a fleet, and the parameter rendering that turns them into
// concrete shell commands.
package playbook

import (
	"fmt"
	"time"
)

// Target selects which hosts a step is dispatched to.
type Target int

const (
	// TargetAll dispatches to the manager first, then every peer in
	// configured order.
	TargetAll Target = iota
	// TargetManager dispatches to the manager only.
	TargetManager
	// TargetPeers dispatches to the peers only, in configured order.
	TargetPeers
)

func (t Target) String() string {
	switch t {
	case TargetManager:
		return "manager"
	case TargetPeers:
		return "peers"
	default:
		return "all"
	}
}

// Step is a single named unit of remote work. Steps are immutable once a
// playbook is built; all parameter substitution happens at build time.
type Step struct {
	Name       string
	Command    string
	BestEffort bool          // failure warns instead of aborting the run
	Target     Target        // which hosts receive the command
	Timeout    time.Duration // zero means no per-step deadline
}

// Playbook is a named, ordered sequence of steps.
type Playbook struct {
	Name        string
	Description string
	Steps       []Step
}

// Validate checks a playbook for structural problems: it must have at
// least one step, and every step needs a name and a command.
func (p Playbook) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("playbook has no name")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("playbook %q has no steps", p.Name)
	}
	seen := make(map[string]bool, len(p.Steps))
	for i, s := range p.Steps {
		if s.Name == "" {
			return fmt.Errorf("playbook %q: step %d has no name", p.Name, i)
		}
		if s.Command == "" {
			return fmt.Errorf("playbook %q: step %q has no command", p.Name, s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("playbook %q: duplicate step name %q", p.Name, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// BestEffort returns a copy of the playbook with every step marked
// best-effort. Rollback runs use this so teardown attempts every cleanup
// action against a partial environment.
func (p Playbook) BestEffort() Playbook {
	steps := make([]Step, len(p.Steps))
	copy(steps, p.Steps)
	for i := range steps {
		steps[i].BestEffort = true
	}
	return Playbook{Name: p.Name, Description: p.Description, Steps: steps}
}
