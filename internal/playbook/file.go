package playbook

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileBook is the YAML schema for a user-defined playbook.
type fileBook struct {
	Description string     `yaml:"description,omitempty"`
	Steps       []fileStep `yaml:"steps"`
}

type fileStep struct {
	Name        string `yaml:"name"`
	Run         string `yaml:"run"`
	BestEffort  bool   `yaml:"best_effort,omitempty"`
	ManagerOnly bool   `yaml:"manager_only,omitempty"`
	PeersOnly   bool   `yaml:"peers_only,omitempty"`
	Timeout     string `yaml:"timeout,omitempty"`
}

// LoadFile reads user-defined playbooks from a YAML file. A missing file
// is not an error; it yields an empty map.
func LoadFile(path string) (map[string]Playbook, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]Playbook{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading playbook file: %w", err)
	}

	var raw map[string]fileBook
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing playbook file %s: %w", path, err)
	}

	books := make(map[string]Playbook, len(raw))
	for name, fb := range raw {
		pb, err := fb.toPlaybook(name)
		if err != nil {
			return nil, fmt.Errorf("playbook file %s: %w", path, err)
		}
		books[name] = pb
	}
	return books, nil
}

func (fb fileBook) toPlaybook(name string) (Playbook, error) {
	pb := Playbook{Name: name, Description: fb.Description}
	for _, fs := range fb.Steps {
		if fs.ManagerOnly && fs.PeersOnly {
			return Playbook{}, fmt.Errorf("step %q: manager_only and peers_only are mutually exclusive", fs.Name)
		}
		step := Step{
			Name:       fs.Name,
			Command:    fs.Run,
			BestEffort: fs.BestEffort,
		}
		switch {
		case fs.ManagerOnly:
			step.Target = TargetManager
		case fs.PeersOnly:
			step.Target = TargetPeers
		}
		if fs.Timeout != "" {
			d, err := time.ParseDuration(fs.Timeout)
			if err != nil {
				return Playbook{}, fmt.Errorf("step %q: invalid timeout %q: %w", fs.Name, fs.Timeout, err)
			}
			step.Timeout = d
		}
		pb.Steps = append(pb.Steps, step)
	}
	if err := pb.Validate(); err != nil {
		return Playbook{}, err
	}
	return pb, nil
}
