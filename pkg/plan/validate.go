package plan

import (
	"fmt"
	"strings"
)

// Validate checks the StepPlan invariants: at least one step, unique non-empty
// ids, and every dependency naming a step that appears earlier in the plan.
func (p *StepPlan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	return validateSteps(p.Steps, nil)
}

func validateSteps(steps []Step, known map[string]bool) error {
	seen := make(map[string]bool, len(steps)+len(known))
	for id := range known {
		seen[id] = true
	}
	for i := range steps {
		s := &steps[i]
		if s.ID == "" {
			return fmt.Errorf("step %d has no id", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate step id %q", s.ID)
		}
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				return fmt.Errorf("step %q depends on itself", s.ID)
			}
			if !seen[dep] {
				return fmt.Errorf("step %q depends on %q which does not precede it", s.ID, dep)
			}
		}
		seen[s.ID] = true
	}
	return nil
}

// normalizeSteps repairs model output in place so it satisfies the plan
// invariants: blank ids are numbered, duplicate ids are suffixed, and
// dependencies on unknown, later, or self ids are dropped. known seeds the set
// of ids that already exist (a completed prefix). It returns one note per
// repair for logging.
func normalizeSteps(steps []Step, known map[string]bool) []string {
	var notes []string
	seen := make(map[string]bool, len(steps)+len(known))
	for id := range known {
		seen[id] = true
	}

	for i := range steps {
		s := &steps[i]
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			s.ID = fmt.Sprintf("step-%d", i+1)
			notes = append(notes, fmt.Sprintf("assigned id %s to untitled step %d", s.ID, i+1))
		}
		if seen[s.ID] {
			base := s.ID
			for n := 2; seen[s.ID]; n++ {
				s.ID = fmt.Sprintf("%s-%d", base, n)
			}
			notes = append(notes, fmt.Sprintf("renamed duplicate id %s to %s", base, s.ID))
		}

		if len(s.DependsOn) > 0 {
			kept := s.DependsOn[:0]
			for _, dep := range s.DependsOn {
				if dep != s.ID && seen[dep] {
					kept = append(kept, dep)
					continue
				}
				notes = append(notes, fmt.Sprintf("dropped dependency %s -> %s", s.ID, dep))
			}
			s.DependsOn = kept
		}
		if s.ToolIDs == nil {
			s.ToolIDs = []string{}
		}
		if s.DependsOn == nil {
			s.DependsOn = []string{}
		}
		seen[s.ID] = true
	}
	return notes
}
