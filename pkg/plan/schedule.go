package plan

// ReadySteps returns the steps that have not succeeded yet and whose
// dependencies all have, in plan order. A step never starts before every
// step it depends on reports success.
func ReadySteps(steps []Step, succeeded map[string]bool) []Step {
	var ready []Step
	for i := range steps {
		s := &steps[i]
		if succeeded[s.ID] {
			continue
		}
		blocked := false
		for _, dep := range s.DependsOn {
			if !succeeded[dep] {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, *s)
		}
	}
	return ready
}

// SplitRemaining partitions steps into the completed prefix and the rest,
// using the completed ids recorded in progress.
func SplitRemaining(steps []Step, completedIDs []string) (done, remaining []Step) {
	completed := make(map[string]bool, len(completedIDs))
	for _, id := range completedIDs {
		completed[id] = true
	}
	for i := range steps {
		if completed[steps[i].ID] {
			done = append(done, steps[i])
		} else {
			remaining = append(remaining, steps[i])
		}
	}
	return done, remaining
}
