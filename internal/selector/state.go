package selector

import "github.com/nextlevelbuilder/dectpair/internal/device"

// State is a bounded cursor over a non-empty candidate list.
// Index stays in [0, len(Candidates)); Committed is set once, by Commit.
type State struct {
	Candidates []device.Device
	Index      int
	Committed  bool
}

func NewState(candidates []device.Device) *State {
	return &State{Candidates: candidates}
}

// Up moves the cursor towards the first candidate, stopping there.
func (s *State) Up() {
	if s.Committed {
		return
	}
	s.Index = max(0, s.Index-1)
}

// Down moves the cursor towards the last candidate, stopping there.
func (s *State) Down() {
	if s.Committed {
		return
	}
	s.Index = min(len(s.Candidates)-1, s.Index+1)
}

// Commit marks the current candidate as chosen. It reports false if the
// selection was already committed.
func (s *State) Commit() bool {
	if s.Committed {
		return false
	}
	s.Committed = true
	return true
}

func (s *State) Current() device.Device {
	return s.Candidates[s.Index]
}
