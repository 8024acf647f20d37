package wasmbuild

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Stage states persisted in the status record. The record is
// informational; the skip decision on re-entry still keys off output
// directory existence alone.
const (
	statePending = "pending"
	stateDone    = "done"
	stateFailed  = "failed"
)

// stageStatus is a small key=value record kept alongside the build tree so
// a later invocation (or `wasmbuild status`) can tell a stage that
// succeeded from one whose directory merely exists.
type stageStatus struct {
	path   string
	states map[Stage]string
}

func loadStageStatus(path string) *stageStatus {
	s := &stageStatus{path: path, states: make(map[Stage]string)}
	f, err := os.Open(path)
	if err != nil {
		return s
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.SplitN(strings.TrimSpace(scanner.Text()), "=", 2)
		if len(parts) == 2 {
			s.states[Stage(parts[0])] = parts[1]
		}
	}
	return s
}

func (s *stageStatus) get(stage Stage) string {
	return s.states[stage]
}

func (s *stageStatus) set(stage Stage, state string) {
	s.states[stage] = state
	if err := s.save(); err != nil {
		debugf("failed to persist stage status: %v\n", err)
	}
}

func (s *stageStatus) save() error {
	keys := make([]string, 0, len(s.states))
	for k := range s.states {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, s.states[Stage(k)])
	}
	return os.WriteFile(s.path, []byte(b.String()), 0o644)
}
