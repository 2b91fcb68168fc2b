package agent

import (
	"errors"
	"strconv"
	"strings"

	"github.com/GoCodeAlone/pawl/task"
)

// ErrMalformedOutput reports generated text that yielded nothing usable.
var ErrMalformedOutput = errors.New("malformed agent output")

// ParseTaskLines splits generated text into task names, one per non-empty
// line, trimmed. It returns ErrMalformedOutput when no line survives.
func ParseTaskLines(text string) ([]string, error) {
	var names []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	if len(names) == 0 {
		return nil, ErrMalformedOutput
	}
	return names, nil
}

// ParseNumberedList parses lines of the form "N. name" ("#N. name" and
// "#. name" too) and renumbers them startID, startID+1, ... in the order
// they appear. Lines without a numeric prefix or with an empty name are
// dropped. It returns the kept tasks, the number of dropped non-blank
// lines, and ErrMalformedOutput when nothing is kept.
func ParseNumberedList(text string, startID int) ([]task.Task, int, error) {
	var (
		tasks   []task.Task
		dropped int
	)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, ok := numberedItem(line)
		if !ok {
			dropped++
			continue
		}
		tasks = append(tasks, task.Task{ID: startID + len(tasks), Name: name})
	}
	if len(tasks) == 0 {
		return nil, dropped, ErrMalformedOutput
	}
	return tasks, dropped, nil
}

func numberedItem(line string) (string, bool) {
	prefix, rest, ok := strings.Cut(line, ".")
	if !ok {
		return "", false
	}
	prefix = strings.TrimSpace(prefix)
	// "#." echoes the template in the prompt; ids are reassigned anyway.
	if prefix != "#" {
		if _, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(prefix, "#"))); err != nil {
			return "", false
		}
	}
	name := strings.TrimSpace(rest)
	if name == "" {
		return "", false
	}
	return name, true
}
