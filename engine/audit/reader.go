package audit

import (
	"bufio"
	"encoding/json"
	"os"
)

// Filter narrows which events Read returns.
type Filter struct {
	EventType EventType
	Component string
	RunID     string
	Offset    int
	Limit     int
}

// Read scans the JSONL file at path and returns matching events, newest
// first, after applying Offset/Limit.
func Read(path string, f Filter) ([]Event, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var all []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		if f.Component != "" && e.Component != f.Component {
			continue
		}
		if f.RunID != "" && e.RunID != f.RunID {
			continue
		}
		all = append(all, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// newest first
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}

	start := f.Offset
	if start > len(all) {
		start = len(all)
	}
	all = all[start:]
	if f.Limit > 0 && f.Limit < len(all) {
		all = all[:f.Limit]
	}
	return all, nil
}
