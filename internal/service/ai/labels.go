package ai

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultLabels are the ripeness classes of the bundled palm-fruit model,
// indexed by class id.
var DefaultLabels = []string{"kurang masak", "masak", "terlalu masak"}

// Labels maps class ids to display names.
type Labels struct {
	names []string
}

// NewLabels builds a table from names indexed by class id.
func NewLabels(names []string) *Labels {
	return &Labels{names: append([]string(nil), names...)}
}

// LoadLabels reads one class name per line. Lines may also be written as
// "<id>: <name>" to match dataset yaml listings. An empty path yields
// DefaultLabels.
func LoadLabels(path string) (*Labels, error) {
	if path == "" {
		return NewLabels(DefaultLabels), nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels file: %w", err)
	}
	defer file.Close()

	var names []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if id, name, ok := strings.Cut(line, ":"); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(id)); err == nil && n >= 0 {
				for len(names) <= n {
					names = append(names, "")
				}
				names[n] = strings.Trim(strings.TrimSpace(name), `"'`)
				continue
			}
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels file: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}

	return &Labels{names: names}, nil
}

// Lookup returns the name of classID, or "class_<id>" when it is unknown.
func (l *Labels) Lookup(classID int) string {
	if l != nil && classID >= 0 && classID < len(l.names) && l.names[classID] != "" {
		return l.names[classID]
	}
	return "class_" + strconv.Itoa(classID)
}

// Len returns the number of known classes.
func (l *Labels) Len() int {
	if l == nil {
		return 0
	}
	return len(l.names)
}
