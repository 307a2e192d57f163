package loop

import (
	"bufio"
	"os"
	"strings"
)

// Plan-document checkbox prefixes. The plan is a markdown task list;
// an unchecked box is a pending work item.
const (
	pendingPrefix = "- [ ]"
	donePrefix    = "- [x]"
)

// PlanExists reports whether the task-plan document is present.
func PlanExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// PendingItems returns the unchecked task-list entries from the plan
// document, in document order. A missing document yields none.
func PendingItems(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var items []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, pendingPrefix) {
			item := strings.TrimSpace(strings.TrimPrefix(line, pendingPrefix))
			if item != "" {
				items = append(items, item)
			}
		}
	}
	return items, scanner.Err()
}
