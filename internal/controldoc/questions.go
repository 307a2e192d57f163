package controldoc

import (
	"os"
	"regexp"
	"sort"
	"strings"
)

// Question sections are keyed by a Q-<n> heading. Each section carries
// an "awaiting response" or "answered" marker; a section carrying an
// answered marker anywhere is settled even if it also says awaiting.
var questionHeading = regexp.MustCompile(`(?m)^#{1,6}\s*(Q-\d+)\b`)

// AwaitingIDs returns the identifiers of open (awaiting-response)
// questions in the document at path, sorted for determinism. A missing
// document means no open questions.
func AwaitingIDs(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return awaitingIDs(string(data)), nil
}

func awaitingIDs(content string) []string {
	matches := questionHeading.FindAllStringSubmatchIndex(content, -1)
	if matches == nil {
		return nil
	}

	seen := map[string]bool{}
	var ids []string

	for i, m := range matches {
		id := content[m[2]:m[3]]

		sectionEnd := len(content)
		if i+1 < len(matches) {
			sectionEnd = matches[i+1][0]
		}
		section := strings.ToLower(content[m[0]:sectionEnd])

		if strings.Contains(section, "answered") {
			continue
		}
		if !strings.Contains(section, "awaiting response") {
			continue
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)
	return ids
}
