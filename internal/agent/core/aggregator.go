package core

import "strings"

// normalizeUsername is the dedup key for candidates. Leading @ and case
// differences do not make a profile distinct.
func normalizeUsername(username string) string {
	u := strings.TrimSpace(username)
	u = strings.TrimPrefix(u, "@")
	return strings.ToLower(u)
}

// MergeCandidates folds newly extracted candidates into an existing set,
// unique by username with first occurrence winning, both against the
// existing set and within the new batch. It returns the merged set in
// insertion order and the subset that was actually added.
func MergeCandidates(existing, extracted []Candidate) (merged, newlyAdded []Candidate) {
	seen := make(map[string]struct{}, len(existing)+len(extracted))
	merged = make([]Candidate, 0, len(existing)+len(extracted))
	for _, c := range existing {
		key := normalizeUsername(c.Username)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, c)
	}
	for _, c := range extracted {
		key := normalizeUsername(c.Username)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, c)
		newlyAdded = append(newlyAdded, c)
	}
	return merged, newlyAdded
}
