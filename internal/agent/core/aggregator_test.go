package core

import "testing"

func TestMergeCandidatesDedupsAgainstExisting(t *testing.T) {
	existing := []Candidate{
		{Username: "alice", Bio: "original"},
		{Username: "bob"},
	}
	extracted := []Candidate{
		{Username: "alice", Bio: "duplicate"},
		{Username: "carol"},
	}

	merged, added := MergeCandidates(existing, extracted)
	if len(merged) != 3 {
		t.Fatalf("expected 3 merged candidates, got %d", len(merged))
	}
	if len(added) != 1 || added[0].Username != "carol" {
		t.Fatalf("expected only carol to be newly added, got %+v", added)
	}
	if merged[0].Bio != "original" {
		t.Fatalf("first-seen candidate must win, got bio %q", merged[0].Bio)
	}
}

func TestMergeCandidatesDedupsWithinBatch(t *testing.T) {
	merged, added := MergeCandidates(nil, []Candidate{
		{Username: "dave", DisplayName: "first"},
		{Username: "dave", DisplayName: "second"},
	})
	if len(merged) != 1 || len(added) != 1 {
		t.Fatalf("expected 1 candidate after in-batch dedup, got merged=%d added=%d", len(merged), len(added))
	}
	if merged[0].DisplayName != "first" {
		t.Fatalf("first occurrence must win, got %q", merged[0].DisplayName)
	}
}

func TestMergeCandidatesNormalizesUsernames(t *testing.T) {
	merged, added := MergeCandidates(
		[]Candidate{{Username: "Alice"}},
		[]Candidate{{Username: "@alice"}, {Username: "ALICE"}},
	)
	if len(merged) != 1 || len(added) != 0 {
		t.Fatalf("expected @-prefix and case variants to dedup, got merged=%d added=%d", len(merged), len(added))
	}
}

func TestMergeCandidatesDropsEmptyUsernames(t *testing.T) {
	merged, added := MergeCandidates(nil, []Candidate{{Username: "  "}, {Username: "eve"}})
	if len(merged) != 1 || len(added) != 1 || merged[0].Username != "eve" {
		t.Fatalf("expected empty usernames dropped, got %+v", merged)
	}
}

func TestSessionMergePreservesInsertionOrder(t *testing.T) {
	s := NewSession("s1", "q")
	s.Merge([]Candidate{{Username: "alice"}, {Username: "bob"}})
	added := s.Merge([]Candidate{{Username: "bob"}, {Username: "carol"}})

	if len(added) != 1 || added[0].Username != "carol" {
		t.Fatalf("expected only carol added on second merge, got %+v", added)
	}
	got := s.Candidates()
	want := []string{"alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("expected %d candidates, got %d", len(want), len(got))
	}
	for i, u := range want {
		if got[i].Username != u {
			t.Fatalf("expected %s at position %d, got %s", u, i, got[i].Username)
		}
	}
}
