package domain

import (
	"testing"
	"time"
)

func TestIdempotencyKeys(t *testing.T) {
	if got := RetentionKey(HighlightGodComment, 42, 2); got != "GOD_COMMENT_RETENTION:42:W2" {
		t.Fatalf("unexpected retention key %q", got)
	}
	if got := RetentionKey(HighlightSofa, 7, 1); got != "SOFA_RETENTION:7:W1" {
		t.Fatalf("unexpected retention key %q", got)
	}
	if got := LikeBonusKey(HighlightSofa, 9); got != "SOFA_LIKE_BONUS:9" {
		t.Fatalf("unexpected like bonus key %q", got)
	}
}

func TestWeeksRetained(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := map[time.Duration]int{
		-time.Hour:                  0,
		6 * 24 * time.Hour:          0,
		7 * 24 * time.Hour:          1,
		22 * 24 * time.Hour:         3,
		90*24*time.Hour + time.Hour: 12,
	}
	for age, want := range cases {
		if got := WeeksRetained(since.Add(age), since); got != want {
			t.Errorf("age %v: got %d weeks, want %d", age, got, want)
		}
	}
}

func TestParseHighlightKind(t *testing.T) {
	for _, raw := range []string{"GodComment", "GOD_COMMENT", "god"} {
		if k, err := ParseHighlightKind(raw); err != nil || k != HighlightGodComment {
			t.Errorf("%q: got %v, %v", raw, k, err)
		}
	}
	if k, err := ParseHighlightKind("sofa"); err != nil || k != HighlightSofa {
		t.Errorf("sofa: got %v, %v", k, err)
	}
	if _, err := ParseHighlightKind("couch"); err == nil {
		t.Error("expected error for unknown kind")
	}
	if HighlightKind(3).Valid() {
		t.Error("kind 3 must be invalid")
	}
}

func TestRecordKey(t *testing.T) {
	parent := int64(5)
	sofa := HighlightRecord{Kind: HighlightSofa, PostID: 1, ParentCommentID: &parent}
	if sofa.Key() != (HighlightKey{Kind: HighlightSofa, ID: 5}) {
		t.Fatalf("sofa key: %v", sofa.Key())
	}
	god := HighlightRecord{Kind: HighlightGodComment, PostID: 1}
	if god.Key() != (HighlightKey{Kind: HighlightGodComment, ID: 1}) {
		t.Fatalf("god key: %v", god.Key())
	}
}

func TestAvailable(t *testing.T) {
	b := UserBalance{Balance: 50, FrozenBalance: 20}
	if b.Available() != 30 {
		t.Fatalf("available = %d", b.Available())
	}
}
