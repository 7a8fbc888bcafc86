package server

import (
	"testing"
	"time"
)

func TestIsDue(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC)

	if !isDue("0 * * * *", time.Time{}, now) {
		t.Fatal("a query that never ran must be due")
	}
	if !isDue("0 * * * *", now.Add(-2*time.Hour), now) {
		t.Fatal("hourly query last run 2h ago must be due")
	}
	if isDue("0 * * * *", now.Add(-time.Minute), now) {
		t.Fatal("hourly query run a minute ago must not be due")
	}
	if isDue("not a cron", now.Add(-24*time.Hour), now) {
		t.Fatal("invalid cron spec must never be due")
	}
}
