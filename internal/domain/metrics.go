// Package domain contains the core data structures and domain logic for the application.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire and display format for dates.
const DateLayout = "2006-01-02"

// EventType identifies which kind of activity a MetricRecord measures.
type EventType string

const (
	EventCreated  EventType = "created"
	EventMerged   EventType = "merged"
	EventReviewed EventType = "reviewed"
)

// DateWindow is a closed date interval at day granularity.
// Start and End are always midnight UTC.
type DateWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateWindow builds a window from two timestamps, truncated to whole days.
func NewDateWindow(start, end time.Time) (DateWindow, error) {
	s, e := Day(start), Day(end)
	if s.After(e) {
		return DateWindow{}, fmt.Errorf("start date %s is after end date %s",
			s.Format(DateLayout), e.Format(DateLayout))
	}
	return DateWindow{Start: s, End: e}, nil
}

// Contains reports whether t falls inside the window, both ends inclusive.
func (w DateWindow) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(w.Start) && !d.After(w.End)
}

// Day truncates a timestamp to midnight UTC.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseUsernames splits a comma-separated username string, trims whitespace,
// drops empties and removes duplicates. This is the single place raw user
// input is parsed; downstream code only ever sees the cleaned slice.
func ParseUsernames(raw string) []string {
	seen := make(map[string]struct{})
	users := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		users = append(users, name)
	}
	return users
}

// AnalysisRequest carries everything one analysis run needs.
type AnalysisRequest struct {
	Token  string     `json:"-"`
	Org    string     `json:"org"`
	Users  []string   `json:"users"`
	Window DateWindow `json:"window"`
}

// Validate checks the request before any fetch is issued.
func (r AnalysisRequest) Validate() error {
	if r.Token == "" {
		return errors.New("a GitHub token is required")
	}
	if r.Org == "" {
		return errors.New("an organization name is required")
	}
	if len(r.Users) == 0 {
		return errors.New("at least one username is required")
	}
	for _, u := range r.Users {
		if strings.TrimSpace(u) == "" {
			return errors.New("usernames must be non-empty")
		}
	}
	if r.Window.Start.IsZero() || r.Window.End.IsZero() {
		return errors.New("a date range is required")
	}
	if r.Window.Start.After(r.Window.End) {
		return errors.New("start date is after end date")
	}
	return nil
}

// MetricRecord is a single dated activity event for one user. Records are
// produced by the fetch stage, consumed by the aggregation stage and then
// discarded. The Date always falls inside the requested window; the fetch
// stage filters each record by its own relevant date field (creation date
// for created PRs, merge date for merged PRs, submission date for reviews).
type MetricRecord struct {
	User      string
	Event     EventType
	Date      time.Time
	Additions int
	Deletions int
}

// UserSummary holds the aggregated activity counts for a single user.
type UserSummary struct {
	Username   string  `json:"username"`
	PRsCreated int     `json:"prs_created"`
	PRsMerged  int     `json:"prs_merged"`
	MergeRatio float64 `json:"merge_ratio"`
	Reviews    int     `json:"reviews"`
	Additions  int     `json:"additions"`
	Deletions  int     `json:"deletions"`
}

// TimeSeriesPoint holds one user's activity counts for a single day.
type TimeSeriesPoint struct {
	Date     time.Time `json:"date"`
	Username string    `json:"username"`
	Created  int       `json:"created"`
	Merged   int       `json:"merged"`
	Reviews  int       `json:"reviews"`
}

// Totals are the organization-wide KPI sums across all users in a run.
// MeanMergeRatio and MedianMergeRatio are computed over the per-user ratios.
type Totals struct {
	PRsCreated       int     `json:"prs_created"`
	PRsMerged        int     `json:"prs_merged"`
	Reviews          int     `json:"reviews"`
	Additions        int     `json:"additions"`
	Deletions        int     `json:"deletions"`
	MeanMergeRatio   float64 `json:"mean_merge_ratio"`
	MedianMergeRatio float64 `json:"median_merge_ratio"`
}

// PullRequestDetail is a raw drill-down row for one pull request.
type PullRequestDetail struct {
	Username  string     `json:"username"`
	Title     string     `json:"title"`
	URL       string     `json:"url"`
	State     string     `json:"state"`
	CreatedAt time.Time  `json:"created_at"`
	MergedAt  *time.Time `json:"merged_at,omitempty"`
}

// ReviewDetail is a raw drill-down row for one submitted review.
type ReviewDetail struct {
	Username    string    `json:"username"`
	PRTitle     string    `json:"pr_title"`
	PRURL       string    `json:"pr_url"`
	State       string    `json:"state"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// AnalysisResult is the complete output of one analysis run.
type AnalysisResult struct {
	Summaries    []UserSummary       `json:"summaries"`
	TimeSeries   []TimeSeriesPoint   `json:"time_series"`
	Totals       Totals              `json:"totals"`
	PullRequests []PullRequestDetail `json:"pull_requests"`
	Reviews      []ReviewDetail      `json:"reviews"`
}
