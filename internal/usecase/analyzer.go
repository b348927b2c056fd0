// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"

	"github.com/wata-gh/prdash/internal/domain"
	"github.com/wata-gh/prdash/internal/gateway"
)

// maxConcurrentUsers bounds the per-user fan-out so a long user list does
// not swamp the API.
const maxConcurrentUsers = 4

// Analyzer is the use case for one analysis run.
// It orchestrates the fetching and aggregation of activity data.
type Analyzer struct {
	fetcher gateway.Fetcher
	logger  *log.Logger
}

// NewAnalyzer creates a new Analyzer instance.
func NewAnalyzer(fetcher gateway.Fetcher, logger *log.Logger) *Analyzer {
	return &Analyzer{
		fetcher: fetcher,
		logger:  logger,
	}
}

// userActivity holds everything fetched for one user before aggregation.
type userActivity struct {
	records []domain.MetricRecord
	prs     []domain.PullRequestDetail
	reviews []domain.ReviewDetail
}

// Analyze performs the main business logic: validate the request, verify the
// credential, fetch every user's activity concurrently and fold the records
// into per-user summaries, per-day time series and organization totals.
// The first fetch error cancels the remaining fetches and is returned; a user
// with no activity simply contributes nothing.
func (a *Analyzer) Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := a.fetcher.CheckAuth(ctx); err != nil {
		return nil, err
	}
	a.logger.Printf("Usecase: Starting analysis for %d user(s) in %s...", len(req.Users), req.Org)

	activities := make([]userActivity, len(req.Users))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentUsers)
	for i, user := range req.Users {
		i, user := i, user
		eg.Go(func() error {
			created, prs, err := a.fetcher.FetchCreatedPRs(egCtx, req.Org, user, req.Window)
			if err != nil {
				return err
			}
			merged, err := a.fetcher.FetchMergedPRs(egCtx, req.Org, user, req.Window)
			if err != nil {
				return err
			}
			reviewed, reviews, err := a.fetcher.FetchReviews(egCtx, req.Org, user, req.Window)
			if err != nil {
				return err
			}

			records := make([]domain.MetricRecord, 0, len(created)+len(merged)+len(reviewed))
			records = append(records, created...)
			records = append(records, merged...)
			records = append(records, reviewed...)
			activities[i] = userActivity{records: records, prs: prs, reviews: reviews}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	a.logger.Println("Usecase: All data fetched successfully.")

	result := aggregate(req.Users, activities)
	a.logger.Printf("Usecase: Aggregation complete (%d summaries, %d series points).",
		len(result.Summaries), len(result.TimeSeries))
	return result, nil
}

// aggregate folds fetched activity into the final result. It is pure: the
// same inputs always produce the same result, and a run with no activity
// yields zero-valued summaries with zero totals rather than an error.
func aggregate(users []string, activities []userActivity) *domain.AnalysisResult {
	summaryMap := make(map[string]*domain.UserSummary, len(users))
	// Every queried user gets a row, zero-valued when nothing was found,
	// so an unknown username still shows up in the table and charts.
	for _, user := range users {
		summaryMap[user] = &domain.UserSummary{Username: user}
	}
	type dayKey struct {
		user string
		day  time.Time
	}
	seriesMap := make(map[dayKey]*domain.TimeSeriesPoint)

	prs := make([]domain.PullRequestDetail, 0)
	reviews := make([]domain.ReviewDetail, 0)

	for _, activity := range activities {
		for _, rec := range activity.records {
			s, ok := summaryMap[rec.User]
			if !ok {
				s = &domain.UserSummary{Username: rec.User}
				summaryMap[rec.User] = s
			}
			k := dayKey{user: rec.User, day: rec.Date}
			p, ok := seriesMap[k]
			if !ok {
				p = &domain.TimeSeriesPoint{Date: rec.Date, Username: rec.User}
				seriesMap[k] = p
			}

			switch rec.Event {
			case domain.EventCreated:
				s.PRsCreated++
				s.Additions += rec.Additions
				s.Deletions += rec.Deletions
				p.Created++
			case domain.EventMerged:
				s.PRsMerged++
				p.Merged++
			case domain.EventReviewed:
				s.Reviews++
				p.Reviews++
			}
		}
		prs = append(prs, activity.prs...)
		reviews = append(reviews, activity.reviews...)
	}

	summaries := make([]domain.UserSummary, 0, len(summaryMap))
	ratios := make([]float64, 0, len(summaryMap))
	totals := domain.Totals{}
	for _, s := range summaryMap {
		// Zero created PRs yields a ratio of exactly 0.0, never NaN,
		// so charts stay well-defined.
		if s.PRsCreated > 0 {
			s.MergeRatio = float64(s.PRsMerged) / float64(s.PRsCreated)
		}
		ratios = append(ratios, s.MergeRatio)

		totals.PRsCreated += s.PRsCreated
		totals.PRsMerged += s.PRsMerged
		totals.Reviews += s.Reviews
		totals.Additions += s.Additions
		totals.Deletions += s.Deletions

		summaries = append(summaries, *s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Username < summaries[j].Username
	})

	if len(ratios) > 0 {
		// stats errors only on empty input, which is excluded here.
		totals.MeanMergeRatio, _ = stats.Mean(ratios)
		totals.MedianMergeRatio, _ = stats.Median(ratios)
	}

	series := make([]domain.TimeSeriesPoint, 0, len(seriesMap))
	for _, p := range seriesMap {
		series = append(series, *p)
	}
	sort.Slice(series, func(i, j int) bool {
		if !series[i].Date.Equal(series[j].Date) {
			return series[i].Date.Before(series[j].Date)
		}
		return series[i].Username < series[j].Username
	})

	return &domain.AnalysisResult{
		Summaries:    summaries,
		TimeSeries:   series,
		Totals:       totals,
		PullRequests: prs,
		Reviews:      reviews,
	}
}
