// Package gateway provides a gateway to the GitHub API,
// abstracting away the underlying REST and GraphQL clients.
package gateway

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"

	"github.com/wata-gh/prdash/internal/domain"
)

const (
	// requestTimeout bounds every outbound call so a stalled API
	// response cannot hang an analysis run indefinitely.
	requestTimeout = 30 * time.Second

	// maxRetries bounds the backoff policy for transient failures.
	maxRetries = 3

	// maxReviewSearchItems caps how many PRs are walked per user when
	// counting reviews, to keep fetch time and API cost reasonable.
	maxReviewSearchItems = 200
)

// Fetcher defines the behavior of a gateway for fetching information from GitHub.
type Fetcher interface {
	CheckAuth(ctx context.Context) error
	FetchCreatedPRs(ctx context.Context, org, user string, window domain.DateWindow) ([]domain.MetricRecord, []domain.PullRequestDetail, error)
	FetchMergedPRs(ctx context.Context, org, user string, window domain.DateWindow) ([]domain.MetricRecord, error)
	FetchReviews(ctx context.Context, org, user string, window domain.DateWindow) ([]domain.MetricRecord, []domain.ReviewDetail, error)
}

// GitHubGateway is the concrete implementation of the Fetcher interface.
type GitHubGateway struct {
	restClient    *github.Client
	graphqlClient *githubv4.Client
	logger        *log.Logger
	newBackOff    func() backoff.BackOff
}

// createdPRsQuery fetches PRs authored by a user, with the fields needed for
// both metric records and the raw drill-down list.
type createdPRsQuery struct {
	Search struct {
		PageInfo struct {
			HasNextPage bool
			EndCursor   githubv4.String
		}
		Edges []struct {
			Node struct {
				Typename    string `graphql:"__typename"`
				PullRequest struct {
					Title     string
					URL       githubv4.URI
					State     githubv4.PullRequestState
					CreatedAt githubv4.DateTime
					MergedAt  githubv4.DateTime
					Merged    bool
					Additions int
					Deletions int
				} `graphql:"... on PullRequest"`
			}
		}
	} `graphql:"search(query: $query, type: ISSUE, first: 50, after: $cursor)"`
}

// mergedPRsQuery only needs merge timestamps.
type mergedPRsQuery struct {
	Search struct {
		PageInfo struct {
			HasNextPage bool
			EndCursor   githubv4.String
		}
		Edges []struct {
			Node struct {
				Typename    string `graphql:"__typename"`
				PullRequest struct {
					MergedAt githubv4.DateTime
				} `graphql:"... on PullRequest"`
			}
		}
	} `graphql:"search(query: $query, type: ISSUE, first: 100, after: $cursor)"`
}

// reviewsQuery fetches PRs a user reviewed together with that user's review
// submissions on each. A smaller page size keeps the nested query cheap.
type reviewsQuery struct {
	Search struct {
		PageInfo struct {
			HasNextPage bool
			EndCursor   githubv4.String
		}
		Edges []struct {
			Node struct {
				Typename    string `graphql:"__typename"`
				PullRequest struct {
					Title   string
					URL     githubv4.URI
					Reviews struct {
						Nodes []struct {
							State       githubv4.PullRequestReviewState
							SubmittedAt githubv4.DateTime
							Author      struct {
								Login string
							}
						}
					} `graphql:"reviews(first: 100, author: $author)"`
				} `graphql:"... on PullRequest"`
			}
		}
	} `graphql:"search(query: $query, type: ISSUE, first: 20, after: $cursor)"`
}

// NewGitHubGateway is a constructor that creates a new instance of GitHubGateway.
func NewGitHubGateway(token string, logger *log.Logger) (Fetcher, error) {
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(1*time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Base:   rateLimitWaiter,
			Source: ts,
		},
		Timeout: requestTimeout,
	}
	return &GitHubGateway{
		restClient:    github.NewClient(httpClient),
		graphqlClient: githubv4.NewClient(httpClient),
		logger:        logger,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries)
		},
	}, nil
}

// CheckAuth verifies the credential with a cheap REST call before any fetch,
// so an invalid token aborts the run with a clear authentication error.
func (g *GitHubGateway) CheckAuth(ctx context.Context) error {
	g.logger.Println("Verifying GitHub credential...")
	if _, _, err := g.restClient.Users.Get(ctx, ""); err != nil {
		return classifyREST(err)
	}
	return nil
}

// FetchCreatedPRs returns one "created" record per PR the user authored in
// the window, plus drill-down details. Additions and deletions ride on the
// created records and are summed during aggregation.
func (g *GitHubGateway) FetchCreatedPRs(ctx context.Context, org, user string, window domain.DateWindow) ([]domain.MetricRecord, []domain.PullRequestDetail, error) {
	g.logger.Printf("[1/3] Fetching PRs created by %s...", user)
	query := fmt.Sprintf("org:%s author:%s is:pr created:%s..%s",
		org, user, window.Start.Format(domain.DateLayout), window.End.Format(domain.DateLayout))
	variables := map[string]interface{}{
		"query":  githubv4.String(query),
		"cursor": (*githubv4.String)(nil),
	}

	var records []domain.MetricRecord
	var details []domain.PullRequestDetail
	for {
		var q createdPRsQuery
		if err := g.query(ctx, &q, variables); err != nil {
			return nil, nil, fmt.Errorf("failed to search created PRs: %w", err)
		}
		for _, edge := range q.Search.Edges {
			if edge.Node.Typename != "PullRequest" {
				continue
			}
			pr := edge.Node.PullRequest
			// Search qualifiers are not trusted as the window boundary;
			// each record is re-checked against its own date field.
			if !window.Contains(pr.CreatedAt.Time) {
				continue
			}
			records = append(records, domain.MetricRecord{
				User:      user,
				Event:     domain.EventCreated,
				Date:      domain.Day(pr.CreatedAt.Time),
				Additions: pr.Additions,
				Deletions: pr.Deletions,
			})
			detail := domain.PullRequestDetail{
				Username:  user,
				Title:     pr.Title,
				URL:       pr.URL.String(),
				State:     string(pr.State),
				CreatedAt: pr.CreatedAt.Time,
			}
			if pr.Merged {
				mergedAt := pr.MergedAt.Time
				detail.MergedAt = &mergedAt
			}
			details = append(details, detail)
		}
		if !q.Search.PageInfo.HasNextPage {
			break
		}
		variables["cursor"] = githubv4.NewString(q.Search.PageInfo.EndCursor)
		g.logger.Println("  Fetching next page of created PRs...")
	}
	g.logger.Printf("Found %d PRs created by %s.", len(records), user)
	return records, details, nil
}

// FetchMergedPRs returns one "merged" record per PR the user authored that
// was merged inside the window. Merge counting filters by merge date, not
// creation date, so a PR created outside the window still counts here.
func (g *GitHubGateway) FetchMergedPRs(ctx context.Context, org, user string, window domain.DateWindow) ([]domain.MetricRecord, error) {
	g.logger.Printf("[2/3] Fetching PRs merged for %s...", user)
	query := fmt.Sprintf("org:%s author:%s is:pr is:merged merged:%s..%s",
		org, user, window.Start.Format(domain.DateLayout), window.End.Format(domain.DateLayout))
	variables := map[string]interface{}{
		"query":  githubv4.String(query),
		"cursor": (*githubv4.String)(nil),
	}

	var records []domain.MetricRecord
	for {
		var q mergedPRsQuery
		if err := g.query(ctx, &q, variables); err != nil {
			return nil, fmt.Errorf("failed to search merged PRs: %w", err)
		}
		for _, edge := range q.Search.Edges {
			pr := edge.Node.PullRequest
			if edge.Node.Typename != "PullRequest" || pr.MergedAt.IsZero() {
				continue
			}
			if !window.Contains(pr.MergedAt.Time) {
				continue
			}
			records = append(records, domain.MetricRecord{
				User:  user,
				Event: domain.EventMerged,
				Date:  domain.Day(pr.MergedAt.Time),
			})
		}
		if !q.Search.PageInfo.HasNextPage {
			break
		}
		variables["cursor"] = githubv4.NewString(q.Search.PageInfo.EndCursor)
		g.logger.Println("  Fetching next page of merged PRs...")
	}
	g.logger.Printf("Found %d PRs merged for %s.", len(records), user)
	return records, nil
}

// FetchReviews returns one "reviewed" record per review the user submitted
// inside the window. GitHub search has no submitted-date qualifier, so the
// query narrows by updated date and each review is then filtered by its own
// submission timestamp. The scan is capped at maxReviewSearchItems PRs.
func (g *GitHubGateway) FetchReviews(ctx context.Context, org, user string, window domain.DateWindow) ([]domain.MetricRecord, []domain.ReviewDetail, error) {
	g.logger.Printf("[3/3] Fetching reviews by %s...", user)
	query := fmt.Sprintf("org:%s is:pr reviewed-by:%s updated:%s..%s",
		org, user, window.Start.Format(domain.DateLayout), window.End.Format(domain.DateLayout))
	variables := map[string]interface{}{
		"query":  githubv4.String(query),
		"cursor": (*githubv4.String)(nil),
		"author": githubv4.String(user),
	}

	var records []domain.MetricRecord
	var details []domain.ReviewDetail
	scanned := 0
	for {
		var q reviewsQuery
		if err := g.query(ctx, &q, variables); err != nil {
			return nil, nil, fmt.Errorf("failed to search reviewed PRs: %w", err)
		}
		for _, edge := range q.Search.Edges {
			if edge.Node.Typename != "PullRequest" {
				continue
			}
			pr := edge.Node.PullRequest
			scanned++
			for _, review := range pr.Reviews.Nodes {
				if !strings.EqualFold(review.Author.Login, user) {
					continue
				}
				if review.SubmittedAt.IsZero() || !window.Contains(review.SubmittedAt.Time) {
					continue
				}
				records = append(records, domain.MetricRecord{
					User:  user,
					Event: domain.EventReviewed,
					Date:  domain.Day(review.SubmittedAt.Time),
				})
				details = append(details, domain.ReviewDetail{
					Username:    user,
					PRTitle:     pr.Title,
					PRURL:       pr.URL.String(),
					State:       string(review.State),
					SubmittedAt: review.SubmittedAt.Time,
				})
			}
			if scanned >= maxReviewSearchItems {
				break
			}
		}
		if scanned >= maxReviewSearchItems || !q.Search.PageInfo.HasNextPage {
			break
		}
		variables["cursor"] = githubv4.NewString(q.Search.PageInfo.EndCursor)
		g.logger.Println("  Fetching next page of reviewed PRs...")
	}
	g.logger.Printf("Found %d reviews by %s.", len(records), user)
	return records, details, nil
}

// query runs one GraphQL query with bounded exponential-backoff retries.
// Authentication and scope errors are permanent and fail immediately;
// primary rate limits are slept through by the transport before they ever
// reach this layer.
func (g *GitHubGateway) query(ctx context.Context, q interface{}, variables map[string]interface{}) error {
	op := func() error {
		err := g.graphqlClient.Query(ctx, q, variables)
		if err == nil {
			return nil
		}
		err = classifyGraphQL(err)
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		g.logger.Printf("  Retryable GraphQL failure: %v", err)
		return err
	}
	return backoff.Retry(op, backoff.WithContext(g.newBackOff(), ctx))
}
