package gateway

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wata-gh/prdash/internal/domain"
)

// setupTestGateway creates a GitHubGateway that communicates with a mock HTTP
// server. Retries are disabled so error cases fail fast.
func setupTestGateway(t *testing.T, handler http.Handler) (*GitHubGateway, *httptest.Server) {
	server := httptest.NewServer(handler)

	restClient := github.NewClient(server.Client())
	baseURL, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	restClient.BaseURL = baseURL

	graphqlClient := githubv4.NewEnterpriseClient(server.URL, server.Client())
	logger := log.New(io.Discard, "", 0)

	gateway := &GitHubGateway{
		restClient:    restClient,
		graphqlClient: graphqlClient,
		logger:        logger,
		newBackOff:    func() backoff.BackOff { return &backoff.StopBackOff{} },
	}

	return gateway, server
}

func testWindow(t *testing.T) domain.DateWindow {
	t.Helper()
	w, err := domain.NewDateWindow(
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	return w
}

func TestGitHubGateway_CheckAuth(t *testing.T) {
	testCases := []struct {
		name        string
		handlerFunc func(w http.ResponseWriter, r *http.Request)
		expectedErr error
	}{
		{
			name: "valid token",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				assert.Contains(t, r.URL.String(), "/user")
				w.WriteHeader(http.StatusOK)
				fmt.Fprint(w, `{"login": "alice"}`)
			},
			expectedErr: nil,
		},
		{
			name: "bad credentials map to an authentication error",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprint(w, `{"message": "Bad credentials"}`)
			},
			expectedErr: ErrAuthentication,
		},
		{
			name: "missing scope maps to an authorization error",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
				fmt.Fprint(w, `{"message": "Resource not accessible by personal access token"}`)
			},
			expectedErr: ErrAuthorization,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gateway, server := setupTestGateway(t, http.HandlerFunc(tc.handlerFunc))
			defer server.Close()

			err := gateway.CheckAuth(context.Background())
			if tc.expectedErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.expectedErr)
			}
		})
	}
}

func TestGitHubGateway_FetchCreatedPRs(t *testing.T) {
	// Two PRs in the window, one outside it. The out-of-window PR must be
	// dropped even though the search returned it.
	responseBody := `{"data":{"search":{"edges":[
		{"node":{"__typename":"PullRequest","title":"Add cache","url":"https://github.com/acme/repo/pull/1","state":"MERGED","createdAt":"2024-01-10T12:00:00Z","mergedAt":"2024-01-12T08:00:00Z","merged":true,"additions":120,"deletions":30}},
		{"node":{"__typename":"PullRequest","title":"Fix flake","url":"https://github.com/acme/repo/pull/2","state":"OPEN","createdAt":"2024-01-20T09:00:00Z","merged":false,"additions":5,"deletions":1}},
		{"node":{"__typename":"PullRequest","title":"Too late","url":"https://github.com/acme/repo/pull/3","state":"OPEN","createdAt":"2024-02-05T00:00:00Z","merged":false,"additions":9,"deletions":9}}
	]}}}`

	handler := func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "org:acme author:alice is:pr created:2024-01-01..2024-01-31")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, responseBody)
	}
	gateway, server := setupTestGateway(t, http.HandlerFunc(handler))
	defer server.Close()

	records, details, err := gateway.FetchCreatedPRs(context.Background(), "acme", "alice", testWindow(t))
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, domain.EventCreated, records[0].Event)
	assert.Equal(t, "alice", records[0].User)
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), records[0].Date)
	assert.Equal(t, 120, records[0].Additions)
	assert.Equal(t, 30, records[0].Deletions)

	require.Len(t, details, 2)
	assert.Equal(t, "Add cache", details[0].Title)
	assert.Equal(t, "MERGED", details[0].State)
	require.NotNil(t, details[0].MergedAt)
	assert.Equal(t, time.Date(2024, 1, 12, 8, 0, 0, 0, time.UTC), *details[0].MergedAt)
	assert.Nil(t, details[1].MergedAt)
}

func TestGitHubGateway_FetchMergedPRs(t *testing.T) {
	responseBody := `{"data":{"search":{"edges":[
		{"node":{"__typename":"PullRequest","mergedAt":"2024-01-12T08:00:00Z"}},
		{"node":{"__typename":"PullRequest","mergedAt":"2024-02-02T08:00:00Z"}}
	]}}}`

	handler := func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "is:merged merged:2024-01-01..2024-01-31")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, responseBody)
	}
	gateway, server := setupTestGateway(t, http.HandlerFunc(handler))
	defer server.Close()

	records, err := gateway.FetchMergedPRs(context.Background(), "acme", "alice", testWindow(t))
	require.NoError(t, err)

	// The February merge is outside the window and must be dropped.
	require.Len(t, records, 1)
	assert.Equal(t, domain.EventMerged, records[0].Event)
	assert.Equal(t, time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC), records[0].Date)
}

func TestGitHubGateway_FetchReviews(t *testing.T) {
	// One PR with three reviews: one by alice in the window, one by alice
	// outside the window, one by somebody else.
	responseBody := `{"data":{"search":{"edges":[
		{"node":{"__typename":"PullRequest","title":"Refactor parser","url":"https://github.com/acme/repo/pull/7","reviews":{"nodes":[
			{"state":"APPROVED","submittedAt":"2024-01-15T10:00:00Z","author":{"login":"Alice"}},
			{"state":"COMMENTED","submittedAt":"2024-02-10T10:00:00Z","author":{"login":"alice"}},
			{"state":"APPROVED","submittedAt":"2024-01-16T10:00:00Z","author":{"login":"bob"}}
		]}}}
	]}}}`

	handler := func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "reviewed-by:alice")
		assert.Contains(t, string(body), "updated:2024-01-01..2024-01-31")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, responseBody)
	}
	gateway, server := setupTestGateway(t, http.HandlerFunc(handler))
	defer server.Close()

	records, details, err := gateway.FetchReviews(context.Background(), "acme", "alice", testWindow(t))
	require.NoError(t, err)

	// Only the in-window review authored by alice counts; login matching is
	// case-insensitive.
	require.Len(t, records, 1)
	assert.Equal(t, domain.EventReviewed, records[0].Event)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), records[0].Date)

	require.Len(t, details, 1)
	assert.Equal(t, "Refactor parser", details[0].PRTitle)
	assert.Equal(t, "APPROVED", details[0].State)
}

func TestGitHubGateway_GraphQLErrors(t *testing.T) {
	testCases := []struct {
		name           string
		statusCode     int
		responseBody   string
		expectedErr    error
		expectedErrMsg string
	}{
		{
			name:           "server error is transient",
			statusCode:     http.StatusInternalServerError,
			responseBody:   `{"message": "boom"}`,
			expectedErrMsg: "failed to search created PRs",
		},
		{
			name:         "bad credentials are an authentication error",
			statusCode:   http.StatusUnauthorized,
			responseBody: `{"message": "Bad credentials"}`,
			expectedErr:  ErrAuthentication,
		},
		{
			name:         "rate limit is surfaced as retryable",
			statusCode:   http.StatusOK,
			responseBody: `{"errors":[{"message":"API rate limit exceeded","type":"RATE_LIMITED"}]}`,
			expectedErr:  ErrRateLimited,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			handler := func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				fmt.Fprint(w, tc.responseBody)
			}
			gateway, server := setupTestGateway(t, http.HandlerFunc(handler))
			defer server.Close()

			_, _, err := gateway.FetchCreatedPRs(context.Background(), "acme", "alice", testWindow(t))
			require.Error(t, err)
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr)
			}
			if tc.expectedErrMsg != "" {
				assert.Contains(t, err.Error(), tc.expectedErrMsg)
			}
		})
	}
}
