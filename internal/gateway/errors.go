package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
)

// Sentinel errors for the failure classes the presenter distinguishes.
// Callers match with errors.Is.
var (
	// ErrAuthentication means the credential itself is invalid or expired.
	ErrAuthentication = errors.New("github authentication failed")
	// ErrAuthorization means the credential is valid but lacks scope for a resource.
	ErrAuthorization = errors.New("github token lacks required scope")
	// ErrRateLimited means the API refused the request due to rate limiting.
	// Retrying later is expected to succeed.
	ErrRateLimited = errors.New("github rate limit exhausted")
)

// classifyREST maps go-github's typed errors onto the gateway's taxonomy.
// Unrecognized errors pass through unchanged and are treated as transient.
func classifyREST(err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("%w: resets at %s", ErrRateLimited,
			rateErr.Rate.Reset.Time.Format(time.RFC3339))
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return fmt.Errorf("%w: secondary rate limit hit", ErrRateLimited)
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrAuthentication, respErr.Message)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrAuthorization, respErr.Message)
		}
	}
	return err
}

// classifyGraphQL maps errors from the GraphQL client onto the taxonomy.
// githubv4 surfaces HTTP failures as plain errors carrying the status line,
// so classification falls back to inspecting the message.
func classifyGraphQL(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "Bad credentials"):
		return fmt.Errorf("%w: %s", ErrAuthentication, msg)
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	case strings.Contains(msg, "403"):
		return fmt.Errorf("%w: %s", ErrAuthorization, msg)
	}
	return err
}

// isPermanent reports whether retrying cannot help.
func isPermanent(err error) bool {
	return errors.Is(err, ErrAuthentication) || errors.Is(err, ErrAuthorization)
}
