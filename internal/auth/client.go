package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/fromentine-orders/internal/apperr"
	"github.com/jogardn/fromentine-orders/internal/circuitbreaker"
)

// errRejected marks a token the auth provider refused. It is the caller's
// fault, so it does not count against the breaker.
var errRejected = errors.New("auth provider rejected token")

// Client asks the hosted auth provider who a token belongs to.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *logrus.Logger
}

func NewClient(baseURL, apiKey string, breaker *circuitbreaker.CircuitBreaker, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: breaker,
		logger:  logger,
	}
}

// IsProviderFailure is the breaker classifier for auth calls.
func IsProviderFailure(err error) bool {
	return !errors.Is(err, errRejected)
}

func (c *Client) GetUser(ctx context.Context, bearerToken string) (*User, error) {
	const op = "auth.remote"
	if bearerToken == "" {
		return nil, apperr.Unauthenticated(op, ErrMissingToken)
	}

	var user *User
	call := func(ctx context.Context) error {
		var err error
		user, err = c.fetchUser(ctx, bearerToken)
		return err
	}
	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}

	switch {
	case errors.Is(err, errRejected):
		return nil, apperr.Unauthenticated(op, err)
	case err != nil:
		c.logger.WithError(err).Warn("Auth provider unavailable")
		return nil, apperr.Unavailable(op, err)
	}
	return user, nil
}

func (c *Client) fetchUser(ctx context.Context, bearerToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearerToken)
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to auth provider: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", errRejected, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("auth provider returned error status: %d", resp.StatusCode)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode auth provider response: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("%w: response carried no user id", errRejected)
	}

	c.logger.WithField("user_id", user.ID).Debug("Resolved user from auth provider")
	return &user, nil
}
