// Package strava talks to the Strava OAuth token endpoint and the activity APIs.
package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultAPIBaseURL is the public Strava v3 API root.
	DefaultAPIBaseURL = "https://www.strava.com/api/v3"
	// DefaultTokenURL is the Strava OAuth token endpoint.
	DefaultTokenURL = "https://www.strava.com/oauth/token"
	// DefaultAuthorizeURL is the Strava OAuth consent page.
	DefaultAuthorizeURL = "https://www.strava.com/oauth/authorize"
	// DefaultPageSize is the number of activities requested per listing page.
	DefaultPageSize = 50
	// DefaultMaxPages bounds the listing calls made for a single fetch.
	DefaultMaxPages = 5

	defaultHTTPTimeout = 30 * time.Second
	requiredScope      = "activity:read_all"

	opExchangeCode    = "strava.exchange_code"
	opRefreshToken    = "strava.refresh_token"
	opListActivities  = "strava.list_activities"
	opFetchStreams    = "strava.fetch_streams"
	grantAuthCode     = "authorization_code"
	grantRefreshToken = "refresh_token"
)

var (
	// ErrInvalidClientConfig indicates missing OAuth client credentials.
	ErrInvalidClientConfig = errors.New("strava: invalid client config")
	// ErrMissingAccessToken indicates a call was attempted without a bearer token.
	ErrMissingAccessToken = errors.New("strava: access token required")
	// ErrMissingGrant indicates an empty authorization code or refresh token.
	ErrMissingGrant = errors.New("strava: authorization grant required")
)

// StatusError reports a non-2xx provider response.
type StatusError struct {
	Operation  string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: provider returned status %d", e.Operation, e.StatusCode)
}

// Config bundles the settings required to construct a Client.
type Config struct {
	ClientID     string
	ClientSecret string
	APIBaseURL   string
	TokenURL     string
	AuthorizeURL string
	RedirectURL  string
	PageSize     int
	MaxPages     int
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// Client is a minimal Strava API client.
type Client struct {
	clientID     string
	clientSecret string
	apiBaseURL   string
	tokenURL     string
	authorizeURL string
	redirectURL  string
	pageSize     int
	maxPages     int
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewClient validates configuration and applies defaults.
func NewClient(cfg Config) (*Client, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, fmt.Errorf("%w: client id required", ErrInvalidClientConfig)
	}
	clientSecret := strings.TrimSpace(cfg.ClientSecret)
	if clientSecret == "" {
		return nil, fmt.Errorf("%w: client secret required", ErrInvalidClientConfig)
	}

	apiBaseURL := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if apiBaseURL == "" {
		apiBaseURL = DefaultAPIBaseURL
	}
	tokenURL := strings.TrimSpace(cfg.TokenURL)
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	authorizeURL := strings.TrimSpace(cfg.AuthorizeURL)
	if authorizeURL == "" {
		authorizeURL = DefaultAuthorizeURL
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		apiBaseURL:   apiBaseURL,
		tokenURL:     tokenURL,
		authorizeURL: authorizeURL,
		redirectURL:  strings.TrimSpace(cfg.RedirectURL),
		pageSize:     pageSize,
		maxPages:     maxPages,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

// AuthorizeURL returns the consent page URL the hiker is redirected to when linking an account.
func (c *Client) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", c.redirectURL)
	params.Set("scope", requiredScope)
	params.Set("approval_prompt", "auto")
	if state != "" {
		params.Set("state", state)
	}
	return c.authorizeURL + "?" + params.Encode()
}

// Athlete is the subset of the athlete profile returned with an authorization code grant.
type Athlete struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

// DisplayName joins the athlete's names.
func (a Athlete) DisplayName() string {
	return strings.TrimSpace(strings.TrimSpace(a.FirstName) + " " + strings.TrimSpace(a.LastName))
}

// TokenGrant is the credential triple returned by the token endpoint.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Athlete      Athlete
}

type tokenResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresAt    int64   `json:"expires_at"`
	Athlete      Athlete `json:"athlete"`
}

// ExchangeCode trades an authorization code for the initial credential.
func (c *Client) ExchangeCode(ctx context.Context, code string) (TokenGrant, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return TokenGrant{}, ErrMissingGrant
	}
	form := url.Values{}
	form.Set("code", code)
	form.Set("grant_type", grantAuthCode)
	return c.requestToken(ctx, opExchangeCode, form)
}

// RefreshToken renews an expired access token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (TokenGrant, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenGrant{}, ErrMissingGrant
	}
	form := url.Values{}
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", grantRefreshToken)
	return c.requestToken(ctx, opRefreshToken, form)
}

func (c *Client) requestToken(ctx context.Context, operation string, form url.Values) (TokenGrant, error) {
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenGrant{}, err
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var payload tokenResponse
	if err := c.doJSON(request, operation, &payload); err != nil {
		return TokenGrant{}, err
	}
	if payload.AccessToken == "" {
		return TokenGrant{}, fmt.Errorf("%s: response missing access token", operation)
	}

	return TokenGrant{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    time.Unix(payload.ExpiresAt, 0).UTC(),
		Athlete:      payload.Athlete,
	}, nil
}

// FetchActivities pages through the athlete's activities inside window. Paging stops on the first
// short page or after the configured page ceiling.
func (c *Client) FetchActivities(ctx context.Context, accessToken string, window Window) ([]ActivitySummary, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, ErrMissingAccessToken
	}

	var activities []ActivitySummary
	for page := 1; page <= c.maxPages; page++ {
		params := url.Values{}
		params.Set("page", strconv.Itoa(page))
		params.Set("per_page", strconv.Itoa(c.pageSize))
		if !window.After.IsZero() {
			params.Set("after", strconv.FormatInt(window.After.Unix(), 10))
		}
		if !window.Before.IsZero() {
			params.Set("before", strconv.FormatInt(window.Before.Unix(), 10))
		}

		request, err := c.newAPIRequest(ctx, accessToken, "/athlete/activities", params)
		if err != nil {
			return nil, err
		}
		var batch []ActivitySummary
		if err := c.doJSON(request, opListActivities, &batch); err != nil {
			return nil, err
		}
		c.logger.Debug("fetched activity page", zap.Int("page", page), zap.Int("count", len(batch)))

		activities = append(activities, batch...)
		if len(batch) < c.pageSize {
			break
		}
	}
	return activities, nil
}

// FetchStreams retrieves the GPS and altitude series for one activity.
func (c *Client) FetchStreams(ctx context.Context, accessToken string, activityID int64) (Streams, error) {
	if strings.TrimSpace(accessToken) == "" {
		return Streams{}, ErrMissingAccessToken
	}
	params := url.Values{}
	params.Set("keys", "latlng,altitude")
	params.Set("key_by_type", "true")

	path := "/activities/" + strconv.FormatInt(activityID, 10) + "/streams"
	request, err := c.newAPIRequest(ctx, accessToken, path, params)
	if err != nil {
		return Streams{}, err
	}
	var payload streamSet
	if err := c.doJSON(request, opFetchStreams, &payload); err != nil {
		return Streams{}, err
	}
	return payload.toStreams(), nil
}

func (c *Client) newAPIRequest(ctx context.Context, accessToken, path string, params url.Values) (*http.Request, error) {
	endpoint := c.apiBaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)
	request.Header.Set("Accept", "application/json")
	return request, nil
}

func (c *Client) doJSON(request *http.Request, operation string, target any) error {
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, response.Body)
		c.logger.Warn("strava request failed",
			zap.String("operation", operation),
			zap.Int("status", response.StatusCode))
		return &StatusError{Operation: operation, StatusCode: response.StatusCode}
	}

	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return fmt.Errorf("%s: decode response: %w", operation, err)
	}
	return nil
}
