// Package oauth drives the v2 authorization-code install flow: minting
// install URLs backed by single-use state tokens, and completing the
// callback by exchanging the code and persisting the installation.
//
// The flow is a small state machine. Each callback arrives as a fresh
// invocation, so the only cross-invocation coordination is the state store,
// whose Consume must be linearizable: a replayed state value can win at most
// once, no matter how the callbacks race.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mattjoyce/bellhop/internal/log"
	"github.com/mattjoyce/bellhop/internal/store"
)

var (
	// ErrInvalidState means the callback's state token was missing, expired,
	// or already consumed.
	ErrInvalidState = errors.New("invalid or expired oauth state")

	// ErrExchangeFailure means the platform rejected the authorization code.
	ErrExchangeFailure = errors.New("authorization code exchange rejected")

	// ErrStoreFailure means the persistence layer stayed unavailable after
	// retry. The exchange may have succeeded, but the flow reports failure:
	// an unpersisted installation is not an installation.
	ErrStoreFailure = errors.New("oauth store failure")
)

// exchange network retry budget: transient failures only, never rejections.
const (
	exchangeRetries = 2
	exchangeTimeout = 10 * time.Second
	saveRetryDelay  = 250 * time.Millisecond
)

// Config holds the flow's credentials and endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	UserScopes   []string
	AuthorizeURL string
	TokenURL     string
	StateTTL     time.Duration
}

// Flow is the OAuth install controller.
type Flow struct {
	cfg      Config
	states   store.StateStore
	installs store.InstallationStore
	client   *http.Client

	// overridable in tests
	now      func() time.Time
	newState func() (string, error)
}

// New creates a Flow. A nil httpClient gets a default with the exchange
// timeout applied.
func New(cfg Config, states store.StateStore, installs store.InstallationStore, httpClient *http.Client) *Flow {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: exchangeTimeout}
	}
	return &Flow{
		cfg:      cfg,
		states:   states,
		installs: installs,
		client:   httpClient,
		now:      time.Now,
		newState: randomState,
	}
}

// randomState mints a 256-bit random token, hex encoded.
func randomState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// InstallURL mints and persists a state token, then returns the authorize URL
// to redirect the installing user to.
func (f *Flow) InstallURL(ctx context.Context) (string, error) {
	token, err := f.newState()
	if err != nil {
		return "", fmt.Errorf("mint state token: %w", err)
	}

	now := f.now()
	st := store.OAuthState{
		State:       token,
		RedirectURI: f.cfg.RedirectURI,
		CreatedAt:   now,
		ExpiresAt:   now.Add(f.cfg.StateTTL),
	}
	if err := f.states.Put(ctx, st); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}

	u, err := url.Parse(f.cfg.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("parse authorize url: %w", err)
	}
	q := u.Query()
	q.Set("client_id", f.cfg.ClientID)
	q.Set("scope", strings.Join(f.cfg.Scopes, ","))
	q.Set("redirect_uri", f.cfg.RedirectURI)
	q.Set("state", token)
	if len(f.cfg.UserScopes) > 0 {
		q.Set("user_scope", strings.Join(f.cfg.UserScopes, ","))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// HandleCallback completes the flow for one authorization callback: consume
// the state, exchange the code, persist the installation. Persistence success
// is required before the flow reports success.
func (f *Flow) HandleCallback(ctx context.Context, code, state string) (*store.Installation, error) {
	if code == "" || state == "" {
		return nil, ErrInvalidState
	}

	ok, err := f.states.Consume(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if !ok {
		return nil, ErrInvalidState
	}

	tok, err := f.exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	if tok.Team.ID == "" || tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response missing team or access token", ErrExchangeFailure)
	}

	inst := &store.Installation{
		TeamID:      tok.Team.ID,
		BotToken:    tok.AccessToken,
		BotUserID:   tok.BotUserID,
		Scopes:      splitScopes(tok.Scope),
		InstalledAt: f.now(),
	}
	if tok.Enterprise != nil {
		inst.EnterpriseID = tok.Enterprise.ID
	}
	if tok.AuthedUser != nil && tok.AuthedUser.AccessToken != "" {
		inst.UserToken = tok.AuthedUser.AccessToken
		inst.UserID = tok.AuthedUser.ID
	}

	if err := f.save(ctx, inst); err != nil {
		return nil, err
	}

	log.WithComponent("oauth").Info("installation completed",
		"team_id", inst.TeamID,
		"enterprise_id", inst.EnterpriseID,
		"scopes", len(inst.Scopes),
	)
	return inst, nil
}

// save persists the installation, retrying once with backoff on a transient
// store failure.
func (f *Flow) save(ctx context.Context, inst *store.Installation) error {
	err := f.installs.Save(ctx, inst)
	if err == nil {
		return nil
	}
	log.WithComponent("oauth").Warn("installation save failed, retrying", "error", err)

	select {
	case <-time.After(saveRetryDelay):
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrStoreFailure, ctx.Err())
	}

	if err := f.installs.Save(ctx, inst); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return nil
}

// tokenResponse is the oauth.v2.access response shape.
type tokenResponse struct {
	OK          bool        `json:"ok"`
	Error       string      `json:"error"`
	AccessToken string      `json:"access_token"`
	Scope       string      `json:"scope"`
	BotUserID   string      `json:"bot_user_id"`
	AppID       string      `json:"app_id"`
	Team        idName      `json:"team"`
	Enterprise  *idName     `json:"enterprise"`
	AuthedUser  *authedUser `json:"authed_user"`
}

type idName struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type authedUser struct {
	ID          string `json:"id"`
	Scope       string `json:"scope"`
	AccessToken string `json:"access_token"`
}

// exchange posts the authorization code to the token endpoint. Transport
// errors and 5xx responses are retried up to the budget; a 4xx or an
// ok=false body is a rejection and is never retried.
func (f *Flow) exchange(ctx context.Context, code string) (*tokenResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= exchangeRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * saveRetryDelay):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrExchangeFailure, ctx.Err())
			}
		}

		tok, retryable, err := f.exchangeOnce(ctx, code)
		if err == nil {
			return tok, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (f *Flow) exchangeOnce(ctx context.Context, code string) (*tokenResponse, bool, error) {
	form := url.Values{}
	form.Set("client_id", f.cfg.ClientID)
	form.Set("client_secret", f.cfg.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", f.cfg.RedirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrExchangeFailure, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrExchangeFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("%w: token endpoint returned %d", ErrExchangeFailure, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("%w: token endpoint returned %d", ErrExchangeFailure, resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, false, fmt.Errorf("%w: decode token response: %v", ErrExchangeFailure, err)
	}
	if !tok.OK {
		return nil, false, fmt.Errorf("%w: %s", ErrExchangeFailure, tok.Error)
	}
	return &tok, false, nil
}

func splitScopes(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
