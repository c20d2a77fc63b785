// Package auth acquires and caches the (app key, session token) pair used to
// authenticate stream connections.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"esa_go/internal/domain"
)

// DefaultSessionExpireTime is how long a login token is reused.
const DefaultSessionExpireTime = 3 * time.Hour

// SessionProvider returns a current app key and session token.
type SessionProvider interface {
	Session(ctx context.Context) (domain.AppKeyAndSession, error)
	Expire()
}

// loginResponse is the interactive login reply.
type loginResponse struct {
	Token   string `json:"token"`
	Product string `json:"product"`
	Status  string `json:"status"`
	Error   string `json:"error"`
}

// SSOProvider logs in with username and password and caches the session.
type SSOProvider struct {
	appKey   string
	username string
	password string
	loginURL string

	// SessionExpireTime bounds reuse of a token; zero means DefaultSessionExpireTime.
	SessionExpireTime time.Duration

	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	session *domain.AppKeyAndSession
}

// NewSSOProvider creates a provider for the given identity host.
func NewSSOProvider(host, appKey, username, password string) *SSOProvider {
	loginURL := host
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		loginURL = "https://" + host
	}
	return &SSOProvider{
		appKey:   appKey,
		username: username,
		password: password,
		loginURL: strings.TrimRight(loginURL, "/") + "/api/login",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: slog.Default().With(slog.String("module", "auth")),
		now:    time.Now,
	}
}

func (p *SSOProvider) expireTime() time.Duration {
	if p.SessionExpireTime > 0 {
		return p.SessionExpireTime
	}
	return DefaultSessionExpireTime
}

// Session returns the cached session, logging in again once it has expired.
func (p *SSOProvider) Session(ctx context.Context) (domain.AppKeyAndSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != nil && !p.session.ExpiredAt(p.now(), p.expireTime()) {
		return *p.session, nil
	}

	p.logger.Info("SSO login", slog.String("url", p.loginURL))
	token, err := p.login(ctx)
	if err != nil {
		return domain.AppKeyAndSession{}, err
	}

	p.session = &domain.AppKeyAndSession{AppKey: p.appKey, Session: token, CreatedAt: p.now()}
	p.logger.Info("SSO login succeeded")
	return *p.session, nil
}

// Expire forces the next Session call to log in.
func (p *SSOProvider) Expire() {
	p.mu.Lock()
	p.session = nil
	p.mu.Unlock()
}

func (p *SSOProvider) login(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("username", p.username)
	form.Set("password", p.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", domain.NewFatalNetworkError("login", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Application", p.appKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", domain.NewNetworkError("login", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.NewNetworkError("login", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		if resp.StatusCode >= 500 {
			return "", domain.NewNetworkError("login", err)
		}
		return "", domain.NewFatalNetworkError("login", err)
	}

	var data loginResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return "", domain.NewFatalNetworkError("login", fmt.Errorf("decode response: %w", err))
	}

	if data.Status != "SUCCESS" || data.Token == "" {
		return "", fmt.Errorf("%w: status=%s error=%s", domain.ErrInvalidCredentials, data.Status, data.Error)
	}
	return data.Token, nil
}

// StaticProvider serves a session token acquired elsewhere.
type StaticProvider struct {
	session domain.AppKeyAndSession
}

func NewStaticProvider(appKey, token string) *StaticProvider {
	return &StaticProvider{session: domain.AppKeyAndSession{AppKey: appKey, Session: token, CreatedAt: time.Now()}}
}

func (p *StaticProvider) Session(context.Context) (domain.AppKeyAndSession, error) {
	if p.session.Session == "" {
		return domain.AppKeyAndSession{}, errors.New("static session token is empty")
	}
	return p.session, nil
}

// Expire is a no-op: a static token cannot be renewed.
func (p *StaticProvider) Expire() {}
