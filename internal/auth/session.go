package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/joshp123/eufyscope/internal/blob"
	"github.com/joshp123/eufyscope/internal/logging"
)

const (
	DefaultLoginURL = "https://home-api.eufylife.com/v1/user/email/login"
	defaultTokenTTL = 24 * time.Hour
)

var ErrLoginRejected = errors.New("login rejected")

// Options configures a Session.
type Options struct {
	Provider   string
	LoginURL   string
	StatePath  string
	Blob       blob.Store
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Credentials are the header values a vendor request needs.
type Credentials struct {
	OpenUDID        string
	AccessToken     string
	UserCenterToken string
	GToken          string
	UserID          string
}

// Session is an oauth2.TokenSource backed by an email/password login.
// Tokens are reused until expiry and persisted after every login.
type Session struct {
	opts      Options
	bootstrap Bootstrap
	logger    *zap.Logger

	mu     sync.Mutex
	source oauth2.TokenSource
	login  *loginSource
}

func NewSession(bootstrap Bootstrap, opts Options) (*Session, error) {
	if opts.Provider == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if opts.StatePath == "" {
		return nil, fmt.Errorf("statePath is required")
	}
	if err := bootstrap.Validate(); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	if opts.LoginURL == "" {
		opts.LoginURL = DefaultLoginURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}

	s := &Session{
		opts:      opts,
		bootstrap: bootstrap,
		logger:    logging.OrNop(opts.Logger).With(zap.String("provider", opts.Provider)),
	}
	s.login = &loginSource{session: s}

	seed := s.loadInitialState(context.Background())
	s.source = oauth2.ReuseTokenSource(seed, s.login)
	return s, nil
}

// Token implements oauth2.TokenSource.
func (s *Session) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	src := s.source
	s.mu.Unlock()

	tok, err := src.Token()
	if err != nil {
		tokenValid.WithLabelValues(s.opts.Provider).Set(0)
		return nil, err
	}
	tokenValid.WithLabelValues(s.opts.Provider).Set(1)
	return tok, nil
}

// Credentials returns a valid token split into its header values.
func (s *Session) Credentials() (Credentials, error) {
	tok, err := s.Token()
	if err != nil {
		return Credentials{}, err
	}
	creds := Credentials{
		OpenUDID:    s.bootstrap.OpenUDID,
		AccessToken: tok.AccessToken,
		UserID:      s.bootstrap.UserID,
	}
	if v, ok := tok.Extra("user_center_token").(string); ok {
		creds.UserCenterToken = v
	}
	if v, ok := tok.Extra("gtoken").(string); ok {
		creds.GToken = v
	}
	if v, ok := tok.Extra("user_id").(string); ok && v != "" {
		creds.UserID = v
	}
	return creds, nil
}

// Invalidate drops the cached token so the next call logs in again.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = oauth2.ReuseTokenSource(nil, s.login)
	tokenValid.WithLabelValues(s.opts.Provider).Set(0)
}

func (s *Session) Bootstrap() Bootstrap {
	return s.bootstrap
}

func (s *Session) loadInitialState(ctx context.Context) *oauth2.Token {
	local, localErr := LoadState(s.opts.StatePath)
	if localErr == nil {
		if err := checkStateFile(s.opts.StatePath); err != nil {
			s.logger.Warn("ignoring auth state", zap.Error(err))
		} else {
			return stateToken(local)
		}
	} else if !errors.Is(localErr, ErrStateNotFound) {
		s.logger.Warn("load auth state", zap.Error(localErr))
	}

	if s.opts.Blob == nil {
		return nil
	}
	data, err := s.opts.Blob.Load(ctx, s.blobName())
	if err != nil {
		if !errors.Is(err, blob.ErrNotFound) {
			s.logger.Warn("load auth state from blob", zap.Error(err))
		}
		return nil
	}
	remote, err := DecodeState(data)
	if err != nil {
		s.logger.Warn("decode auth state from blob", zap.Error(err))
		return nil
	}
	if err := WriteState(s.opts.StatePath, remote); err != nil {
		s.logger.Warn("write auth state", zap.Error(err))
	}
	return stateToken(remote)
}

func (s *Session) persist(ctx context.Context, state State) error {
	if err := WriteState(s.opts.StatePath, state); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	if s.opts.Blob == nil {
		return nil
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := s.opts.Blob.Save(ctx, s.blobName(), data); err != nil {
		remotePersistOK.WithLabelValues(s.opts.Provider).Set(0)
		s.logger.Warn("mirror auth state", zap.Error(err))
		return nil
	}
	remotePersistOK.WithLabelValues(s.opts.Provider).Set(1)
	return nil
}

func (s *Session) blobName() string {
	return path.Join("auth", s.opts.Provider+".json")
}

func stateToken(st State) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken: st.AccessToken,
		TokenType:   "Bearer",
		Expiry:      st.ExpiresAt,
	}
	return tok.WithExtra(map[string]any{
		"user_center_token": st.UserCenterToken,
		"gtoken":            st.GToken,
		"user_id":           st.UserID,
	})
}

type loginSource struct {
	session *Session
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	ClientID string `json:"client_id"`
}

type loginResponse struct {
	Code            *int   `json:"code"`
	ResCode         *int   `json:"res_code"`
	Message         string `json:"message"`
	AccessToken     string `json:"access_token"`
	Token           string `json:"token"`
	UserCenterToken string `json:"user_center_token"`
	GToken          string `json:"gtoken"`
	UserID          string `json:"user_id"`
	ExpiresIn       int64  `json:"expires_in"`
}

func (r loginResponse) ok() bool {
	return (r.Code != nil && *r.Code == 0) || (r.ResCode != nil && *r.ResCode == 0)
}

func (l *loginSource) Token() (*oauth2.Token, error) {
	s := l.session
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	st, err := l.exchange(ctx)
	if err != nil {
		loginFailure.WithLabelValues(s.opts.Provider).Inc()
		s.logger.Warn("login failed", zap.Error(err))
		return nil, err
	}
	loginSuccess.WithLabelValues(s.opts.Provider).Inc()
	s.logger.Info("login succeeded", zap.Time("expires_at", st.ExpiresAt))

	if err := s.persist(ctx, st); err != nil {
		s.logger.Warn("persist auth state", zap.Error(err))
	}
	return stateToken(st), nil
}

func (l *loginSource) exchange(ctx context.Context) (State, error) {
	s := l.session
	body, err := json.Marshal(loginRequest{
		Email:    s.bootstrap.Email,
		Password: s.bootstrap.Password,
		ClientID: s.bootstrap.OpenUDID,
	})
	if err != nil {
		return State{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.LoginURL, bytes.NewReader(body))
	if err != nil {
		return State{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("openudid", s.bootstrap.OpenUDID)

	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return State{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return State{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return State{}, fmt.Errorf("login status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var out loginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return State{}, fmt.Errorf("decode login: %w", err)
	}
	if !out.ok() {
		return State{}, fmt.Errorf("%w: %s", ErrLoginRejected, out.Message)
	}
	token := out.AccessToken
	if token == "" {
		token = out.Token
	}
	if token == "" {
		return State{}, fmt.Errorf("%w: response has no token", ErrLoginRejected)
	}

	ttl := defaultTokenTTL
	if out.ExpiresIn > 0 {
		ttl = time.Duration(out.ExpiresIn) * time.Second
	}

	return State{
		SchemaVersion:   SchemaVersion,
		AccessToken:     token,
		UserCenterToken: out.UserCenterToken,
		GToken:          out.GToken,
		UserID:          out.UserID,
		ExpiresAt:       time.Now().Add(ttl).UTC(),
	}, nil
}
