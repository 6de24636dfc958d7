package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Exchanger is the OAuth2 authorization-code half of *oauth2.Config
type Exchanger interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// CodeReceiver obtains an authorization code from the operator. It blocks
// until the code arrives, the receiver gives up, or ctx is done.
type CodeReceiver interface {
	ReceiveCode(ctx context.Context, authURL, state string) (string, error)
}

// Manager decides whether the stored token is usable and, when it is not,
// runs the interactive authorization-code exchange
type Manager struct {
	store    Store
	oauth    Exchanger
	receiver CodeReceiver
	logger   *zap.Logger
	authOpts []oauth2.AuthCodeOption

	state    State
	now      func() time.Time
	newState func() string
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithAuthCodeOptions adds provider specific parameters to the authorization URL
func WithAuthCodeOptions(opts ...oauth2.AuthCodeOption) ManagerOption {
	return func(m *Manager) {
		m.authOpts = append(m.authOpts, opts...)
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a new token lifecycle manager
func NewManager(store Store, oauth Exchanger, receiver CodeReceiver, logger *zap.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		oauth:    oauth,
		receiver: receiver,
		logger:   logger,
		state:    StateNoToken,
		now:      time.Now,
		newState: uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the lifecycle state reached by the last ObtainToken call
func (m *Manager) State() State {
	return m.state
}

// ObtainToken returns a usable token, running the interactive exchange when
// the stored one is missing or expired
func (m *Manager) ObtainToken(ctx context.Context) (TokenRecord, error) {
	m.transition(StateNoToken)

	record, ok := m.store.Load()
	if ok {
		m.transition(StateUnvalidated)
		if record.Usable(m.now()) {
			m.transition(StateValid)
			return record, nil
		}
		m.transition(StateExpired)
		m.logger.Info("stored token expired",
			zap.Time("obtained_at", record.ObtainedAt),
			zap.Duration("lifetime", record.Lifetime()),
		)
	}

	m.transition(StateExchanging)
	record, err := m.exchange(ctx)
	if err != nil {
		m.transition(StateFailed)
		return TokenRecord{}, err
	}

	if err := m.store.Save(record); err != nil {
		m.transition(StateFailed)
		return TokenRecord{}, fmt.Errorf("failed to persist token: %w", err)
	}

	m.transition(StateValid)
	return record, nil
}

func (m *Manager) exchange(ctx context.Context) (TokenRecord, error) {
	state := m.newState()
	authURL := m.oauth.AuthCodeURL(state, m.authOpts...)

	code, err := m.receiver.ReceiveCode(ctx, authURL, state)
	if err != nil {
		return TokenRecord{}, &AuthError{Kind: CodeUnavailable, Err: err}
	}
	if code == "" {
		return TokenRecord{}, &AuthError{Kind: CodeUnavailable, Err: ErrNoCode}
	}

	token, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		return TokenRecord{}, &AuthError{Kind: ExchangeFailed, Err: err}
	}
	if token == nil || token.AccessToken == "" {
		return TokenRecord{}, &AuthError{
			Kind: ExchangeFailed,
			Err:  errors.New("token response has no access token"),
		}
	}

	obtainedAt := m.now()
	record := TokenRecord{
		AccessToken: token.AccessToken,
		ObtainedAt:  obtainedAt,
		ExpiresIn:   expiresIn(token, obtainedAt),
	}

	m.logger.Info("obtained new access token",
		zap.Int64("expires_in", record.ExpiresIn),
	)

	return record, nil
}

func (m *Manager) transition(to State) {
	if m.state == to {
		return
	}
	m.logger.Debug("token state",
		zap.String("from", string(m.state)),
		zap.String("to", string(to)),
	)
	m.state = to
}

// expiresIn reads the lifetime from the raw token response, falling back to
// the expiry oauth2 derived from it. Zero means unknown.
func expiresIn(token *oauth2.Token, obtainedAt time.Time) int64 {
	switch v := token.Extra("expires_in").(type) {
	case float64:
		if v > float64(maxExpiresIn) {
			return maxExpiresIn
		}
		return int64(v)
	case int64:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}

	if token.Expiry.IsZero() {
		return 0
	}
	secs := math.Round(token.Expiry.Sub(obtainedAt).Seconds())
	if secs <= 0 {
		return 0
	}
	return int64(secs)
}
