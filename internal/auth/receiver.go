package auth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// DefaultReceiveTimeout bounds how long the redirect receiver waits
const DefaultReceiveTimeout = 60 * time.Second

// PromptReceiver prints the authorization URL and reads the code the
// operator pastes back
type PromptReceiver struct {
	in  io.Reader
	out io.Writer
}

// NewPromptReceiver creates a receiver reading from in and prompting on out
func NewPromptReceiver(in io.Reader, out io.Writer) *PromptReceiver {
	return &PromptReceiver{in: in, out: out}
}

// ReceiveCode blocks until a line is read from the input
func (p *PromptReceiver) ReceiveCode(ctx context.Context, authURL, _ string) (string, error) {
	fmt.Fprintf(p.out, "Open the following URL in a browser and grant access:\n\n  %s\n\nEnter the confirmation code: ", authURL)

	type result struct {
		line string
		err  error
	}
	lines := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(p.in).ReadString('\n')
		lines <- result{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-lines:
		code := strings.TrimSpace(r.line)
		if code != "" {
			return code, nil
		}
		if r.err != nil && !errors.Is(r.err, io.EOF) {
			return "", fmt.Errorf("failed to read code: %w", r.err)
		}
		return "", ErrNoCode
	}
}

// RedirectReceiver serves the OAuth redirect URI on a loopback address and
// captures the code the provider appends to it
type RedirectReceiver struct {
	addr    string
	path    string
	timeout time.Duration
	notify  func(authURL string)
	logger  *zap.Logger
}

// NewRedirectReceiver creates a receiver for redirectURI. notify is called
// with the authorization URL once the listener is up.
func NewRedirectReceiver(redirectURI string, timeout time.Duration, notify func(authURL string), logger *zap.Logger) (*RedirectReceiver, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redirect uri: %w", err)
	}
	if !IsLoopback(u) {
		return nil, fmt.Errorf("redirect uri %q is not a loopback address", redirectURI)
	}
	if timeout <= 0 {
		timeout = DefaultReceiveTimeout
	}

	port := u.Port()
	if port == "" {
		port = "80"
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	return &RedirectReceiver{
		addr:    net.JoinHostPort(u.Hostname(), port),
		path:    path,
		timeout: timeout,
		notify:  notify,
		logger:  logger,
	}, nil
}

// IsLoopback reports whether u points at this machine
func IsLoopback(u *url.URL) bool {
	if u == nil || u.Scheme != "http" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

type codeResult struct {
	code string
	err  error
}

// ReceiveCode starts the callback server, announces authURL and waits for
// the redirect carrying the code
func (r *RedirectReceiver) ReceiveCode(ctx context.Context, authURL, state string) (string, error) {
	ln, err := net.Listen("tcp", r.addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", r.addr, err)
	}

	results := make(chan codeResult, 1)
	srv := &http.Server{
		Handler:           r.handler(state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("redirect server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	r.logger.Info("waiting for authorization redirect",
		zap.String("address", r.addr),
		zap.Duration("timeout", r.timeout),
	)
	if r.notify != nil {
		r.notify(authURL)
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", fmt.Errorf("timed out after %s waiting for authorization: %w", r.timeout, ErrNoCode)
	case res := <-results:
		return res.code, res.err
	}
}

// handler returns the callback handler. The first request carrying a
// matching state decides the result.
func (r *RedirectReceiver) handler(state string, results chan<- codeResult) http.Handler {
	router := chi.NewRouter()
	router.Get(r.path, func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()

		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}

		if providerErr := q.Get("error"); providerErr != "" {
			deliver(results, codeResult{err: fmt.Errorf("provider returned %s: %s", providerErr, q.Get("error_description"))})
			http.Error(w, "authorization was not granted", http.StatusForbidden)
			return
		}

		code := q.Get("code")
		if code == "" {
			http.Error(w, "authorization code not found", http.StatusBadRequest)
			return
		}

		deliver(results, codeResult{code: code})
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>Token received, you can close this tab.</body></html>"))
	})
	return router
}

func deliver(results chan<- codeResult, res codeResult) {
	select {
	case results <- res:
	default:
	}
}
