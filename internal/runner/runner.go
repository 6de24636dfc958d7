// Package runner wires configuration, authorization and batch processing
// into a single run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"
	oauthyandex "golang.org/x/oauth2/yandex"

	"github.com/clintrovert/trackerbatch/internal/auth"
	"github.com/clintrovert/trackerbatch/internal/batch"
	"github.com/clintrovert/trackerbatch/internal/config"
	"github.com/clintrovert/trackerbatch/internal/github"
	"github.com/clintrovert/trackerbatch/internal/jira"
	"github.com/clintrovert/trackerbatch/internal/tracker"
	"github.com/clintrovert/trackerbatch/internal/tracker/yandex"
)

// ErrItemsFailed is returned with the report when at least one item failed
// or the run stopped early
var ErrItemsFailed = errors.New("one or more batch items failed")

// atlassianEndpoint is the Atlassian Cloud OAuth 2.0 (3LO) endpoint
var atlassianEndpoint = oauth2.Endpoint{
	AuthURL:  "https://auth.atlassian.com/authorize",
	TokenURL: "https://auth.atlassian.com/oauth/token",
}

// TrackerFactory builds the tracker client bound to an access token
type TrackerFactory func(cfg *config.Config, accessToken string, logger *zap.Logger) (tracker.Client, error)

// Runner executes a batch run
type Runner struct {
	cfg        *config.Config
	logger     *zap.Logger
	in         io.Reader
	out        io.Writer
	newTracker TrackerFactory
	receiver   auth.CodeReceiver
	exchanger  auth.Exchanger
}

// Option configures a Runner
type Option func(*Runner)

// WithPrompt sets where the authorization prompt is written and the code read
func WithPrompt(in io.Reader, out io.Writer) Option {
	return func(r *Runner) {
		r.in = in
		r.out = out
	}
}

// WithTrackerFactory replaces the tracker backend selection
func WithTrackerFactory(f TrackerFactory) Option {
	return func(r *Runner) {
		r.newTracker = f
	}
}

// WithCodeReceiver replaces the receiver chosen from redirect_uri
func WithCodeReceiver(receiver auth.CodeReceiver) Option {
	return func(r *Runner) {
		r.receiver = receiver
	}
}

// WithExchanger replaces the OAuth2 config built from the configuration
func WithExchanger(ex auth.Exchanger) Option {
	return func(r *Runner) {
		r.exchanger = ex
	}
}

// NewRunner creates a new runner
func NewRunner(cfg *config.Config, logger *zap.Logger, opts ...Option) *Runner {
	r := &Runner{
		cfg:        cfg,
		logger:     logger,
		in:         os.Stdin,
		out:        os.Stderr,
		newTracker: NewTracker,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run loads the tasks file, obtains a token and applies the batch. A
// non-nil report comes back whenever processing started; it is paired with
// ErrItemsFailed when any item failed.
func (r *Runner) Run(ctx context.Context, tasksPath string) (*batch.Report, error) {
	if tasksPath == "" {
		tasksPath = r.cfg.Batch.TasksFile
	}

	b, err := batch.LoadFile(tasksPath)
	if err != nil {
		return nil, err
	}
	r.logger.Info("loaded tasks file",
		zap.String("path", tasksPath),
		zap.Int("items", b.Len()),
	)

	token, err := r.obtainToken(ctx)
	if err != nil {
		return nil, err
	}

	client, err := r.newTracker(r.cfg, token.AccessToken, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker client: %w", err)
	}

	processor := batch.NewProcessor(client, r.logger,
		batch.WithDefaultQueue(r.cfg.DefaultQueue),
		batch.WithDeleteEnabled(r.cfg.Batch.DeleteEnabled),
		batch.WithParallelism(r.cfg.Batch.Parallelism),
		batch.WithRequestInterval(r.cfg.RequestInterval(r.logger)),
	)

	report := processor.Process(ctx, b)
	if report.HasFailures() {
		return report, ErrItemsFailed
	}
	return report, nil
}

func (r *Runner) obtainToken(ctx context.Context) (auth.TokenRecord, error) {
	receiver := r.receiver
	if receiver == nil {
		var err error
		receiver, err = r.codeReceiver()
		if err != nil {
			return auth.TokenRecord{}, err
		}
	}

	exchanger := r.exchanger
	if exchanger == nil {
		exchanger = OAuthConfig(r.cfg)
	}

	manager := auth.NewManager(
		auth.NewFileStore(r.cfg.Auth.TokenFile, r.logger),
		exchanger,
		receiver,
		r.logger,
		auth.WithAuthCodeOptions(authCodeOptions(r.cfg.Tracker.Kind)...),
	)
	return manager.ObtainToken(ctx)
}

// codeReceiver serves loopback redirect URIs locally and prompts for the
// code otherwise
func (r *Runner) codeReceiver() (auth.CodeReceiver, error) {
	u, err := url.Parse(r.cfg.RedirectURI)
	if err == nil && auth.IsLoopback(u) {
		receiver, err := auth.NewRedirectReceiver(r.cfg.RedirectURI, r.cfg.AuthTimeout(r.logger), r.announce, r.logger)
		if err != nil {
			return nil, err
		}
		return receiver, nil
	}
	return auth.NewPromptReceiver(r.in, r.out), nil
}

func (r *Runner) announce(authURL string) {
	fmt.Fprintf(r.out, "Open the following URL in a browser and grant access:\n\n  %s\n\n", authURL)
}

// OAuthConfig builds the authorization-code config for the configured
// tracker, applying endpoint and scope overrides
func OAuthConfig(cfg *config.Config) *oauth2.Config {
	var endpoint oauth2.Endpoint
	var scopes []string
	switch cfg.Tracker.Kind {
	case config.KindJira:
		endpoint = atlassianEndpoint
		scopes = []string{"read:jira-work", "write:jira-work"}
	case config.KindGitHub:
		endpoint = oauthgithub.Endpoint
		scopes = []string{"repo"}
	default:
		endpoint = oauthyandex.Endpoint
		scopes = []string{"tracker:read", "tracker:write"}
	}

	if cfg.Auth.AuthURL != "" {
		endpoint.AuthURL = cfg.Auth.AuthURL
	}
	if cfg.Auth.TokenURL != "" {
		endpoint.TokenURL = cfg.Auth.TokenURL
	}
	if len(cfg.Auth.Scopes) > 0 {
		scopes = cfg.Auth.Scopes
	}

	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       scopes,
	}
}

func authCodeOptions(kind string) []oauth2.AuthCodeOption {
	switch kind {
	case config.KindJira:
		return []oauth2.AuthCodeOption{
			oauth2.SetAuthURLParam("audience", "api.atlassian.com"),
			oauth2.SetAuthURLParam("prompt", "consent"),
		}
	default:
		return nil
	}
}

// NewTracker builds the client for cfg.Tracker.Kind
func NewTracker(cfg *config.Config, accessToken string, logger *zap.Logger) (tracker.Client, error) {
	switch cfg.Tracker.Kind {
	case config.KindYandex, "":
		baseURL := cfg.Tracker.BaseURL
		if baseURL == "" {
			baseURL = yandex.DefaultBaseURL
		}
		return yandex.NewClient(baseURL, cfg.OrganizationID, accessToken, cfg.Tracker.CloudOrg, logger), nil
	case config.KindJira:
		c, err := jira.NewClient(cfg.Tracker.BaseURL, accessToken, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.KindGitHub:
		if cfg.Tracker.BaseURL == "" {
			return github.NewClient(accessToken, logger), nil
		}
		c, err := github.NewEnterpriseClient(cfg.Tracker.BaseURL, accessToken, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown tracker kind %q", cfg.Tracker.Kind)
	}
}
