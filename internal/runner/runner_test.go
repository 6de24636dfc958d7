package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/oauth2"

	"github.com/clintrovert/trackerbatch/internal/auth"
	"github.com/clintrovert/trackerbatch/internal/batch"
	"github.com/clintrovert/trackerbatch/internal/config"
	"github.com/clintrovert/trackerbatch/internal/tracker"
	"github.com/clintrovert/trackerbatch/pkg/types"
)

type countingReceiver struct {
	calls int
	code  string
	err   error
}

func (c *countingReceiver) ReceiveCode(context.Context, string, string) (string, error) {
	c.calls++
	return c.code, c.err
}

type countingExchanger struct {
	calls int
	token string
}

func (c *countingExchanger) AuthCodeURL(state string, _ ...oauth2.AuthCodeOption) string {
	return "https://oauth.example/authorize?state=" + state
}

func (c *countingExchanger) Exchange(context.Context, string, ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	c.calls++
	if c.token == "" {
		return nil, errors.New("oauth2: invalid_grant")
	}
	return &oauth2.Token{AccessToken: c.token}, nil
}

func testConfig(t *testing.T, trackerURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.OrganizationID = "org-1"
	cfg.ClientID = "client"
	cfg.ClientSecret = "secret"
	cfg.RedirectURI = "https://oauth.yandex.ru/verification_code"
	cfg.Tracker.BaseURL = trackerURL
	cfg.Auth.TokenFile = filepath.Join(dir, "token.json")
	cfg.Batch.TasksFile = filepath.Join(dir, "tasks.json")
	cfg.Batch.RequestInterval = "0s"
	return cfg
}

func writeTasks(t *testing.T, cfg *config.Config, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(cfg.Batch.TasksFile, []byte(content), 0o600))
}

func storeValidToken(t *testing.T, cfg *config.Config, token string) {
	t.Helper()
	store := auth.NewFileStore(cfg.Auth.TokenFile, zaptest.NewLogger(t))
	require.NoError(t, store.Save(auth.TokenRecord{AccessToken: token, ObtainedAt: time.Now(), ExpiresIn: 3600}))
}

func TestRun_ReusesStoredToken(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "OAuth stored-token", r.Header.Get("Authorization"))
		assert.Equal(t, "org-1", r.Header.Get("X-Org-ID"))
		assert.Equal(t, "/v2/issues", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Q", body["queue"])

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"key":"Q-1"}`)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	writeTasks(t, cfg, `{"created": [{"queue": "Q", "summary": "S"}], "updated": [], "deleted": []}`)
	storeValidToken(t, cfg, "stored-token")

	rcv := &countingReceiver{}
	ex := &countingExchanger{}
	r := NewRunner(cfg, zaptest.NewLogger(t), WithCodeReceiver(rcv), WithExchanger(ex))

	report, err := r.Run(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, "Q-1", report.Outcomes[0].IssueKey)
	assert.Equal(t, int32(1), requests.Load())
	assert.Zero(t, rcv.calls)
	assert.Zero(t, ex.calls)
}

func TestRun_ItemFailureReturnsReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"errorMessages":["Issue does not exist."],"statusCode":404}`)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	writeTasks(t, cfg, `{"created": [], "updated": [{"issue_id": "X-1", "mut_task": {"priority": "high"}}]}`)
	storeValidToken(t, cfg, "tok")

	report, err := NewRunner(cfg, zaptest.NewLogger(t)).Run(context.Background(), "")
	require.ErrorIs(t, err, ErrItemsFailed)
	require.NotNil(t, report)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, batch.NotFound, report.Outcomes[0].Err.Kind)
	assert.Contains(t, report.Outcomes[0].Err.Message, "X-1")
}

func TestRun_InvalidTasksFileFailsBeforeAuth(t *testing.T) {
	cfg := testConfig(t, "http://unused.invalid")
	writeTasks(t, cfg, `{"created": [], "updated": []}`)

	rcv := &countingReceiver{code: "c"}
	ex := &countingExchanger{token: "t"}
	report, err := NewRunner(cfg, zaptest.NewLogger(t), WithCodeReceiver(rcv), WithExchanger(ex)).
		Run(context.Background(), "")

	assert.ErrorIs(t, err, batch.ErrEmptyBatch)
	assert.Nil(t, report)
	assert.Zero(t, rcv.calls)
	assert.Zero(t, ex.calls)
}

func TestRun_AuthFailureStopsRun(t *testing.T) {
	cfg := testConfig(t, "http://unused.invalid")
	writeTasks(t, cfg, `{"created": [{"queue": "Q", "summary": "S"}], "updated": []}`)

	factoryCalls := 0
	r := NewRunner(cfg, zaptest.NewLogger(t),
		WithCodeReceiver(&countingReceiver{code: "c"}),
		WithExchanger(&countingExchanger{}),
		WithTrackerFactory(func(*config.Config, string, *zap.Logger) (tracker.Client, error) {
			factoryCalls++
			return nil, errors.New("unexpected")
		}),
	)

	report, err := r.Run(context.Background(), "")
	require.Error(t, err)
	assert.True(t, auth.IsAuthError(err, auth.ExchangeFailed))
	assert.Nil(t, report)
	assert.Zero(t, factoryCalls)
}

type recordingTracker struct {
	created []types.CreatedTask
}

func (r *recordingTracker) CreateIssue(_ context.Context, task types.CreatedTask) (string, error) {
	r.created = append(r.created, task)
	return task.Queue + "-1", nil
}

func (r *recordingTracker) UpdateIssue(context.Context, string, types.TaskPatch) error { return nil }

func (r *recordingTracker) DeleteIssue(context.Context, string) error { return nil }

func TestRun_ExchangesAndPersistsToken(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.DefaultQueue = "DEF"
	tasksPath := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(tasksPath, []byte("created:\n  - summary: S\n"), 0o600))

	var gotToken string
	rec := &recordingTracker{}
	ex := &countingExchanger{token: "fresh"}
	r := NewRunner(cfg, zaptest.NewLogger(t),
		WithCodeReceiver(&countingReceiver{code: "c"}),
		WithExchanger(ex),
		WithTrackerFactory(func(_ *config.Config, token string, _ *zap.Logger) (tracker.Client, error) {
			gotToken = token
			return rec, nil
		}),
	)

	report, err := r.Run(context.Background(), tasksPath)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded())
	assert.Equal(t, "fresh", gotToken)
	assert.Equal(t, 1, ex.calls)
	require.Len(t, rec.created, 1)
	assert.Equal(t, "DEF", rec.created[0].Queue)

	stored, ok := auth.NewFileStore(cfg.Auth.TokenFile, zaptest.NewLogger(t)).Load()
	require.True(t, ok)
	assert.Equal(t, "fresh", stored.AccessToken)
}

func TestRun_PromptsForCode(t *testing.T) {
	cfg := testConfig(t, "")
	writeTasks(t, cfg, `{"deleted": ["Q-1"]}`)

	var out bytes.Buffer
	r := NewRunner(cfg, zaptest.NewLogger(t),
		WithPrompt(strings.NewReader("4242\n"), &out),
		WithExchanger(&countingExchanger{token: "fresh"}),
		WithTrackerFactory(func(*config.Config, string, *zap.Logger) (tracker.Client, error) {
			return &recordingTracker{}, nil
		}),
	)

	_, err := r.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "https://oauth.example/authorize")
}

func TestOAuthConfig(t *testing.T) {
	cfg := config.Default()
	cfg.ClientID = "id"
	cfg.ClientSecret = "secret"

	yc := OAuthConfig(cfg)
	assert.Equal(t, "https://oauth.yandex.com/authorize", yc.Endpoint.AuthURL)
	assert.Equal(t, []string{"tracker:read", "tracker:write"}, yc.Scopes)
	assert.Equal(t, cfg.RedirectURI, yc.RedirectURL)

	cfg.Auth.TokenURL = "https://oauth.yandex.ru/token"
	cfg.Auth.Scopes = []string{"custom"}
	yc = OAuthConfig(cfg)
	assert.Equal(t, "https://oauth.yandex.ru/token", yc.Endpoint.TokenURL)
	assert.Equal(t, []string{"custom"}, yc.Scopes)

	jc := OAuthConfig(&config.Config{Tracker: config.TrackerConfig{Kind: config.KindJira}})
	assert.Equal(t, "https://auth.atlassian.com/authorize", jc.Endpoint.AuthURL)
	authURL := jc.AuthCodeURL("s", authCodeOptions(config.KindJira)...)
	assert.Contains(t, authURL, "audience=api.atlassian.com")

	gc := OAuthConfig(&config.Config{Tracker: config.TrackerConfig{Kind: config.KindGitHub}})
	assert.Equal(t, "https://github.com/login/oauth/authorize", gc.Endpoint.AuthURL)
}

func TestNewTracker(t *testing.T) {
	logger := zaptest.NewLogger(t)

	for _, kind := range []string{config.KindYandex, config.KindJira, config.KindGitHub} {
		cfg := config.Default()
		cfg.Tracker.Kind = kind
		cfg.Tracker.BaseURL = "https://tracker.example.com/"
		c, err := NewTracker(cfg, "tok", logger)
		require.NoError(t, err, kind)
		assert.NotNil(t, c, kind)
	}

	cfg := config.Default()
	cfg.Tracker.Kind = "trello"
	_, err := NewTracker(cfg, "tok", logger)
	assert.Error(t, err)
}
