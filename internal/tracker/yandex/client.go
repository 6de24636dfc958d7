// Package yandex binds tracker.Client to the Yandex Tracker REST API v2.
package yandex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/clintrovert/trackerbatch/internal/tracker"
	"github.com/clintrovert/trackerbatch/pkg/types"
)

// DefaultBaseURL is the public Yandex Tracker API host
const DefaultBaseURL = "https://api.tracker.yandex.net"

const (
	orgHeader      = "X-Org-ID"
	cloudOrgHeader = "X-Cloud-Org-ID"
)

// Client talks to Yandex Tracker on behalf of one organization with one token
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
	baseURL    string
	orgID      string
	orgHeader  string
}

// NewClient creates a new Yandex Tracker client. Requests carry
// "Authorization: OAuth <token>" through an oauth2 transport.
func NewClient(baseURL, orgID, accessToken string, cloudOrg bool, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: accessToken, TokenType: "OAuth"},
	)

	header := orgHeader
	if cloudOrg {
		header = cloudOrgHeader
	}

	return &Client{
		httpClient: oauth2.NewClient(context.Background(), ts),
		logger:     logger,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		orgID:      orgID,
		orgHeader:  header,
	}
}

type createRequest struct {
	Queue         string   `json:"queue"`
	Summary       string   `json:"summary"`
	Description   string   `json:"description,omitempty"`
	Type          string   `json:"type,omitempty"`
	Assignee      string   `json:"assignee,omitempty"`
	Author        string   `json:"author,omitempty"`
	Priority      string   `json:"priority,omitempty"`
	Parent        string   `json:"parent,omitempty"`
	Sprint        []string `json:"sprint,omitempty"`
	Followers     []string `json:"followers,omitempty"`
	Unique        string   `json:"unique,omitempty"`
	AttachmentIDs []string `json:"attachmentIds,omitempty"`
}

type updateRequest struct {
	Summary                  *string  `json:"summary,omitempty"`
	Description              *string  `json:"description,omitempty"`
	Type                     *string  `json:"type,omitempty"`
	Assignee                 *string  `json:"assignee,omitempty"`
	Priority                 *string  `json:"priority,omitempty"`
	Parent                   *string  `json:"parent,omitempty"`
	Sprint                   *string  `json:"sprint,omitempty"`
	Followers                []string `json:"followers,omitempty"`
	AttachmentIDs            []string `json:"attachmentIds,omitempty"`
	DescriptionAttachmentIDs []string `json:"descriptionAttachmentIds,omitempty"`
}

// issueResponse is the subset of the issue representation we read back
type issueResponse struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

type errorResponse struct {
	ErrorMessages []string          `json:"errorMessages"`
	Errors        map[string]string `json:"errors"`
	StatusCode    int               `json:"statusCode"`
}

// CreateIssue creates an issue in task.Queue
func (c *Client) CreateIssue(ctx context.Context, task types.CreatedTask) (string, error) {
	payload := createRequest{
		Queue:         task.Queue,
		Summary:       task.Summary,
		Description:   task.Description,
		Type:          task.Type,
		Assignee:      task.Assignee,
		Author:        task.Author,
		Priority:      task.Priority,
		Parent:        task.Parent,
		Sprint:        task.Sprint,
		Followers:     task.Followers,
		Unique:        task.Unique,
		AttachmentIDs: task.AttachmentIDs,
	}

	body, err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/v2/issues", payload)
	if err != nil {
		return "", fmt.Errorf("failed to create issue: %w", err)
	}

	var issue issueResponse
	if err := json.Unmarshal(body, &issue); err != nil {
		return "", fmt.Errorf("failed to parse created issue: %w", err)
	}
	if issue.Key == "" {
		return "", fmt.Errorf("created issue response has no key")
	}

	c.logger.Debug("created issue",
		zap.String("key", issue.Key),
		zap.String("queue", task.Queue),
	)

	return issue.Key, nil
}

// UpdateIssue patches the fields set in patch
func (c *Client) UpdateIssue(ctx context.Context, issueID string, patch types.TaskPatch) error {
	payload := updateRequest{
		Summary:                  patch.Summary,
		Description:              patch.Description,
		Type:                     patch.Type,
		Assignee:                 patch.Assignee,
		Priority:                 patch.Priority,
		Parent:                   patch.Parent,
		Sprint:                   patch.Sprint,
		Followers:                patch.Followers,
		AttachmentIDs:            patch.AttachmentIDs,
		DescriptionAttachmentIDs: patch.DescriptionAttachmentIDs,
	}

	if _, err := c.doRequest(ctx, http.MethodPatch, c.issueURL(issueID), payload); err != nil {
		return fmt.Errorf("failed to update issue %s: %w", issueID, err)
	}

	c.logger.Debug("updated issue", zap.String("key", issueID))
	return nil
}

// DeleteIssue deletes an issue by key
func (c *Client) DeleteIssue(ctx context.Context, issueID string) error {
	if _, err := c.doRequest(ctx, http.MethodDelete, c.issueURL(issueID), nil); err != nil {
		return fmt.Errorf("failed to delete issue %s: %w", issueID, err)
	}

	c.logger.Debug("deleted issue", zap.String("key", issueID))
	return nil
}

func (c *Client) issueURL(issueID string) string {
	return c.baseURL + "/v2/issues/" + url.PathEscape(issueID)
}

func (c *Client) doRequest(ctx context.Context, method, reqURL string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(c.orgHeader, c.orgID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseError(resp.StatusCode, respBody)
	}

	return respBody, nil
}

func parseError(status int, body []byte) *tracker.APIError {
	apiErr := &tracker.APIError{StatusCode: status}

	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		apiErr.Messages = append(apiErr.Messages, errResp.ErrorMessages...)
		for field, msg := range errResp.Errors {
			apiErr.Messages = append(apiErr.Messages, field+": "+msg)
		}
	}
	if len(apiErr.Messages) == 0 && len(body) > 0 {
		apiErr.Messages = []string{strings.TrimSpace(string(body))}
	}

	return apiErr
}
