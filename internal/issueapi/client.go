// Package issueapi reports and resolves delivery issues through the
// marketplace HTTP API.
package issueapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"delivery-tracker/internal/tracking"
	appErrors "delivery-tracker/pkg/errors"
	"delivery-tracker/pkg/utils"
)

type Config struct {
	BaseURL     string
	Timeout     time.Duration
	Credentials tracking.CredentialSource
	Logger      *zap.Logger
}

type Client struct {
	baseURL     string
	http        *http.Client
	credentials tracking.CredentialSource
	log         *zap.Logger
}

var _ tracking.IssueService = (*Client)(nil)

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		http:        &http.Client{Timeout: timeout},
		credentials: cfg.Credentials,
		log:         log,
	}
}

type reportRequest struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

type reportResponse struct {
	ID string `json:"id"`
}

type resolveRequest struct {
	ResolutionNotes string `json:"resolution_notes,omitempty"`
}

func (c *Client) ReportIssue(ctx context.Context, report tracking.IssueReport) (string, error) {
	path := fmt.Sprintf("/deliveries/%s/issues", url.PathEscape(report.DeliveryID))

	var out reportResponse
	err := c.do(ctx, http.MethodPost, path, reportRequest{
		Type:        report.Type,
		Severity:    report.Severity,
		Description: report.Description,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("report issue: response without id")
	}

	c.log.Info("Issue reported", zap.String("delivery_id", report.DeliveryID), zap.String("issue_id", out.ID))
	return out.ID, nil
}

func (c *Client) ResolveIssue(ctx context.Context, issueID, resolutionNotes string) error {
	path := fmt.Sprintf("/issues/%s/resolve", url.PathEscape(issueID))
	if err := c.do(ctx, http.MethodPost, path, resolveRequest{ResolutionNotes: resolutionNotes}, nil); err != nil {
		return err
	}

	c.log.Info("Issue resolved", zap.String("issue_id", issueID))
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.credentials != nil {
		token, err := c.credentials.Token(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope utils.Response
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &envelope); err != nil {
			return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
		}
	}

	if resp.StatusCode >= 300 {
		msg := envelope.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", appErrors.ErrCredentialExpired, msg)
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s", appErrors.ErrIssueNotFound, msg)
		case resp.StatusCode < 500:
			return fmt.Errorf("%w: %s", appErrors.ErrCommandRejected, msg)
		default:
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg)
		}
	}

	if out == nil || envelope.Data == nil {
		return nil
	}
	data, err := json.Marshal(envelope.Data)
	if err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
