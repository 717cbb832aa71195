package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Vir-8/callrelay/pkg/logger"
)

const defaultBaseURL = "https://api.twilio.com/2010-04-01"

// Client is a minimal Twilio REST client covering call origination and hangup
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a new telephony client
func NewClient(accountSID, authToken string, timeout time.Duration, log *logger.Logger) (*Client, error) {
	if accountSID == "" {
		return nil, fmt.Errorf("twilio account SID is required")
	}
	if authToken == "" {
		return nil, fmt.Errorf("twilio auth token is required")
	}

	return &Client{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log.Named("telephony"),
	}, nil
}

// WithBaseURL overrides the provider API base URL (used in tests)
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

// Call is the subset of the Twilio call resource we consume
type Call struct {
	SID       string `json:"sid"`
	To        string `json:"to"`
	From      string `json:"from"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
}

// MakeCallParams are the parameters for originating one call leg
type MakeCallParams struct {
	To    string
	From  string
	Twiml string // inline call-control instructions
}

// APIError is a structured error returned by the telephony provider
type APIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio error %d: %s", e.Code, e.Message)
}

// MakeCall originates an outbound call leg
func (c *Client) MakeCall(ctx context.Context, params MakeCallParams) (*Call, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.accountSID)

	data := url.Values{}
	data.Set("To", params.To)
	data.Set("From", params.From)
	data.Set("Twiml", params.Twiml)

	c.logger.Debug("Originating call leg",
		logger.String("to", params.To),
		logger.String("from", params.From))

	var call Call
	if err := c.post(ctx, endpoint, data, &call); err != nil {
		return nil, err
	}

	c.logger.Info("Call leg originated",
		logger.String("call_sid", call.SID),
		logger.String("to", call.To),
		logger.String("status", call.Status))
	return &call, nil
}

// HangupCall ends an in-progress or ringing call leg
func (c *Client) HangupCall(ctx context.Context, callSID string) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callSID)

	data := url.Values{}
	data.Set("Status", "completed")

	c.logger.Info("Hanging up call leg", logger.String("call_sid", callSID))

	return c.post(ctx, endpoint, data, nil)
}

// post performs an authenticated form POST against the provider API
func (c *Client) post(ctx context.Context, endpoint string, data url.Values, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr APIError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			c.logger.Error("Telephony API request failed",
				logger.Int("status_code", resp.StatusCode),
				logger.Int("error_code", apiErr.Code),
				logger.String("message", apiErr.Message))
			return &apiErr
		}
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, bodyPreview(body))
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

func bodyPreview(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
