package telephony

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wellnessclinic/go-receptionist/internal/httpc"
)

// Sentinel errors.
var (
	// ErrBadConnectionString is returned when the connection string is
	// malformed or missing required parts.
	ErrBadConnectionString = errors.New("telephony: malformed connection string")

	// ErrNotConfigured is returned when directives are issued without
	// credentials.
	ErrNotConfigured = errors.New("telephony: client not configured")
)

// APIError represents an error response from the call-automation API.
type APIError struct {
	StatusCode int
	Message    string
	Operation  string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("telephony [%s]: API error %d: %s",
		e.Operation, e.StatusCode, e.Message)
}

const defaultAPIVersion = "2024-04-15"

// Client is the REST implementation of Provider. Requests are authenticated
// with the platform's HMAC-SHA256 request signing scheme.
type Client struct {
	endpoint   string
	accessKey  []byte
	apiVersion string
	http       *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the shared HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithAPIVersion overrides the call-automation API version.
func WithAPIVersion(v string) ClientOption {
	return func(c *Client) { c.apiVersion = v }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a telephony client from a platform connection string of
// the form "endpoint=https://...;accesskey=...".
func NewClient(connectionString string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		apiVersion: defaultAPIVersion,
		http:       httpc.Client,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "telephony.client")

	for _, part := range strings.Split(connectionString, ";") {
		name, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		switch strings.ToLower(name) {
		case "endpoint":
			c.endpoint = strings.TrimSuffix(value, "/")
		case "accesskey":
			key, err := base64.StdEncoding.DecodeString(value)
			if err != nil {
				return nil, fmt.Errorf("%w: bad access key", ErrBadConnectionString)
			}
			c.accessKey = key
		}
	}
	if c.endpoint == "" || len(c.accessKey) == 0 {
		return nil, ErrBadConnectionString
	}
	return c, nil
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.endpoint != "" && len(c.accessKey) > 0
}

// AnswerCall answers an incoming call.
func (c *Client) AnswerCall(ctx context.Context, incomingCallContext, callbackURI string) error {
	return c.post(ctx, "answerCall", "/calling/callConnections:answer", map[string]interface{}{
		"incomingCallContext": incomingCallContext,
		"callbackUri":         callbackURI,
	})
}

// Play speaks SSML to all participants on the call.
func (c *Client) Play(ctx context.Context, connectionID, ssml string) error {
	path := "/calling/callConnections/" + connectionID + ":play"
	return c.post(ctx, "play", path, map[string]interface{}{
		"playSources": []map[string]interface{}{{
			"kind": "ssml",
			"ssml": map[string]string{"ssmlText": ssml},
		}},
		// Empty playTo plays to all participants.
		"playTo":           []interface{}{},
		"operationContext": uuid.NewString(),
	})
}

// StartRecognizing begins speech capture targeted at one participant.
func (c *Client) StartRecognizing(ctx context.Context, connectionID, targetParticipant string) error {
	path := "/calling/callConnections/" + connectionID + ":recognize"
	return c.post(ctx, "recognize", path, map[string]interface{}{
		"recognizeInputType": "speech",
		"recognizeOptions": map[string]interface{}{
			"targetParticipant": map[string]string{"rawId": targetParticipant},
			"speechLanguage":    "en-US",
			"speechOptions": map[string]interface{}{
				"endSilenceTimeoutInMs": EndSilenceTimeout.Milliseconds(),
			},
		},
		"operationContext": uuid.NewString(),
	})
}

// HangUp terminates the call for everyone.
func (c *Client) HangUp(ctx context.Context, connectionID string) error {
	path := "/calling/callConnections/" + connectionID
	resp, err := c.do(ctx, http.MethodDelete, path+"?isForEveryone=true", nil)
	if err != nil {
		return fmt.Errorf("telephony [hangUp]: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return c.parseError(resp, "hangUp")
	}
	return nil
}

// CallProperties fetches connection properties, including the remote
// participant's raw id.
func (c *Client) CallProperties(ctx context.Context, connectionID string) (*CallProperties, error) {
	path := "/calling/callConnections/" + connectionID
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("telephony [properties]: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp, "properties")
	}

	var result struct {
		CallConnectionID string `json:"callConnectionId"`
		Targets          []struct {
			RawID string `json:"rawId"`
		} `json:"targets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("telephony [properties]: decode: %w", err)
	}

	props := &CallProperties{ConnectionID: result.CallConnectionID}
	if len(result.Targets) > 0 {
		props.RemoteParticipant = result.Targets[0].RawID
	}
	return props, nil
}

// post sends a JSON body and treats any 2xx as success.
func (c *Client) post(ctx context.Context, operation, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telephony [%s]: marshal: %w", operation, err)
	}
	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return fmt.Errorf("telephony [%s]: %w", operation, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return c.parseError(resp, operation)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, pathAndQuery string, body []byte) (*http.Response, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	sep := "?"
	if strings.Contains(pathAndQuery, "?") {
		sep = "&"
	}
	fullPath := pathAndQuery + sep + "api-version=" + c.apiVersion

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+fullPath, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.sign(req, fullPath, body)

	return c.http.Do(req)
}

// sign adds the platform's HMAC-SHA256 request signature: the string to sign
// is the verb, the path with query, and the date, host, and content hash
// headers.
func (c *Client) sign(req *http.Request, pathAndQuery string, body []byte) {
	contentHash := sha256.Sum256(body)
	contentHashB64 := base64.StdEncoding.EncodeToString(contentHash[:])
	date := time.Now().UTC().Format(http.TimeFormat)

	host := req.URL.Host
	stringToSign := req.Method + "\n" + escapePath(pathAndQuery) + "\n" +
		date + ";" + host + ";" + contentHashB64

	mac := hmac.New(sha256.New, c.accessKey)
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("x-ms-date", date)
	req.Header.Set("x-ms-content-sha256", contentHashB64)
	req.Header.Set("Authorization",
		"HMAC-SHA256 SignedHeaders=x-ms-date;host;x-ms-content-sha256&Signature="+signature)
}

func escapePath(pathAndQuery string) string {
	u, err := url.Parse(pathAndQuery)
	if err != nil {
		return pathAndQuery
	}
	return u.EscapedPath() + "?" + u.RawQuery
}

func (c *Client) parseError(resp *http.Response, operation string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	message := string(body)
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Operation:  operation,
	}
}

// Verify Client implements Provider at compile time.
var _ Provider = (*Client)(nil)
