package attest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Client talks to the remote attestation service over HTTP/JSON.
type Client struct {
	baseURL string
	httpc   *http.Client
	log     *logrus.Entry
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
		log:     logrus.WithField("component", "attest"),
	}
}

// Profile is the remote account snapshot.
type Profile struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type tokenResponse struct {
	AuthToken string `json:"auth_token"`
}

// Submission carries one asset to the attestation endpoint.
type Submission struct {
	Image       io.Reader
	Size        int64
	Filename    string
	MimeType    string
	Kind        string
	Timestamp   time.Time
	Latitude    *float64
	Longitude   *float64
	Accuracy    *float64
	SourceURL   string
	SourceTitle string
}

// SubmitResult is the server's acknowledgement of an accepted asset.
type SubmitResult struct {
	NID string `json:"nid"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var resp tokenResponse
	payload := map[string]string{"email": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/token/login/", "", payload, &resp); err != nil {
		return "", err
	}
	return resp.AuthToken, nil
}

// Signup registers a new account and returns its bearer token.
func (c *Client) Signup(ctx context.Context, email, password, username string) (string, error) {
	payload := map[string]string{"email": email, "password": password}
	if username != "" {
		payload["username"] = username
	}
	var resp tokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/users/", "", payload, &resp); err != nil {
		return "", err
	}
	return resp.AuthToken, nil
}

// GoogleSignup resolves a federated identity token to a bearer token,
// handling both first login and signup on the server side.
func (c *Client) GoogleSignup(ctx context.Context, idToken string) (string, error) {
	var resp tokenResponse
	payload := map[string]string{"id_token": idToken}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/users/signup-google/", "", payload, &resp); err != nil {
		return "", err
	}
	return resp.AuthToken, nil
}

// Me fetches the current profile for token.
func (c *Client) Me(ctx context.Context, token string) (*Profile, error) {
	var profile Profile
	if err := c.doJSON(ctx, http.MethodGet, "/auth/users/me/", token, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// UpdateProfile patches the given profile fields and returns the updated
// snapshot.
func (c *Client) UpdateProfile(ctx context.Context, token string, fields map[string]string) (*Profile, error) {
	var profile Profile
	if err := c.doJSON(ctx, http.MethodPatch, "/auth/users/me/", token, fields, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// DeleteAccount deletes the remote account. The caller must clear local
// credentials afterward.
func (c *Client) DeleteAccount(ctx context.Context, token string) error {
	return c.doJSON(ctx, http.MethodDelete, "/auth/users/me/", token, nil, nil)
}

// SubmitAsset streams the asset bytes plus metadata as multipart form data.
// onProgress, when non-nil, observes transfer progress in 0..1.
func (c *Client) SubmitAsset(ctx context.Context, token string, sub Submission, onProgress func(float64)) (*SubmitResult, error) {
	if token == "" {
		return nil, ErrNoToken
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("image", sub.Filename)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	if _, err := io.Copy(part, sub.Image); err != nil {
		return nil, fmt.Errorf("submit: reading image: %w", err)
	}

	fields := map[string]string{
		"timestamp": sub.Timestamp.UTC().Format(time.RFC3339),
		"kind":      sub.Kind,
		"mime_type": sub.MimeType,
	}
	if sub.Latitude != nil && sub.Longitude != nil {
		fields["latitude"] = strconv.FormatFloat(*sub.Latitude, 'f', -1, 64)
		fields["longitude"] = strconv.FormatFloat(*sub.Longitude, 'f', -1, 64)
		if sub.Accuracy != nil {
			fields["accuracy"] = strconv.FormatFloat(*sub.Accuracy, 'f', -1, 64)
		}
	}
	if sub.SourceURL != "" {
		fields["source_url"] = sub.SourceURL
		fields["source_title"] = sub.SourceTitle
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("submit: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	total := int64(body.Len())
	var reqBody io.Reader = &body
	if onProgress != nil {
		reqBody = &progressReader{r: &body, total: total, onProgress: onProgress}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/assets/", reqBody)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "token "+token)
	req.ContentLength = total

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, classifyTransport(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyResponse(resp.StatusCode, respBody)
	}

	var result SubmitResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &APIError{Type: ErrorTypeServer, StatusCode: resp.StatusCode, Message: "malformed response body"}
	}
	if onProgress != nil {
		onProgress(1)
	}
	return &result, nil
}

// doJSON performs one JSON request/response cycle, classifying failures.
func (c *Client) doJSON(ctx context.Context, method, path, token string, payload, out interface{}) error {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "token "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.log.WithError(err).WithField("path", path).Debug("transport failure")
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return classifyTransport(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyResponse(resp.StatusCode, body)
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return &APIError{Type: ErrorTypeServer, StatusCode: resp.StatusCode, Message: "malformed response body"}
		}
	}
	return nil
}

// progressReader reports the fraction of the request body consumed by the
// transport.
type progressReader struct {
	r          io.Reader
	total      int64
	sent       int64
	onProgress func(float64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 && pr.total > 0 {
		pr.sent += int64(n)
		pr.onProgress(float64(pr.sent) / float64(pr.total))
	}
	return n, err
}
