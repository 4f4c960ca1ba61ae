// Package agent is the device-side half of the upload pipeline: it talks to
// the packdoc server, retries the upload HTTP call with backoff, polls
// upload status until terminal, and keeps offline drafts on local disk until
// connectivity returns.
package agent

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"packdoc/pkg/retry"
)

// uploadTimeout bounds a single upload HTTP call; hitting it counts as a
// retryable network failure, separate from the backoff between attempts.
const uploadTimeout = 60 * time.Second

// Client is an authenticated HTTP client for the packdoc API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Policy  retry.Policy
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: uploadTimeout},
		Policy:  retry.Default(),
	}
}

// apiError carries the HTTP status so the retry policy can classify it.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Body)
}

func (c *Client) url(path string) string {
	return c.BaseURL + path
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

// Login authenticates and stores the bearer token for subsequent calls.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return err
	}
	if resp.Token == "" {
		return fmt.Errorf("login: empty token in response")
	}
	c.Token = resp.Token
	return nil
}

// Ping is the connectivity probe used before replaying offline drafts.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/me", nil, nil)
}

// CreateRecord creates a packing record and returns its id.
func (c *Client) CreateRecord(ctx context.Context, invoiceNumber, notes string, packedAt time.Time) (uint, error) {
	var resp struct {
		ID uint `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/records", map[string]any{
		"invoiceNumber": invoiceNumber,
		"notes":         notes,
		"packedAt":      packedAt.Format(time.RFC3339),
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// UploadResponse is the server's answer to an image upload.
type UploadResponse struct {
	ID             uint   `json:"id"`
	FileName       string `json:"fileName"`
	Status         string `json:"status"`
	OriginalSize   int    `json:"originalSize"`
	CompressedSize int    `json:"compressedSize"`
	Dimensions     string `json:"dimensions"`
}

// progressReader reports consumed bytes as the transport reads the request
// body, which is the closest thing net/http has to upload progress events.
type progressReader struct {
	r        io.Reader
	total    int
	read     int
	onChange func(pct int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += n
	if p.onChange != nil && p.total > 0 {
		pct := p.read * 100 / p.total
		if pct > 100 {
			pct = 100
		}
		p.onChange(pct)
	}
	return n, err
}

// UploadImage posts one photo to the record's image endpoint, retrying
// retryable failures with jittered backoff. The attempt counter here is
// independent of the server-side queue's own retries.
func (c *Client) UploadImage(ctx context.Context, recordID uint, imageType, fileName string, data []byte, onProgress func(pct int)) (*UploadResponse, error) {
	payload, err := json.Marshal(map[string]string{
		"imageType":  imageType,
		"fileName":   fileName,
		"base64Data": base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/records/%d/images", recordID)

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.postOnce(ctx, path, payload, onProgress)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		sig := retry.Signal{Err: err}
		if apiErr, ok := err.(*apiError); ok {
			sig = retry.Signal{Status: apiErr.Status}
		}
		if !c.Policy.ShouldRetry(attempt, sig) {
			return nil, lastErr
		}
		select {
		case <-time.After(c.Policy.Delay(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) postOnce(ctx context.Context, path string, payload []byte, onProgress func(pct int)) (*UploadResponse, error) {
	body := &progressReader{r: bytes.NewReader(payload), total: len(payload), onChange: onProgress}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = int64(len(payload))
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	var out UploadResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StatusItem mirrors one entry of the batch upload-status response.
type StatusItem struct {
	ID        uint   `json:"id"`
	FileName  string `json:"fileName"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Error     string `json:"error"`
	RemoteURL string `json:"remoteUrl"`
}

// UploadStatus fetches the current queue state for the given image ids.
func (c *Client) UploadStatus(ctx context.Context, recordID uint, ids []uint) ([]StatusItem, error) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	path := fmt.Sprintf("/records/%d/images/upload-status?ids=%s", recordID, strings.Join(parts, ","))
	var out []StatusItem
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
