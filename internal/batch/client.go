package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const defaultRequestTimeout = 120 * time.Second

// Batch is the provider's view of a submitted batch.
type Batch struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	InputFileID   string `json:"input_file_id"`
	OutputFileID  string `json:"output_file_id"`
	ErrorFileID   string `json:"error_file_id"`
	RequestCounts struct {
		Total     int `json:"total"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
	} `json:"request_counts"`
}

// Client talks to an OpenAI-compatible files and batches API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client. A timeout <= 0 uses the default.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// UploadFile uploads a batch input file and returns the provider file ID.
func (c *Client) UploadFile(ctx context.Context, filename string, content io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("purpose", "batch"); err != nil {
		return "", fmt.Errorf("writing purpose field: %w", err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("copying file content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing multipart writer: %w", err)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/files", mw.FormDataContentType(), &body, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", fmt.Errorf("upload response missing file id")
	}
	return result.ID, nil
}

// CreateBatch submits an uploaded input file as a batch.
func (c *Client) CreateBatch(ctx context.Context, inputFileID string) (Batch, error) {
	body, err := json.Marshal(map[string]string{
		"input_file_id":     inputFileID,
		"endpoint":          "/v1/chat/completions",
		"completion_window": "24h",
	})
	if err != nil {
		return Batch{}, err
	}
	var b Batch
	if err := c.do(ctx, http.MethodPost, "/v1/batches", "application/json", bytes.NewReader(body), &b); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// GetBatch fetches the current state of a batch.
func (c *Client) GetBatch(ctx context.Context, id string) (Batch, error) {
	var b Batch
	if err := c.do(ctx, http.MethodGet, "/v1/batches/"+id, "", nil, &b); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// ListBatches returns recent batches, newest first.
func (c *Client) ListBatches(ctx context.Context) ([]Batch, error) {
	var result struct {
		Data []Batch `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/batches?limit=20", "", nil, &result); err != nil {
		return nil, err
	}
	return result.Data, nil
}

// FileContent downloads a provider file, typically a batch output.
func (c *Client) FileContent(ctx context.Context, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/files/"+fileID+"/content", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("downloading file %s: status %d: %s", fileID, resp.StatusCode, payload)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, payload)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}
