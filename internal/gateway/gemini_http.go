package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// transientError marks failures worth retrying: network errors, rate limits,
// and server-side errors.
type transientError struct {
	err error
}

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// shouldRetryStatus returns true for status codes that should be retried.
func shouldRetryStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusRequestTimeout:
		return true
	default:
		return statusCode >= 500
	}
}

// doJSON performs a JSON request against the API with retry on transient
// failures.
func (c *GeminiClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	return c.doJSONWithAttempts(ctx, method, path, body, out, c.retryAttempts)
}

func (c *GeminiClient) doJSONWithAttempts(ctx context.Context, method, path string, body, out any, attempts uint) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	return c.withRetryAttempts(ctx, func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("x-goog-api-key", c.apiKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return &transientError{fmt.Errorf("%s %s: %w", method, path, err)}
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return &transientError{fmt.Errorf("%s %s: read response: %w", method, path, err)}
		}

		if shouldRetryStatus(resp.StatusCode) {
			return &transientError{fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, respBody)}
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, respBody)
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("%s %s: unmarshal response: %w", method, path, err)
			}
		}
		return nil
	}, attempts)
}

// uploadFile uploads bytes through the resumable upload protocol and returns
// the file resource name.
func (c *GeminiClient) uploadFile(ctx context.Context, displayName, mimeType string, data []byte) (string, error) {
	var fileName string

	err := c.withRetry(ctx, func() error {
		// Start: declare metadata, receive the upload URL.
		meta, err := json.Marshal(map[string]any{
			"file": map[string]any{"display_name": displayName},
		})
		if err != nil {
			return err
		}

		startReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/upload/v1beta/files", bytes.NewReader(meta))
		if err != nil {
			return err
		}
		startReq.Header.Set("x-goog-api-key", c.apiKey)
		startReq.Header.Set("Content-Type", "application/json")
		startReq.Header.Set("X-Goog-Upload-Protocol", "resumable")
		startReq.Header.Set("X-Goog-Upload-Command", "start")
		startReq.Header.Set("X-Goog-Upload-Header-Content-Length", strconv.Itoa(len(data)))
		startReq.Header.Set("X-Goog-Upload-Header-Content-Type", mimeType)

		startResp, err := c.client.Do(startReq)
		if err != nil {
			return &transientError{fmt.Errorf("upload start: %w", err)}
		}
		io.Copy(io.Discard, startResp.Body)
		startResp.Body.Close()

		if shouldRetryStatus(startResp.StatusCode) {
			return &transientError{fmt.Errorf("upload start: status %d", startResp.StatusCode)}
		}
		if startResp.StatusCode != http.StatusOK {
			return fmt.Errorf("upload start: status %d", startResp.StatusCode)
		}

		uploadURL := startResp.Header.Get("X-Goog-Upload-URL")
		if uploadURL == "" {
			return fmt.Errorf("upload start: no upload URL in response")
		}

		// Finalize: send the bytes in one shot.
		upReq, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
		if err != nil {
			return err
		}
		upReq.Header.Set("x-goog-api-key", c.apiKey)
		upReq.Header.Set("Content-Length", strconv.Itoa(len(data)))
		upReq.Header.Set("X-Goog-Upload-Offset", "0")
		upReq.Header.Set("X-Goog-Upload-Command", "upload, finalize")

		upResp, err := c.client.Do(upReq)
		if err != nil {
			return &transientError{fmt.Errorf("upload finalize: %w", err)}
		}
		defer upResp.Body.Close()

		body, err := io.ReadAll(upResp.Body)
		if err != nil {
			return &transientError{fmt.Errorf("upload finalize: read response: %w", err)}
		}
		if shouldRetryStatus(upResp.StatusCode) {
			return &transientError{fmt.Errorf("upload finalize: status %d: %s", upResp.StatusCode, body)}
		}
		if upResp.StatusCode != http.StatusOK {
			return fmt.Errorf("upload finalize: status %d: %s", upResp.StatusCode, body)
		}

		var parsed struct {
			File struct {
				Name string `json:"name"`
				URI  string `json:"uri"`
			} `json:"file"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return fmt.Errorf("upload finalize: unmarshal response: %w", err)
		}
		if parsed.File.URI != "" {
			fileName = parsed.File.URI
		} else {
			fileName = parsed.File.Name
		}
		if fileName == "" {
			return fmt.Errorf("upload finalize: no file name in response")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return fileName, nil
}

// downloadFile fetches a file resource's content.
func (c *GeminiClient) downloadFile(ctx context.Context, fileName string) ([]byte, error) {
	var data []byte

	err := c.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/download/v1beta/"+fileName+":download?alt=media", nil)
		if err != nil {
			return err
		}
		req.Header.Set("x-goog-api-key", c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			return &transientError{fmt.Errorf("download file: %w", err)}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &transientError{fmt.Errorf("download file: read: %w", err)}
		}
		if shouldRetryStatus(resp.StatusCode) {
			return &transientError{fmt.Errorf("download file: status %d", resp.StatusCode)}
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("download file: status %d: %s", resp.StatusCode, body)
		}

		data = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
