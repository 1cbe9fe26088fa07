package healthsource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultMaxBytes int64 = 32 << 20

// HTTPReader reads records from a local provider bridge over HTTP.
//
//	GET  /v1/permissions                 -> {"granted": [...]}
//	POST /v1/permissions/request         <- {"permissions": [...]} -> {"granted": [...]}
//	GET  /v1/records/{type}?start=&end=  -> {"records": [...]}
//
// HTTP 429 or a body mentioning "quota exceeded" is the quota signal; 403 is
// a missing grant.
type HTTPReader struct {
	baseURL  string
	client   *http.Client
	maxBytes int64
}

// NewHTTPReader constructs an HTTPReader for the bridge at baseURL.
func NewHTTPReader(baseURL string, timeout time.Duration, maxBytes int64) (*HTTPReader, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("provider url must not be empty")
	}
	if timeout <= 0 {
		return nil, errors.New("timeout must be greater than zero")
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	return &HTTPReader{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		maxBytes: maxBytes,
	}, nil
}

type permissionsBody struct {
	Permissions []Permission `json:"permissions,omitempty"`
	Granted     []Permission `json:"granted,omitempty"`
}

type recordsBody struct {
	Records []json.RawMessage `json:"records"`
}

// GrantedPermissions implements RecordReader.
func (r *HTTPReader) GrantedPermissions(ctx context.Context) ([]Permission, error) {
	var body permissionsBody
	if err := r.do(ctx, http.MethodGet, "/v1/permissions", nil, &body); err != nil {
		return nil, err
	}
	return body.Granted, nil
}

// RequestPermissions implements RecordReader.
func (r *HTTPReader) RequestPermissions(ctx context.Context, perms []Permission) ([]Permission, error) {
	request, err := json.Marshal(permissionsBody{Permissions: perms})
	if err != nil {
		return nil, fmt.Errorf("encode permission request: %w", err)
	}
	var body permissionsBody
	if err := r.do(ctx, http.MethodPost, "/v1/permissions/request", request, &body); err != nil {
		return nil, err
	}
	return body.Granted, nil
}

// ReadRecords implements RecordReader.
func (r *HTTPReader) ReadRecords(ctx context.Context, rt RecordType, start, end time.Time) ([]json.RawMessage, error) {
	query := url.Values{}
	query.Set("start", start.Format(time.RFC3339Nano))
	query.Set("end", end.Format(time.RFC3339Nano))
	path := "/v1/records/" + url.PathEscape(string(rt)) + "?" + query.Encode()

	var body recordsBody
	if err := r.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, fmt.Errorf("read %s: %w", rt, err)
	}
	return body.Records, nil
}

func (r *HTTPReader) do(ctx context.Context, method, path string, payload []byte, out any) error {
	var reqBody io.Reader = http.NoBody
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	body, err := readWithLimit(resp.Body, r.maxBytes)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests || strings.Contains(strings.ToLower(string(body)), "quota exceeded") {
			return fmt.Errorf("%w: %s", ErrQuotaExceeded, resp.Status)
		}
		if resp.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: %s", ErrPermissionMissing, resp.Status)
		}
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}

func readWithLimit(r io.Reader, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(r, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("provider response exceeds %d bytes", maxBytes)
	}
	return body, nil
}
