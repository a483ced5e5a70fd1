package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
)

// Requester is the part of the Gateway the JSON helpers need.
type Requester interface {
	Request(ctx context.Context, path string, opts RequestOptions) (*resty.Response, error)
}

// GetJSON fetches path and decodes the JSON response into T.
func GetJSON[T any](ctx context.Context, r Requester, path string) (T, error) {
	var out T
	res, err := r.Request(ctx, path, RequestOptions{Method: http.MethodGet})
	if err != nil {
		return out, err
	}
	if !res.IsSuccess() {
		return out, newStatusError(http.MethodGet, path, res)
	}
	if err := json.Unmarshal(res.Body(), &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", path, err)
	}
	return out, nil
}

// PatchJSON sends body as JSON with PATCH and decodes the response into T.
func PatchJSON[T any](ctx context.Context, r Requester, path string, body any) (T, error) {
	var out T
	res, err := sendJSON(ctx, r, http.MethodPatch, path, body)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(res.Body(), &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", path, err)
	}
	return out, nil
}

// PostJSON sends body as JSON with POST. A nil body sends no payload. An
// empty or non-JSON response yields the zero T without error.
func PostJSON[T any](ctx context.Context, r Requester, path string, body any) (T, error) {
	var out T
	res, err := sendJSON(ctx, r, http.MethodPost, path, body)
	if err != nil {
		return out, err
	}
	raw := bytes.TrimSpace(res.Body())
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		var zero T
		return zero, nil
	}
	return out, nil
}

// PostVoid sends an empty POST and only checks the status.
func PostVoid(ctx context.Context, r Requester, path string) error {
	_, err := sendJSON(ctx, r, http.MethodPost, path, nil)
	return err
}

// Delete sends a DELETE and only checks the status.
func Delete(ctx context.Context, r Requester, path string) error {
	_, err := sendJSON(ctx, r, http.MethodDelete, path, nil)
	return err
}

func sendJSON(ctx context.Context, r Requester, method, path string, body any) (*resty.Response, error) {
	opts := RequestOptions{Method: method}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", path, err)
		}
		opts.Body = b
	}

	res, err := r.Request(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	if !res.IsSuccess() {
		return nil, newStatusError(method, path, res)
	}
	return res, nil
}

// AvatarURL turns the avatar path returned by the API into an absolute URL.
// Absolute http(s) URLs are returned as is. Relative paths are resolved
// against the API origin, that is baseURL without its /api/v1 suffix.
func AvatarURL(baseURL, avatar string) string {
	if avatar == "" {
		return ""
	}
	if strings.HasPrefix(avatar, "http://") || strings.HasPrefix(avatar, "https://") {
		return avatar
	}

	origin := strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/api/v1")
	if !strings.HasPrefix(avatar, "/") {
		avatar = "/" + avatar
	}
	return origin + avatar
}
