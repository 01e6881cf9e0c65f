package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"account-server/internal/domain"
)

var (
	// ErrUnauthorized indicates the server rejected the credentials or token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the server refused the operation.
	ErrForbidden = errors.New("forbidden")
)

// User is the account snapshot as the server returns it.
type User struct {
	ID       string          `json:"_id"`
	Name     string          `json:"name"`
	Email    string          `json:"email,omitempty"`
	Role     domain.Role     `json:"role"`
	Provider domain.Provider `json:"provider"`
}

// API is the server surface the session cache depends on.
type API interface {
	Login(ctx context.Context, email, password string) (string, error)
	Register(ctx context.Context, name, email, password string) (string, error)
	Me(ctx context.Context, token string) (*User, error)
	ChangePassword(ctx context.Context, token, userID, oldPassword, newPassword string) error
}

// HTTPAPI talks to the account server over HTTP.
type HTTPAPI struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAPI(baseURL string, client *http.Client) *HTTPAPI {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPAPI{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (a *HTTPAPI) Login(ctx context.Context, email, password string) (string, error) {
	return a.tokenRequest(ctx, "/auth/local", map[string]string{
		"email":    email,
		"password": password,
	})
}

func (a *HTTPAPI) Register(ctx context.Context, name, email, password string) (string, error) {
	return a.tokenRequest(ctx, "/api/users", map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	})
}

func (a *HTTPAPI) tokenRequest(ctx context.Context, path string, body map[string]string) (string, error) {
	resp, err := a.do(ctx, http.MethodPost, path, "", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return "", ErrUnauthorized
	default:
		return "", statusError(resp)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("empty token in response")
	}
	return out.Token, nil
}

func (a *HTTPAPI) Me(ctx context.Context, token string) (*User, error) {
	resp, err := a.do(ctx, http.MethodGet, "/api/users/me", token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	default:
		return nil, statusError(resp)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode user response: %w", err)
	}
	return &user, nil
}

func (a *HTTPAPI) ChangePassword(ctx context.Context, token, userID, oldPassword, newPassword string) error {
	resp, err := a.do(ctx, http.MethodPut, "/api/users/"+userID+"/password", token, map[string]string{
		"oldPassword": oldPassword,
		"newPassword": newPassword,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		return statusError(resp)
	}
}

func (a *HTTPAPI) do(ctx context.Context, method, path, token string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
}
