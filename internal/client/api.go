package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go-dm/internal/chat"
	"go-dm/internal/httpx"
	"go-dm/internal/user"
)

// API is a thin client for the REST endpoints.
type API struct {
	base  string
	http  *http.Client
	token string
}

func NewAPI(base string) *API {
	return &API{
		base: strings.TrimSuffix(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *API) Token() string { return a.token }

// WebsocketURL is the live channel address for the logged in user.
func (a *API) WebsocketURL() string {
	u := a.base
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws?token=" + url.QueryEscape(a.token)
}

func (a *API) Register(ctx context.Context, username, password string) error {
	return a.do(ctx, http.MethodPost, "/register", user.RegisterRequest{Username: username, Password: password}, nil)
}

// Login stores the access token for later calls.
func (a *API) Login(ctx context.Context, username, password string) (*user.LoginResponse, error) {
	var res user.LoginResponse
	if err := a.do(ctx, http.MethodPost, "/login", user.RegisterRequest{Username: username, Password: password}, &res); err != nil {
		return nil, err
	}
	a.token = res.AccessToken
	return &res, nil
}

func (a *API) Send(ctx context.Context, req chat.SendRequest) (*chat.Message, error) {
	var m chat.Message
	if err := a.do(ctx, http.MethodPost, "/api/messages", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (a *API) History(ctx context.Context, peer int, afterID int64) ([]chat.Message, error) {
	var msgs []chat.Message
	path := fmt.Sprintf("/api/messages/%d?after=%d", peer, afterID)
	if err := a.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (a *API) Chats(ctx context.Context) ([]chat.ChatEntry, error) {
	var entries []chat.ChatEntry
	if err := a.do(ctx, http.MethodGet, "/api/chats", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// StatusError is a non-2xx response.
type StatusError struct {
	Status int
	Reason string
	Msg    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s (%s)", e.Status, e.Msg, e.Reason)
}

func (a *API) do(ctx context.Context, method, path string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, &body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr httpx.APIError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &StatusError{Status: resp.StatusCode, Reason: apiErr.Reason, Msg: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
