package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"lets-chat/domain"
	"lets-chat/search"
)

// restClient talks to the durable REST side of the server.
type restClient struct {
	base  string
	token string
	http  *http.Client
}

func newRestClient(base string) *restClient {
	return &restClient{base: base, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *restClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, failure.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *restClient) login(ctx context.Context, email, password string) (domain.User, error) {
	var resp struct {
		User  domain.User `json:"user"`
		Token string      `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password}, &resp)
	if err != nil {
		return domain.User{}, err
	}
	c.token = resp.Token
	return resp.User, nil
}

func (c *restClient) directory(ctx context.Context) ([]domain.DirectoryEntry, error) {
	var resp struct {
		Users []domain.DirectoryEntry `json:"users"`
	}
	err := c.do(ctx, http.MethodGet, "/api/users?all=true", nil, &resp)
	return resp.Users, err
}

func (c *restClient) send(ctx context.Context, receiverID, content string) (domain.Message, error) {
	var resp struct {
		Message domain.Message `json:"message"`
	}
	err := c.do(ctx, http.MethodPost, "/api/messages", map[string]string{"receiverId": receiverID, "content": content}, &resp)
	return resp.Message, err
}

func (c *restClient) history(ctx context.Context, peerID string, limit int) ([]domain.Message, error) {
	var resp struct {
		Messages []domain.Message `json:"messages"`
	}
	query := url.Values{"receiverId": {peerID}, "limit": {strconv.Itoa(limit)}}
	err := c.do(ctx, http.MethodGet, "/api/messages?"+query.Encode(), nil, &resp)
	return resp.Messages, err
}

func (c *restClient) search(ctx context.Context, q search.Query) ([]domain.Message, error) {
	var resp struct {
		Results []domain.Message `json:"results"`
	}
	query := url.Values{"q": {q.Terms}, "limit": {strconv.Itoa(q.Limit)}}
	if q.PeerID != "" {
		query.Set("with", q.PeerID)
	}
	err := c.do(ctx, http.MethodGet, "/api/messages/search?"+query.Encode(), nil, &resp)
	return resp.Results, err
}
