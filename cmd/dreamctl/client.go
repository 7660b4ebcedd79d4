package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var errDreamNotFound = errors.New("dream not found")

type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type submitReply struct {
	Success bool   `json:"success"`
	DreamID int64  `json:"dream_id"`
	Status  string `json:"status"`
	Error   string `json:"error"`
}

type progressReply struct {
	Success          bool   `json:"success"`
	Stage            string `json:"stage"`
	Progress         int    `json:"progress"`
	RemainingMinutes int    `json:"remaining_minutes"`
	Status           string `json:"status"`
	Error            string `json:"error"`
}

func (p progressReply) terminal() bool {
	return !p.Success || p.Stage == "complete" || p.Stage == "failed"
}

func (c *apiClient) submit(ctx context.Context, title, text string) (*submitReply, error) {
	body, err := json.Marshal(map[string]string{"title": title, "description": text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/dreams", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit dream: %w", err)
	}
	defer resp.Body.Close()

	var reply submitReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("submit dream: decode %s response: %w", resp.Status, err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("submit dream: %s: %s", resp.Status, reply.Error)
	}
	return &reply, nil
}

// progress reads the polling endpoint. A failed dream is a reply, not an
// error.
func (c *apiClient) progress(ctx context.Context, dreamID int64) (*progressReply, error) {
	url := c.baseURL + "/api/progress/" + strconv.FormatInt(dreamID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}
	defer resp.Body.Close()

	var reply progressReply
	decodeErr := json.NewDecoder(resp.Body).Decode(&reply)
	switch resp.StatusCode {
	case http.StatusOK, http.StatusInternalServerError:
		if decodeErr != nil {
			return nil, fmt.Errorf("read progress: decode %s response: %w", resp.Status, decodeErr)
		}
		if resp.StatusCode == http.StatusInternalServerError && reply.Stage == "" {
			return nil, fmt.Errorf("read progress: %s: %s", resp.Status, reply.Error)
		}
		return &reply, nil
	case http.StatusNotFound:
		return nil, errDreamNotFound
	default:
		return nil, fmt.Errorf("read progress: %s: %s", resp.Status, reply.Error)
	}
}
