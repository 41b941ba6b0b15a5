package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/models"
)

// ListOptions mirror the list endpoint's query params.
type ListOptions struct {
	Search    string
	Community string
	Type      string
	SortBy    string
	Mine      bool
}

// Client talks to the ride REST API. Every response uses the same normalized
// ride shape the stream carries, so reconciler merges are uniform regardless
// of source.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{BaseURL: baseURL, Token: token, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

// APIError carries the server's reason for a failed mutation so the caller
// can surface it to the user after rolling back.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (c *Client) ListRides(ctx context.Context, opts ListOptions) ([]*models.Ride, error) {
	q := url.Values{}
	if opts.Search != "" {
		q.Set("search", opts.Search)
	}
	if opts.Community != "" {
		q.Set("community", opts.Community)
	}
	if opts.Type != "" {
		q.Set("type", opts.Type)
	}
	if opts.SortBy != "" {
		q.Set("sort", opts.SortBy)
	}
	if opts.Mine {
		q.Set("mine", "true")
	}
	u := c.BaseURL + "/api/v1/rides"
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	var rides []*models.Ride
	if err := c.do(ctx, http.MethodGet, u, nil, &rides); err != nil {
		return nil, err
	}
	return rides, nil
}

func (c *Client) CreateRide(ctx context.Context, in models.RideInput) (*models.Ride, error) {
	var ride models.Ride
	if err := c.do(ctx, http.MethodPost, c.BaseURL+"/api/v1/rides", in, &ride); err != nil {
		return nil, err
	}
	return &ride, nil
}

func (c *Client) UpdateRide(ctx context.Context, id string, in models.RideInput) (*models.Ride, error) {
	var ride models.Ride
	if err := c.do(ctx, http.MethodPut, c.BaseURL+"/api/v1/rides/"+id, in, &ride); err != nil {
		return nil, err
	}
	return &ride, nil
}

func (c *Client) DeleteRide(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.BaseURL+"/api/v1/rides/"+id, nil, nil)
}

func (c *Client) do(ctx context.Context, method, u string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
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
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
