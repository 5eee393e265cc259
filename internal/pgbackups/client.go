// Package pgbackups talks to the backup/transfer service an app discovers
// through its PGBACKUPS_URL binding. The service copies data from one
// database URL to another and exposes the copy as a transfer resource whose
// free-text log grows until a terminal marker appears.
package pgbackups

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Transfer is the service's view of one copy operation.
type Transfer struct {
	ID         int    `json:"id"`
	FromName   string `json:"from_name"`
	ToName     string `json:"to_name"`
	Log        string `json:"log"`
	ErrorAt    string `json:"error_at"`
	FinishedAt string `json:"finished_at"`
}

// Errored reports whether the service marked the transfer as failed.
func (t Transfer) Errored() bool { return t.ErrorAt != "" }

// Finished reports whether the transfer reached successful completion.
func (t Transfer) Finished() bool { return t.FinishedAt != "" }

// LastLogLine returns the newest non-empty line of the transfer log, used
// for progress display and error reporting.
func (t Transfer) LastLogLine() string {
	lines := strings.Split(t.Log, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

// Client issues requests against one app's transfer-service endpoint.
// Credentials ride in the endpoint URL itself, as discovered from config.
type Client struct {
	http *resty.Client
}

// NewClient builds a Client for the given endpoint URL.
func NewClient(endpoint string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(endpoint).
			SetTimeout(30 * time.Second).
			SetHeader("Accept", "application/json"),
	}
}

// CreateTransfer starts a copy from fromURL to toURL. The name arguments
// are display labels the service echoes into the transfer log.
func (c *Client) CreateTransfer(ctx context.Context, fromURL, fromName, toURL, toName string) (Transfer, error) {
	var out Transfer
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"from_url":  fromURL,
			"from_name": fromName,
			"to_url":    toURL,
			"to_name":   toName,
		}).
		SetResult(&out).
		Post("/transfers")
	if err != nil {
		return Transfer{}, fmt.Errorf("pgbackups: create transfer %s -> %s: %w", fromName, toName, err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return Transfer{}, fmt.Errorf("pgbackups: create transfer %s -> %s: %s", fromName, toName, resp.String())
	}
	return out, nil
}

// GetTransfer fetches the current state of a transfer.
func (c *Client) GetTransfer(ctx context.Context, id int) (Transfer, error) {
	var out Transfer
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/transfers/" + strconv.Itoa(id))
	if err != nil {
		return Transfer{}, fmt.Errorf("pgbackups: get transfer %d: %w", id, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Transfer{}, fmt.Errorf("pgbackups: get transfer %d: %s", id, resp.String())
	}
	return out, nil
}
