package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/txfeed/service/feed"
)

// Feed is a presented transaction feed as served by the API.
type Feed struct {
	Address   string       `json:"address"`
	Context   feed.Context `json:"context"`
	State     feed.State   `json:"state"`
	Loading   bool         `json:"loading"`
	Error     string       `json:"error,omitempty"`
	Stale     bool         `json:"stale,omitempty"`
	FetchedAt *time.Time   `json:"fetched_at,omitempty"`
	Sections  []Section    `json:"sections,omitempty"`
	Items     []feed.Item  `json:"items,omitempty"`
}

// Section is a titled group of items in a home feed.
type Section struct {
	Title string      `json:"title"`
	Items []feed.Item `json:"items"`
}

// AllItems returns the feed's items in display order whatever its state.
func (f *Feed) AllItems() []feed.Item {
	if f.State != feed.StateSectioned {
		return f.Items
	}
	var out []feed.Item
	for _, s := range f.Sections {
		out = append(out, s.Items...)
	}
	return out
}

// FeedOptions selects the presentation context and page size. Zero values
// use the server defaults.
type FeedOptions struct {
	Context feed.Context
	Limit   int
}

func (o FeedOptions) query() string {
	v := url.Values{}
	v.Set("context", o.Context.String())
	if o.Limit > 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	return v.Encode()
}

// Feed fetches the presented feed of a wallet. A failed fetch on the server
// is reported in Feed.Error, not as an error.
func (c *Client) Feed(ctx context.Context, address string, opts FeedOptions) (*Feed, error) {
	path := fmt.Sprintf("/api/v1/feed/%s?%s", url.PathEscape(address), opts.query())

	var f Feed
	if err := c.do(ctx, http.MethodGet, path, nil, &f, http.StatusOK); err != nil {
		return nil, err
	}
	c.logger.Debug("feed fetched", "address", address, "state", f.State.String())
	return &f, nil
}

// StreamFeed subscribes to a wallet's feed and calls fn with every
// presentation the server pushes, starting with the loading one. It blocks
// until ctx is done, the server closes the stream, or fn returns an error.
func (c *Client) StreamFeed(ctx context.Context, address string, opts FeedOptions, fn func(*Feed) error) error {
	u := fmt.Sprintf("%s/api/v1/stream/feed/%s?%s", c.baseURL, url.PathEscape(address), opts.query())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The configured client may carry a timeout, which would cut the stream.
	streamClient := *c.httpClient
	streamClient.Timeout = 0

	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64<<10), 4<<20)

	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := handleStreamEvent(event, data, fn); err != nil {
				return err
			}
			event, data = "", ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("error reading stream: %w", err)
	}
	return ctx.Err()
}

func handleStreamEvent(event, data string, fn func(*Feed) error) error {
	switch event {
	case "presentation":
		var f Feed
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			return fmt.Errorf("failed to decode presentation: %w", err)
		}
		return fn(&f)
	case "error":
		var e struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return fmt.Errorf("failed to decode stream error: %w", err)
		}
		return fmt.Errorf("stream error: %s", e.Error)
	}
	return nil
}

// RecordsPage is one page of a wallet's stored records.
type RecordsPage struct {
	Records []feed.Record `json:"records"`
	Count   int           `json:"count"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
}

// Records lists a wallet's stored records, newest first.
func (c *Client) Records(ctx context.Context, address string, limit, offset int) (*RecordsPage, error) {
	v := url.Values{}
	v.Set("wallet_address", address)
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		v.Set("offset", strconv.Itoa(offset))
	}

	var page RecordsPage
	if err := c.do(ctx, http.MethodGet, "/api/v1/records?"+v.Encode(), nil, &page, http.StatusOK); err != nil {
		return nil, err
	}
	return &page, nil
}

// Standby submits an optimistic Pending record for a wallet. An empty hash or
// zero timestamp is filled in by the server, which returns the stored record.
func (c *Client) Standby(ctx context.Context, address string, r feed.Record) (*feed.Record, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	if r.Timestamp.IsZero() {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("failed to marshal record: %w", err)
		}
		delete(fields, "timestamp")
		if raw, err = json.Marshal(fields); err != nil {
			return nil, fmt.Errorf("failed to marshal record: %w", err)
		}
	}
	reqBody := struct {
		WalletAddress string          `json:"wallet_address"`
		Record        json.RawMessage `json:"record"`
	}{address, raw}

	var out feed.Record
	if err := c.do(ctx, http.MethodPost, "/api/v1/standby", reqBody, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	c.logger.Debug("standby record submitted", "address", address, "hash", out.Hash)
	return &out, nil
}

// UpsertRecipient stores the display metadata of a counterparty address.
func (c *Client) UpsertRecipient(ctx context.Context, r feed.Recipient) (*feed.Recipient, error) {
	path := "/api/v1/recipients/" + url.PathEscape(r.Address)

	var out feed.Recipient
	if err := c.do(ctx, http.MethodPut, path, r, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
