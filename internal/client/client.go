// Package client is a Go SDK for the room rotation API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/flowrooms/server/internal/models"
)

// APIError is the decoded error envelope of a failed request. It is wrapped
// in a *models.Error so callers can switch on models.KindOf.
type APIError struct {
	Status    int    `json:"-"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return models.Unavailable(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}

func decodeError(op string, resp *http.Response) error {
	var env struct {
		Error APIError `json:"error"`
	}
	apiErr := &env.Error
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil || apiErr.Code == "" {
		apiErr.Code = http.StatusText(resp.StatusCode)
		apiErr.Retryable = resp.StatusCode >= 500
	}
	apiErr.Status = resp.StatusCode

	kind := models.ParseKind(apiErr.Code)
	if kind == models.KindUnknown {
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			kind = models.KindRateLimited
		case resp.StatusCode >= 500:
			kind = models.KindBackendUnavailable
		}
	}
	return &models.Error{Kind: kind, Op: op, Message: apiErr.Message, Err: apiErr}
}

func roomPath(roomID, suffix string) string {
	return "/api/rooms/" + url.PathEscape(roomID) + suffix
}

func (c *Client) NextRoom(ctx context.Context, fromSeq int64) (models.NextRoomResult, error) {
	var res models.NextRoomResult
	err := c.do(ctx, "client.next_room", http.MethodPost, "/api/rooms/next?from_seq="+strconv.FormatInt(fromSeq, 10), nil, &res)
	return res, err
}

func (c *Client) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	var room models.Room
	err := c.do(ctx, "client.get_room", http.MethodGet, roomPath(roomID, ""), nil, &room)
	return room, err
}

func (c *Client) Join(ctx context.Context, roomID string) (models.Room, error) {
	var room models.Room
	err := c.do(ctx, "client.join", http.MethodPost, roomPath(roomID, "/join"), nil, &room)
	return room, err
}

func (c *Client) Leave(ctx context.Context, roomID string) error {
	return c.do(ctx, "client.leave", http.MethodDelete, roomPath(roomID, "/leave"), nil, nil)
}

// CurrentRoom returns nil when the caller holds no room.
func (c *Client) CurrentRoom(ctx context.Context) (*models.Room, error) {
	var room models.Room
	err := c.do(ctx, "client.current_room", http.MethodGet, "/api/rooms/current", nil, &room)
	if models.KindOf(err) == models.KindNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *Client) Messages(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	var out []models.Message
	path := roomPath(roomID, "/messages?limit="+strconv.Itoa(limit))
	err := c.do(ctx, "client.messages", http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) MessagesAfter(ctx context.Context, roomID string, afterID int64, limit int) ([]models.Message, error) {
	var out []models.Message
	path := roomPath(roomID, "/messages?after="+strconv.FormatInt(afterID, 10)+"&limit="+strconv.Itoa(limit))
	err := c.do(ctx, "client.messages_after", http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) Send(ctx context.Context, roomID, body string) (models.Message, error) {
	var msg models.Message
	err := c.do(ctx, "client.send", http.MethodPost, roomPath(roomID, "/messages"), map[string]string{"body": body}, &msg)
	return msg, err
}

func (c *Client) Heartbeat(ctx context.Context, roomID string) error {
	return c.do(ctx, "client.heartbeat", http.MethodPost, roomPath(roomID, "/heartbeat"), nil, nil)
}

func (c *Client) Occupants(ctx context.Context, roomID string) ([]models.PresenceEntry, error) {
	var out []models.PresenceEntry
	err := c.do(ctx, "client.occupants", http.MethodGet, roomPath(roomID, "/occupants"), nil, &out)
	return out, err
}

// ErrEndOfFlow is returned by FindAndJoin when no room can be offered.
var ErrEndOfFlow = errors.New("end of flow")

const maxJoinAttempts = 3

// FindAndJoin asks for the next room after fromSeq and joins it. A room that
// fills up between the two calls is skipped and the next one requested.
func (c *Client) FindAndJoin(ctx context.Context, fromSeq int64) (models.Room, error) {
	var lastErr error
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		res, err := c.NextRoom(ctx, fromSeq)
		if err != nil {
			return models.Room{}, err
		}
		if res.IsEndOfFlow || res.Room == nil {
			return models.Room{}, ErrEndOfFlow
		}
		room, err := c.Join(ctx, res.Room.ID)
		if err == nil {
			return room, nil
		}
		if models.KindOf(err) != models.KindCapacityExceeded {
			return models.Room{}, err
		}
		lastErr = err
	}
	return models.Room{}, lastErr
}
