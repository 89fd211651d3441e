// Package api consumes the request/response collaborator: room and player
// CRUD plus the leaderboard reads. Failures here never touch gameplay state;
// callers log and move on.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/tdnguyen-dev/numberhunt/internal/protocol"
)

type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func New(baseURL string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// CreatePlayer registers a display name and returns the authoritative
// player record, including the id used for every later join.
func (c *Client) CreatePlayer(ctx context.Context, name string) (protocol.Player, error) {
	var p protocol.Player
	err := c.do(ctx, http.MethodPost, "/player", map[string]string{"name": name}, &p)
	return p, err
}

// ListRooms returns the open rooms with live player counts.
func (c *Client) ListRooms(ctx context.Context) ([]protocol.Room, error) {
	var rooms []protocol.Room
	err := c.do(ctx, http.MethodGet, "/room", nil, &rooms)
	return rooms, err
}

func (c *Client) CreateRoom(ctx context.Context, name string) (protocol.Room, error) {
	var r protocol.Room
	err := c.do(ctx, http.MethodPost, "/room", map[string]string{"name": name}, &r)
	return r, err
}

func (c *Client) DeleteRoom(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodDelete, "/room/"+url.PathEscape(roomID), nil, nil)
}

// RoomLeaderboard returns the full ranking for one room.
func (c *Client) RoomLeaderboard(ctx context.Context, roomID string) ([]protocol.Player, error) {
	var players []protocol.Player
	err := c.do(ctx, http.MethodGet, "/room/"+url.PathEscape(roomID)+"/leaderboard", nil, &players)
	return players, err
}

// TopPlayers returns the global top-5 board.
func (c *Client) TopPlayers(ctx context.Context) ([]protocol.Player, error) {
	var players []protocol.Player
	err := c.do(ctx, http.MethodGet, "/player/top-5-players", nil, &players)
	return players, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Warn("collaborator call failed",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%s %s: status %d: %s", method, endpoint, resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
