package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Room is the directory's view of a game room.
type Room struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Location    string `json:"location"`
	PlayerCount int    `json:"playerCount"`
}

// Client is the room-directory HTTP client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a directory client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ListRooms fetches the room directory, optionally filtered near a
// coordinate.
func (c *Client) ListRooms(ctx context.Context, latitude, longitude *float64) ([]Room, error) {
	query := url.Values{}
	if latitude != nil {
		query.Set("latitude", strconv.FormatFloat(*latitude, 'f', -1, 64))
	}
	if longitude != nil {
		query.Set("longitude", strconv.FormatFloat(*longitude, 'f', -1, 64))
	}
	path := "/rooms"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var rooms []Room
	if err := c.get(ctx, path, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// GetRoom fetches one room's detail.
func (c *Client) GetRoom(ctx context.Context, roomID int64) (Room, error) {
	var room Room
	if err := c.get(ctx, fmt.Sprintf("/rooms/%d", roomID), &room); err != nil {
		return Room{}, err
	}
	return room, nil
}

// StartRoom asks the backend to start the game in a room.
func (c *Client) StartRoom(ctx context.Context, roomID int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+fmt.Sprintf("/rooms/%d/start", roomID), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("start room %d: %w", roomID, err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if msg, ok := body["error"]; ok {
		return fmt.Errorf("directory error: %s", msg)
	}
	return fmt.Errorf("directory error: status %d", resp.StatusCode)
}
