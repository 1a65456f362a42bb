package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultAPIBaseURL = "https://api.spotify.com/v1"

	MaxAudioFeatureIDs  = 100
	MaxTracksPerRequest = 100
	MaxRecentlyPlayed   = 50

	maxErrorBodyBytes = 512
)

// Client calls the Web API with a caller-supplied bearer token. It never retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(httpClient *http.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

type Artist struct {
	Name string `json:"name"`
}

type Image struct {
	URL string `json:"url"`
}

type Album struct {
	Name   string  `json:"name"`
	Images []Image `json:"images"`
}

type Track struct {
	ID         string   `json:"id"`
	URI        string   `json:"uri"`
	Name       string   `json:"name"`
	DurationMs int      `json:"duration_ms"`
	Artists    []Artist `json:"artists"`
	Album      Album    `json:"album"`
}

type PlayHistory struct {
	Track    Track     `json:"track"`
	PlayedAt time.Time `json:"played_at"`
}

type AudioFeatures struct {
	ID           string  `json:"id"`
	Tempo        float64 `json:"tempo"`
	Energy       float64 `json:"energy"`
	Danceability float64 `json:"danceability"`
	Valence      float64 `json:"valence"`
	DurationMs   int     `json:"duration_ms"`
}

type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type ExternalURLs struct {
	Spotify string `json:"spotify"`
}

type Playlist struct {
	ID           string       `json:"id"`
	URI          string       `json:"uri"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Public       bool         `json:"public"`
	ExternalURLs ExternalURLs `json:"external_urls"`
}

type CreatePlaylistRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Public      bool   `json:"public"`
}

func (c *Client) RecentlyPlayed(ctx context.Context, accessToken string, limit int) ([]PlayHistory, error) {
	if limit <= 0 || limit > MaxRecentlyPlayed {
		limit = MaxRecentlyPlayed
	}

	var resp struct {
		Items []PlayHistory `json:"items"`
	}
	path := "/me/player/recently-played?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, accessToken, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// AudioFeatures looks up at most MaxAudioFeatureIDs tracks; extra ids are dropped.
// Tracks without features are omitted from the result.
func (c *Client) AudioFeatures(ctx context.Context, accessToken string, ids []string) ([]AudioFeatures, error) {
	if len(ids) == 0 {
		return []AudioFeatures{}, nil
	}
	if len(ids) > MaxAudioFeatureIDs {
		ids = ids[:MaxAudioFeatureIDs]
	}

	var resp struct {
		AudioFeatures []*AudioFeatures `json:"audio_features"`
	}
	path := "/audio-features?ids=" + url.QueryEscape(strings.Join(ids, ","))
	if err := c.do(ctx, http.MethodGet, path, accessToken, nil, &resp); err != nil {
		return nil, err
	}

	features := make([]AudioFeatures, 0, len(resp.AudioFeatures))
	for _, f := range resp.AudioFeatures {
		if f != nil {
			features = append(features, *f)
		}
	}
	return features, nil
}

func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/me", accessToken, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) CreatePlaylist(ctx context.Context, accessToken, userID string, req CreatePlaylistRequest) (*Playlist, error) {
	var playlist Playlist
	path := "/users/" + url.PathEscape(userID) + "/playlists"
	if err := c.do(ctx, http.MethodPost, path, accessToken, req, &playlist); err != nil {
		return nil, err
	}
	return &playlist, nil
}

// AddTracks appends uris in batches of MaxTracksPerRequest.
func (c *Client) AddTracks(ctx context.Context, accessToken, playlistID string, uris []string) error {
	path := "/playlists/" + url.PathEscape(playlistID) + "/tracks"
	for start := 0; start < len(uris); start += MaxTracksPerRequest {
		end := min(start+MaxTracksPerRequest, len(uris))
		body := map[string][]string{"uris": uris[start:end]}
		if err := c.do(ctx, http.MethodPost, path, accessToken, body, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func newAPIError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Body:       string(raw),
		RetryAfter: resp.Header.Get("Retry-After"),
	}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil {
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
