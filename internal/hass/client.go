// Package hass is a small client for the Home Assistant REST API.
package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Entity is one entity as seen through /api/states.
type Entity struct {
	ID           string
	FriendlyName string
	State        string
}

// Domain returns the part of the entity id before the dot.
func (e Entity) Domain() string {
	d, _, _ := strings.Cut(e.ID, ".")
	return d
}

// APIError is a non-2xx response from Home Assistant.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("home assistant %s %s: %d %s", e.Method, e.Path, e.Status, e.Body)
}

// Client talks to one Home Assistant instance using a long-lived access token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient returns a Client for baseURL (e.g. http://homeassistant.local:8123).
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type stateResponse struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// States returns every entity known to Home Assistant.
func (c *Client) States(ctx context.Context) ([]Entity, error) {
	var raw []stateResponse
	if err := c.do(ctx, http.MethodGet, "/api/states", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]Entity, 0, len(raw))
	for _, s := range raw {
		name, _ := s.Attributes["friendly_name"].(string)
		out = append(out, Entity{ID: s.EntityID, FriendlyName: name, State: s.State})
	}
	return out, nil
}

// EntitiesByDomain returns the entities of one domain (light, binary_sensor,
// ...) sorted by id.
func (c *Client) EntitiesByDomain(ctx context.Context, domain string) ([]Entity, error) {
	all, err := c.States(ctx)
	if err != nil {
		return nil, err
	}
	var out []Entity
	for _, e := range all {
		if e.Domain() == domain {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LocationName returns the configured name of the instance.
func (c *Client) LocationName(ctx context.Context) (string, error) {
	var cfg struct {
		LocationName string `json:"location_name"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/config", nil, &cfg); err != nil {
		return "", err
	}
	return cfg.LocationName, nil
}

// Render renders a Jinja template on the Home Assistant side.
func (c *Client) Render(ctx context.Context, tmpl string, vars map[string]any) (string, error) {
	body := map[string]any{"template": tmpl}
	if len(vars) > 0 {
		body["variables"] = vars
	}
	var out []byte
	if err := c.do(ctx, http.MethodPost, "/api/template", body, &out); err != nil {
		return "", err
	}
	return string(out), nil
}

// CallService invokes a service such as automation.reload.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	return c.do(ctx, http.MethodPost, "/api/services/"+domain+"/"+service, data, nil)
}

// ReloadAutomations asks Home Assistant to re-read automations.yaml.
func (c *Client) ReloadAutomations(ctx context.Context) error {
	return c.CallService(ctx, "automation", "reload", nil)
}

// Ping checks that the API is reachable and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/", nil, nil)
}

// do sends a JSON request. out may be nil, a *[]byte for the raw body, or a
// value to JSON-decode into.
func (c *Client) do(ctx context.Context, method, path string, in any, out any) error {
	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	switch v := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*v = body
		return nil
	default:
		if err := json.Unmarshal(body, v); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
		return nil
	}
}
