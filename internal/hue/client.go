package hue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single bridge request. If the bridge is too busy
// to answer within it the requested color has usually moved on anyway.
const DefaultTimeout = 1 * time.Second

// Client talks to one bridge through the v1 REST API.
//
// None of its methods return errors: every network or HTTP failure is logged
// and reported as false or nil so a caller looping over lights never stops.
type Client struct {
	address    string
	username   string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client for the bridge at address (host or host:port)
// using the given API username.
func NewClient(address, username string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		address:  address,
		username: username,
		timeout:  timeout,
		// Per-request deadlines come from the context
		httpClient: &http.Client{},
	}
}

// Address returns the bridge address
func (c *Client) Address() string {
	return c.address
}

// WithRateLimit caps requests sent to the bridge. Callers block until a
// request is allowed or their context is done. rps <= 0 removes the cap.
func (c *Client) WithRateLimit(rps float64) *Client {
	if rps <= 0 {
		c.limiter = nil
		return c
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return c
}

// Endpoint identifies the bridge and credential pair, used for registry keys.
func (c *Client) Endpoint() string {
	return c.address + "/" + c.username
}

// Close releases idle connections
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) wait(ctx context.Context) bool {
	if c.limiter == nil {
		return true
	}
	if err := c.limiter.Wait(ctx); err != nil {
		log.Debug().Err(err).Str("bridge", c.address).Msg("Rate limiter wait aborted")
		return false
	}
	return true
}

func (c *Client) v1URL(path string) string {
	if path == "" {
		return fmt.Sprintf("http://%s/api/%s", c.address, c.username)
	}
	return fmt.Sprintf("http://%s/api/%s/%s", c.address, c.username, path)
}

func (c *Client) v1Request(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.v1URL(path), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

// Probe checks that the bridge answers for this username.
func (c *Client) Probe(ctx context.Context) bool {
	if !c.wait(ctx) {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.v1Request(ctx, http.MethodGet, "config", nil)
	if err != nil {
		log.Debug().Err(err).Str("bridge", c.address).Msg("Bridge probe failed")
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return isSuccess(resp.StatusCode)
}

// GetAttributes fetches a light's attributes. It returns nil on any failure,
// including a body that is not a light object (the bridge answers unknown
// ids with an error array).
func (c *Client) GetAttributes(ctx context.Context, id string) *huego.Light {
	if !c.wait(ctx) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	path := fmt.Sprintf("lights/%s", id)
	log.Debug().Str("bridge", c.address).Str("path", path).Msg("GET")

	resp, err := c.v1Request(ctx, http.MethodGet, path, nil)
	if err != nil {
		log.Info().Err(err).Str("bridge", c.address).Str("light", id).Msg("Get attributes failed")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Info().Err(err).Str("bridge", c.address).Str("light", id).Msg("Get attributes read failed")
		return nil
	}
	if !isSuccess(resp.StatusCode) {
		log.Debug().Int("status", resp.StatusCode).Str("body", string(body)).Msg("Response error")
		return nil
	}

	var light huego.Light
	if err := json.Unmarshal(body, &light); err != nil {
		log.Debug().Err(err).Str("body", string(body)).Msg("Response is not a light")
		return nil
	}

	return &light
}

// PutState sends a state change to a light and reports whether the bridge
// accepted it.
func (c *Client) PutState(ctx context.Context, id string, state StateUpdate) bool {
	if !c.wait(ctx) {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	bodyBytes, err := json.Marshal(state)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode light state")
		return false
	}

	path := fmt.Sprintf("lights/%s/state", id)
	log.Debug().Str("bridge", c.address).Str("path", path).RawJSON("state", bodyBytes).Msg("PUT")

	resp, err := c.v1Request(ctx, http.MethodPut, path, bytes.NewReader(bodyBytes))
	if err != nil {
		log.Info().Err(err).Str("bridge", c.address).Str("light", id).Msg("Put state failed")
		return false
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !isSuccess(resp.StatusCode) {
		log.Debug().Int("status", resp.StatusCode).Str("body", string(body)).Msg("Response error")
		return false
	}

	log.Debug().Str("body", string(body)).Msg("Response")
	return true
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
