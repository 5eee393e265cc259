// Package heroku is a thin JSON client for the platform control-plane API:
// maintenance mode, process formation, add-on provisioning, and config vars.
//
// Every method is a single synchronous request/response; failures come back
// as plain errors wrapped with the operation that failed. Timeouts are the
// client's responsibility, not the caller's.
package heroku

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultBaseURL is the production control-plane endpoint.
const DefaultBaseURL = "https://api.heroku.com"

// ErrAddonExists is returned by ProvisionAddon when the add-on (or one of
// the same type) is already installed on the app. Callers that only need
// the capability to exist treat it as success.
var ErrAddonExists = errors.New("add-on already installed")

// AddonProvision is the response to an add-on provisioning request. Message
// is the human-readable attachment notice, e.g.
// "Attached as HEROKU_POSTGRESQL_CRIMSON".
type AddonProvision struct {
	Message string `json:"message"`
}

// attachedRe matches the config-var name inside an attachment message.
var attachedRe = regexp.MustCompile(`Attached as (\w+)`)

// AttachmentVar extracts the config-var name a provisioned add-on was
// attached as. ok is false when the message carries no attachment notice.
func AttachmentVar(message string) (name string, ok bool) {
	m := attachedRe.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Client talks to the control-plane API over HTTPS.
type Client struct {
	http *resty.Client
}

// NewClient builds a Client authenticated with the given API key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30 * time.Second).
			SetHeader("Accept", "application/json").
			SetHeader("Content-Type", "application/json").
			SetAuthToken(apiKey),
	}
}

// SetMaintenance toggles maintenance mode for the app.
func (c *Client) SetMaintenance(ctx context.Context, app string, on bool) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]bool{"maintenance": on}).
		Patch("/apps/" + app)
	if err != nil {
		return fmt.Errorf("heroku: set maintenance on %s: %w", app, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("heroku: set maintenance on %s: %s", app, resp.String())
	}
	return nil
}

// Formation returns the app's process-type to instance-count mapping.
func (c *Client) Formation(ctx context.Context, app string) (map[string]int, error) {
	var out []struct {
		Type     string `json:"type"`
		Quantity int    `json:"quantity"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/apps/" + app + "/formation")
	if err != nil {
		return nil, fmt.Errorf("heroku: get formation for %s: %w", app, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("heroku: get formation for %s: %s", app, resp.String())
	}

	counts := make(map[string]int, len(out))
	for _, f := range out {
		counts[f.Type] = f.Quantity
	}
	return counts, nil
}

// Scale sets the instance count for one process type.
func (c *Client) Scale(ctx context.Context, app, process string, quantity int) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]int{"quantity": quantity}).
		Patch("/apps/" + app + "/formation/" + process)
	if err != nil {
		return fmt.Errorf("heroku: scale %s.%s to %d: %w", app, process, quantity, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("heroku: scale %s.%s to %d: %s", app, process, quantity, resp.String())
	}
	return nil
}

// ProvisionAddon installs an add-on plan on the app. When the control plane
// reports the add-on as already installed, ErrAddonExists is returned.
func (c *Client) ProvisionAddon(ctx context.Context, app, plan string) (AddonProvision, error) {
	var out AddonProvision
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"plan": plan}).
		SetResult(&out).
		Post("/apps/" + app + "/addons")
	if err != nil {
		return AddonProvision{}, fmt.Errorf("heroku: provision %s on %s: %w", plan, app, err)
	}
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusCreated:
		return out, nil
	case http.StatusUnprocessableEntity:
		if strings.Contains(strings.ToLower(resp.String()), "already installed") {
			return AddonProvision{}, ErrAddonExists
		}
	}
	return AddonProvision{}, fmt.Errorf("heroku: provision %s on %s: %s", plan, app, resp.String())
}

// ConfigVars returns the app's full config-var mapping.
func (c *Client) ConfigVars(ctx context.Context, app string) (map[string]string, error) {
	var out map[string]string
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/apps/" + app + "/config-vars")
	if err != nil {
		return nil, fmt.Errorf("heroku: get config vars for %s: %w", app, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("heroku: get config vars for %s: %s", app, resp.String())
	}
	return out, nil
}

// SetConfigVars writes the given config vars; vars not named are untouched.
func (c *Client) SetConfigVars(ctx context.Context, app string, vars map[string]string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(vars).
		Patch("/apps/" + app + "/config-vars")
	if err != nil {
		return fmt.Errorf("heroku: set config vars for %s: %w", app, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("heroku: set config vars for %s: %s", app, resp.String())
	}
	return nil
}
