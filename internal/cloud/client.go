package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nerrad567/station-bridge/internal/device"
	"github.com/nerrad567/station-bridge/internal/infrastructure/config"
)

// Token services.
const (
	ServiceIoT    = "iot"
	ServiceGlagol = "glagol"
)

// Default endpoints and limits.
const (
	defaultIoTURL         = "https://iot.quasar.yandex.ru"
	defaultGlagolURL      = "https://quasar.yandex.net"
	defaultRequestTimeout = 10 * time.Second
	defaultLocalPort      = 1961

	// maxBodySize caps how much of a response body is read.
	maxBodySize = 4 << 20

	// maxMessageSize caps the error message carried by a StatusError.
	maxMessageSize = 256
)

// Action is one cloud device action.
type Action struct {
	Type  string      `json:"type"`
	State ActionState `json:"state"`
}

// ActionState is the capability instance and value an action sets.
type ActionState struct {
	Instance string `json:"instance"`
	Value    any    `json:"value"`
}

// ServerAction builds a quasar server action, which makes the speaker
// behave as if it heard value ("text") or speak value ("phrase_action").
func ServerAction(instance, value string) Action {
	return Action{
		Type:  device.CapabilityServerAction,
		State: ActionState{Instance: instance, Value: value},
	}
}

// NetworkInfo is a speaker's local address.
type NetworkInfo struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Platform string `json:"platform"`
}

// TokenProvider supplies access tokens per service.
// Implementations own caching and refresh.
type TokenProvider interface {
	Token(ctx context.Context, service string) (string, error)
}

// Client talks to the cloud control plane over HTTP.
//
// Non-2xx responses become *StatusError and are never retried.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	iotURL     string
	glagolURL  string
	tokens     TokenProvider
	httpClient *http.Client
}

// New creates a Client.
//
// Parameters:
//   - cfg: cloud endpoints and request timeout from config.yaml
//   - tokens: access token source
//
// Returns:
//   - *Client: ready for use
func New(cfg config.CloudConfig, tokens TokenProvider) *Client {
	iotURL := strings.TrimRight(cfg.IoTURL, "/")
	if iotURL == "" {
		iotURL = defaultIoTURL
	}
	glagolURL := strings.TrimRight(cfg.GlagolURL, "/")
	if glagolURL == "" {
		glagolURL = defaultGlagolURL
	}
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Client{
		iotURL:    iotURL,
		glagolURL: glagolURL,
		tokens:    tokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// RunDeviceAction executes actions on a device through the cloud.
func (c *Client) RunDeviceAction(ctx context.Context, deviceID string, actions []Action) error {
	body := struct {
		Actions []Action `json:"actions"`
	}{Actions: actions}

	path := "/m/user/devices/" + url.PathEscape(deviceID) + "/actions"
	return c.do(ctx, http.MethodPost, c.iotURL+path, ServiceIoT, "run device action", body, nil)
}

// Devices returns the device snapshot together with the push feed address.
func (c *Client) Devices(ctx context.Context) (device.DeviceList, error) {
	var resp struct {
		Households []device.Household `json:"households"`
		UpdatesURL string             `json:"updates_url"`
	}
	if err := c.do(ctx, http.MethodGet, c.iotURL+"/m/v3/user/devices", ServiceIoT, "list devices", nil, &resp); err != nil {
		return device.DeviceList{}, err
	}

	return device.DeviceList{
		Devices:    device.Flatten(resp.Households),
		UpdatesURL: resp.UpdatesURL,
	}, nil
}

// Scenarios returns the scenario summaries.
func (c *Client) Scenarios(ctx context.Context) ([]device.ScenarioSummary, error) {
	var resp struct {
		Scenarios []device.ScenarioSummary `json:"scenarios"`
	}
	if err := c.do(ctx, http.MethodGet, c.iotURL+"/m/user/scenarios", ServiceIoT, "list scenarios", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Scenarios, nil
}

// Scenario returns the full record of one scenario.
func (c *Client) Scenario(ctx context.Context, id string) (device.ScenarioDetail, error) {
	var resp struct {
		Scenario device.ScenarioDetail `json:"scenario"`
	}
	path := "/m/v3/user/scenarios/" + url.PathEscape(id) + "/edit"
	if err := c.do(ctx, http.MethodGet, c.iotURL+path, ServiceIoT, "get scenario", nil, &resp); err != nil {
		return device.ScenarioDetail{}, err
	}
	if resp.Scenario.ID == "" {
		resp.Scenario.ID = id
	}
	return resp.Scenario, nil
}

// LocalNetworkInfo returns the local address the backend last saw for a
// speaker. Absent information is reported as ErrNoNetworkInfo.
func (c *Client) LocalNetworkInfo(ctx context.Context, deviceID string) (NetworkInfo, error) {
	var resp struct {
		Devices []struct {
			ID          string `json:"id"`
			Platform    string `json:"platform"`
			NetworkInfo *struct {
				IPAddresses  []string `json:"ip_addresses"`
				ExternalPort int      `json:"external_port"`
			} `json:"networkInfo"`
		} `json:"devices"`
	}
	if err := c.do(ctx, http.MethodGet, c.glagolURL+"/glagol/device_list", ServiceGlagol, "list local devices", nil, &resp); err != nil {
		return NetworkInfo{}, err
	}

	for _, d := range resp.Devices {
		if d.ID != deviceID {
			continue
		}
		if d.NetworkInfo == nil {
			break
		}
		host := pickAddress(d.NetworkInfo.IPAddresses)
		if host == "" {
			break
		}
		port := d.NetworkInfo.ExternalPort
		if port == 0 {
			port = defaultLocalPort
		}
		return NetworkInfo{Host: host, Port: port, Platform: d.Platform}, nil
	}

	return NetworkInfo{}, fmt.Errorf("%w: %s", ErrNoNetworkInfo, deviceID)
}

// DeviceToken fetches a fresh conversation token for a speaker's local channel.
func (c *Client) DeviceToken(ctx context.Context, deviceID, platform string) (string, error) {
	q := url.Values{}
	q.Set("device_id", deviceID)
	q.Set("platform", platform)

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodGet, c.glagolURL+"/glagol/token?"+q.Encode(), ServiceGlagol, "get device token", nil, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("%w: empty device token", ErrBadResponse)
	}
	return resp.Token, nil
}

// HealthCheck verifies the control plane answers authenticated requests.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.Scenarios(ctx)
	return err
}

// do performs one request and decodes the response into out.
func (c *Client) do(ctx context.Context, method, target, service, op string, body, out any) error {
	token, err := c.tokens.Token(ctx, service)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoCredentials, err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encoding body: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRequestFailed, op, err)
	}
	req.Header.Set("Authorization", "OAuth "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRequestFailed, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: %s: reading body: %w", ErrRequestFailed, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Message: truncate(string(data))}
	}

	// The backend also signals failure in-band with 200 OK.
	var envelope struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &envelope); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrBadResponse, op, err)
		}
	}
	if envelope.Status != "" && !strings.EqualFold(envelope.Status, "ok") {
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Message: envelope.Message}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBadResponse, op, err)
	}
	return nil
}

// pickAddress prefers the first IPv4 address.
func pickAddress(addrs []string) string {
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a
		}
	}
	if len(addrs) > 0 {
		return addrs[0]
	}
	return ""
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxMessageSize {
		return s[:maxMessageSize]
	}
	return s
}
