package fmc

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config holds the FMC connection configuration.
type Config struct {
	Host            string        `mapstructure:"host"`               // FMC address (host or host:port)
	Username        string        `mapstructure:"username"`           // API user
	Password        string        `mapstructure:"password"`           // API password
	Domain          string        `mapstructure:"domain"`             // FMC domain (default: "default")
	Timeout         time.Duration `mapstructure:"timeout"`            // per-request timeout (default: 30s)
	RequestsPerMin  int           `mapstructure:"requests_per_min"`   // client-side rate limit (default: 110)
}

// DefaultConfig returns a Config with sensible defaults. Host is empty,
// meaning the client is unusable until configured.
func DefaultConfig() Config {
	return Config{
		Domain:         "default",
		Timeout:        30 * time.Second,
		RequestsPerMin: 110,
	}
}

// Client wraps the FMC REST API. All configuration calls are scoped to one
// FMC domain. TLS certificate verification is disabled: FMC appliances ship
// with self-signed certificates.
//
// FMC enforces 120 requests per minute per token, so every request passes
// through a client-side rate limiter before dispatch.
type Client struct {
	httpClient *http.Client
	baseURL    string
	domain     string
	username   string
	password   string
	token      string
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a new FMC API client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Domain == "" {
		cfg.Domain = "default"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerMin <= 0 {
		cfg.RequestsPerMin = 110
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
					//nolint:gosec // G402: FMC appliances use self-signed certificates.
					InsecureSkipVerify: true,
				},
			},
		},
		baseURL:  "https://" + strings.TrimRight(cfg.Host, "/"),
		domain:   cfg.Domain,
		username: cfg.Username,
		password: cfg.Password,
		limiter:  rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMin)/60.0), 1),
		logger:   logger,
	}
}

// Login authenticates against the platform API and stores the session token.
// The token is carried as the X-auth-access-token header on all later calls.
func (c *Client) Login(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	url := c.baseURL + "/api/fmc_platform/v1/auth/generatetoken"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("create token request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("generate token returned %d: %s", resp.StatusCode, string(body))
	}

	token := resp.Header.Get("X-auth-access-token")
	if token == "" {
		return fmt.Errorf("authentication token not found in response headers")
	}
	c.token = token

	c.logger.Info("FMC authentication succeeded", zap.String("host", c.baseURL))
	return nil
}

// Token returns the current session token.
func (c *Client) Token() string { return c.token }

// SetToken installs a previously obtained session token, skipping Login.
func (c *Client) SetToken(token string) { c.token = token }

// configPath builds a domain-scoped configuration API path.
func (c *Client) configPath(suffix string) string {
	return "/api/fmc_config/v1/domain/" + c.domain + suffix
}

// doJSON performs a rate-limited request with JSON (de)serialization.
// Responses with status >= 400 become errors carrying the body text.
// Returns the response status code for callers that distinguish 202.
func (c *Client) doJSON(ctx context.Context, method, path string, body, result interface{}) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("X-auth-access-token", c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("fmc API %s %s returned %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return resp.StatusCode, fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return resp.StatusCode, nil
}

// ListAccessPolicies retrieves all access control policies in the domain.
func (c *Client) ListAccessPolicies(ctx context.Context) ([]AccessPolicy, error) {
	var resp ListResponse[AccessPolicy]
	if _, err := c.doJSON(ctx, http.MethodGet, c.configPath("/policy/accesspolicies"), nil, &resp); err != nil {
		return nil, fmt.Errorf("list access policies: %w", err)
	}
	return resp.Items, nil
}

// RegisterDevice submits a device registration. FMC answers 202 when the
// registration task is accepted; the returned status lets the caller treat
// anything else as a per-device submission failure without aborting a batch.
func (c *Client) RegisterDevice(ctx context.Context, reg DeviceRegistration) (int, error) {
	return c.doJSON(ctx, http.MethodPost, c.configPath("/devices/devicerecords"), reg, nil)
}

// ListDevices retrieves the device inventory.
func (c *Client) ListDevices(ctx context.Context) ([]DeviceRecord, error) {
	var resp ListResponse[DeviceRecord]
	if _, err := c.doJSON(ctx, http.MethodGet, c.configPath("/devices/devicerecords"), nil, &resp); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return resp.Items, nil
}

// GetDevice retrieves the per-device detail, including health and deployment
// status.
func (c *Client) GetDevice(ctx context.Context, id string) (*DeviceRecord, error) {
	var dev DeviceRecord
	if _, err := c.doJSON(ctx, http.MethodGet, c.configPath("/devices/devicerecords/"+id), nil, &dev); err != nil {
		return nil, fmt.Errorf("get device %s: %w", id, err)
	}
	return &dev, nil
}

// ListPhysicalInterfaces retrieves the physical interfaces of a device.
func (c *Client) ListPhysicalInterfaces(ctx context.Context, deviceID string) ([]PhysicalInterface, error) {
	path := c.configPath("/devices/devicerecords/" + deviceID + "/physicalinterfaces")
	var resp ListResponse[PhysicalInterface]
	if _, err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list interfaces for device %s: %w", deviceID, err)
	}
	return resp.Items, nil
}

// GetPhysicalInterface retrieves one physical interface in full.
func (c *Client) GetPhysicalInterface(ctx context.Context, deviceID, interfaceID string) (*PhysicalInterface, error) {
	path := c.configPath("/devices/devicerecords/" + deviceID + "/physicalinterfaces/" + interfaceID)
	var iface PhysicalInterface
	if _, err := c.doJSON(ctx, http.MethodGet, path, nil, &iface); err != nil {
		return nil, fmt.Errorf("get interface %s: %w", interfaceID, err)
	}
	return &iface, nil
}

// UpdatePhysicalInterface PUTs a modified physical interface back.
func (c *Client) UpdatePhysicalInterface(ctx context.Context, deviceID string, iface *PhysicalInterface) error {
	path := c.configPath("/devices/devicerecords/" + deviceID + "/physicalinterfaces/" + iface.ID)
	if _, err := c.doJSON(ctx, http.MethodPut, path, iface, nil); err != nil {
		return fmt.Errorf("update interface %s: %w", iface.ID, err)
	}
	return nil
}

// CreateHAPair submits an HA pair creation request. The response body is not
// used: pair creation is asynchronous and the pair id is resolved by polling
// the collection.
func (c *Client) CreateHAPair(ctx context.Context, req HAPairRequest) error {
	if _, err := c.doJSON(ctx, http.MethodPost, c.configPath("/devicehapairs/ftddevicehapairs"), req, nil); err != nil {
		return fmt.Errorf("create ha pair %q: %w", req.Name, err)
	}
	return nil
}

// ListHAPairs retrieves the HA pair collection.
func (c *Client) ListHAPairs(ctx context.Context) ([]HAPairRecord, error) {
	var resp ListResponse[HAPairRecord]
	if _, err := c.doJSON(ctx, http.MethodGet, c.configPath("/devicehapairs/ftddevicehapairs"), nil, &resp); err != nil {
		return nil, fmt.Errorf("list ha pairs: %w", err)
	}
	return resp.Items, nil
}

// GetHAPair retrieves the per-pair detail, including runtime member statuses.
func (c *Client) GetHAPair(ctx context.Context, id string) (*HAPairDetail, error) {
	var pair HAPairDetail
	if _, err := c.doJSON(ctx, http.MethodGet, c.configPath("/devicehapairs/ftddevicehapairs/"+id), nil, &pair); err != nil {
		return nil, fmt.Errorf("get ha pair %s: %w", id, err)
	}
	return &pair, nil
}

// ListMonitoredInterfaces retrieves the interfaces monitored by an HA pair.
func (c *Client) ListMonitoredInterfaces(ctx context.Context, haID string) ([]MonitoredInterface, error) {
	path := c.configPath("/devicehapairs/ftddevicehapairs/" + haID + "/monitoredinterfaces")
	var resp ListResponse[MonitoredInterface]
	if _, err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list monitored interfaces: %w", err)
	}
	return resp.Items, nil
}

// GetMonitoredInterface retrieves one HA monitored interface in full.
func (c *Client) GetMonitoredInterface(ctx context.Context, haID, interfaceID string) (*MonitoredInterface, error) {
	path := c.configPath("/devicehapairs/ftddevicehapairs/" + haID + "/monitoredinterfaces/" + interfaceID)
	var iface MonitoredInterface
	if _, err := c.doJSON(ctx, http.MethodGet, path, nil, &iface); err != nil {
		return nil, fmt.Errorf("get monitored interface %s: %w", interfaceID, err)
	}
	return &iface, nil
}

// UpdateMonitoredInterface PUTs a modified HA monitored interface back.
func (c *Client) UpdateMonitoredInterface(ctx context.Context, haID string, iface *MonitoredInterface) error {
	path := c.configPath("/devicehapairs/ftddevicehapairs/" + haID + "/monitoredinterfaces/" + iface.ID)
	if _, err := c.doJSON(ctx, http.MethodPut, path, iface, nil); err != nil {
		return fmt.Errorf("update monitored interface %s: %w", iface.ID, err)
	}
	return nil
}

// ListHostObjects retrieves all host objects (expanded, so values are
// present).
func (c *Client) ListHostObjects(ctx context.Context) ([]NetworkObject, error) {
	var resp ListResponse[NetworkObject]
	if _, err := c.doJSON(ctx, http.MethodGet, c.configPath("/object/hosts?expanded=true"), nil, &resp); err != nil {
		return nil, fmt.Errorf("list host objects: %w", err)
	}
	return resp.Items, nil
}

// CreateHostObject creates a host object and returns it with its id.
func (c *Client) CreateHostObject(ctx context.Context, obj NetworkObject) (*NetworkObject, error) {
	var created NetworkObject
	if _, err := c.doJSON(ctx, http.MethodPost, c.configPath("/object/hosts"), obj, &created); err != nil {
		return nil, fmt.Errorf("create host object %q: %w", obj.Name, err)
	}
	return &created, nil
}

// ListNetworkObjects retrieves all network objects (expanded).
func (c *Client) ListNetworkObjects(ctx context.Context) ([]NetworkObject, error) {
	var resp ListResponse[NetworkObject]
	if _, err := c.doJSON(ctx, http.MethodGet, c.configPath("/object/networks?expanded=true"), nil, &resp); err != nil {
		return nil, fmt.Errorf("list network objects: %w", err)
	}
	return resp.Items, nil
}

// CreateNetworkObjects bulk-creates network objects and returns the created
// records with their ids.
func (c *Client) CreateNetworkObjects(ctx context.Context, objs []NetworkObject) ([]NetworkObject, error) {
	var resp ListResponse[NetworkObject]
	if _, err := c.doJSON(ctx, http.MethodPost, c.configPath("/object/networks?bulk=true"), objs, &resp); err != nil {
		return nil, fmt.Errorf("create network objects: %w", err)
	}
	return resp.Items, nil
}

// ListSecurityZones retrieves all security zones.
func (c *Client) ListSecurityZones(ctx context.Context) ([]SecurityZone, error) {
	var resp ListResponse[SecurityZone]
	if _, err := c.doJSON(ctx, http.MethodGet, c.configPath("/object/securityzones"), nil, &resp); err != nil {
		return nil, fmt.Errorf("list security zones: %w", err)
	}
	return resp.Items, nil
}

// CreateSecurityZone creates a security zone and returns it with its id.
func (c *Client) CreateSecurityZone(ctx context.Context, zone SecurityZone) (*SecurityZone, error) {
	var created SecurityZone
	if _, err := c.doJSON(ctx, http.MethodPost, c.configPath("/object/securityzones"), zone, &created); err != nil {
		return nil, fmt.Errorf("create security zone %q: %w", zone.Name, err)
	}
	return &created, nil
}

// CreateStaticRoute creates an IPv4 static route on a device.
func (c *Client) CreateStaticRoute(ctx context.Context, deviceID string, route StaticRoute) (*StaticRoute, error) {
	path := c.configPath("/devices/devicerecords/" + deviceID + "/routing/ipv4staticroutes")
	var created StaticRoute
	if _, err := c.doJSON(ctx, http.MethodPost, path, route, &created); err != nil {
		return nil, fmt.Errorf("create static route: %w", err)
	}
	return &created, nil
}

// CreateNATPolicy creates an FTD NAT policy.
func (c *Client) CreateNATPolicy(ctx context.Context, policy NATPolicy) (*NATPolicy, error) {
	var created NATPolicy
	if _, err := c.doJSON(ctx, http.MethodPost, c.configPath("/policy/ftdnatpolicies"), policy, &created); err != nil {
		return nil, fmt.Errorf("create nat policy %q: %w", policy.Name, err)
	}
	return &created, nil
}

// CreateAutoNATRule creates an auto-NAT rule inside a NAT policy.
func (c *Client) CreateAutoNATRule(ctx context.Context, policyID string, rule AutoNATRule) (*AutoNATRule, error) {
	path := c.configPath("/policy/ftdnatpolicies/" + policyID + "/autonatrules")
	var created AutoNATRule
	if _, err := c.doJSON(ctx, http.MethodPost, path, rule, &created); err != nil {
		return nil, fmt.Errorf("create auto-nat rule: %w", err)
	}
	return &created, nil
}

// ListPlatformSettingsPolicies retrieves all FTD platform settings policies.
func (c *Client) ListPlatformSettingsPolicies(ctx context.Context) ([]PlatformSettingsPolicy, error) {
	var resp ListResponse[PlatformSettingsPolicy]
	if _, err := c.doJSON(ctx, http.MethodGet, c.configPath("/policy/ftdplatformsettingspolicies"), nil, &resp); err != nil {
		return nil, fmt.Errorf("list platform settings policies: %w", err)
	}
	return resp.Items, nil
}

// ListPolicyAssignments retrieves all policy assignments.
func (c *Client) ListPolicyAssignments(ctx context.Context) ([]PolicyAssignment, error) {
	var resp ListResponse[PolicyAssignment]
	if _, err := c.doJSON(ctx, http.MethodGet, c.configPath("/assignment/policyassignments"), nil, &resp); err != nil {
		return nil, fmt.Errorf("list policy assignments: %w", err)
	}
	return resp.Items, nil
}

// GetPolicyAssignment retrieves one policy assignment with its target list.
func (c *Client) GetPolicyAssignment(ctx context.Context, id string) (*PolicyAssignment, error) {
	var pa PolicyAssignment
	if _, err := c.doJSON(ctx, http.MethodGet, c.configPath("/assignment/policyassignments/"+id), nil, &pa); err != nil {
		return nil, fmt.Errorf("get policy assignment %s: %w", id, err)
	}
	return &pa, nil
}

// CreatePolicyAssignment assigns a policy to a set of targets.
func (c *Client) CreatePolicyAssignment(ctx context.Context, pa PolicyAssignment) (*PolicyAssignment, error) {
	var created PolicyAssignment
	if _, err := c.doJSON(ctx, http.MethodPost, c.configPath("/assignment/policyassignments"), pa, &created); err != nil {
		return nil, fmt.Errorf("create policy assignment: %w", err)
	}
	return &created, nil
}

// UpdatePolicyAssignment PUTs a modified policy assignment back.
func (c *Client) UpdatePolicyAssignment(ctx context.Context, pa PolicyAssignment) (*PolicyAssignment, error) {
	var updated PolicyAssignment
	if _, err := c.doJSON(ctx, http.MethodPut, c.configPath("/assignment/policyassignments/"+pa.ID), pa, &updated); err != nil {
		return nil, fmt.Errorf("update policy assignment %s: %w", pa.ID, err)
	}
	return &updated, nil
}

// ListDeployableDevices retrieves devices with pending configuration
// changesets.
func (c *Client) ListDeployableDevices(ctx context.Context) ([]DeployableDevice, error) {
	var resp ListResponse[DeployableDevice]
	if _, err := c.doJSON(ctx, http.MethodGet, c.configPath("/deployment/deployabledevices"), nil, &resp); err != nil {
		return nil, fmt.Errorf("list deployable devices: %w", err)
	}
	return resp.Items, nil
}

// SubmitDeployment posts a deployment request. FMC answers 202 when the job
// is accepted; the status is returned so the caller can reject anything else.
func (c *Client) SubmitDeployment(ctx context.Context, req DeploymentRequest) (int, error) {
	return c.doJSON(ctx, http.MethodPost, c.configPath("/deployment/deploymentrequests"), req, nil)
}

// ListJobHistories retrieves the deployment job history feed, most recent
// first.
func (c *Client) ListJobHistories(ctx context.Context) ([]DeploymentJob, error) {
	var resp ListResponse[DeploymentJob]
	if _, err := c.doJSON(ctx, http.MethodGet, c.configPath("/deployment/jobhistories?expanded=true"), nil, &resp); err != nil {
		return nil, fmt.Errorf("list job histories: %w", err)
	}
	return resp.Items, nil
}
