package provision

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/HerbHall/fmcpilot/internal/fmc"
)

// ObjectSpec describes a host or network object to ensure on the controller.
type ObjectSpec struct {
	Name  string `mapstructure:"name"`
	Value string `mapstructure:"value"` // IP for hosts, CIDR for networks
}

// InterfaceSpec describes the target configuration of one physical
// interface, keyed by its hardware name (e.g. "GigabitEthernet0/0").
type InterfaceSpec struct {
	Ifname    string `mapstructure:"ifname"` // logical name, e.g. "outside"
	Zone      string `mapstructure:"zone"`   // security zone name
	Address   string `mapstructure:"address"`
	Netmask   string `mapstructure:"netmask"`
	StandbyIP string `mapstructure:"standby_ip"` // standby address for HA monitored interfaces
}

// NATSpec describes the NAT policy and its single auto-NAT rule.
type NATSpec struct {
	PolicyName      string `mapstructure:"policy_name"`
	OriginalNetwork string `mapstructure:"original_network"` // network object name
	SourceZone      string `mapstructure:"source_zone"`
	DestinationZone string `mapstructure:"destination_zone"`
}

// RouteSpec describes the IPv4 default route.
type RouteSpec struct {
	Name          string `mapstructure:"name"`
	InterfaceName string `mapstructure:"interface_name"`  // logical ifname the route egresses
	Network       string `mapstructure:"network"`         // selected network object name (default "any-ipv4")
	Metric        int    `mapstructure:"metric"`
}

// NetConfig is the full network configuration pushed after HA convergence.
type NetConfig struct {
	GatewayHost      ObjectSpec               `mapstructure:"gateway_host"`
	Networks         []ObjectSpec             `mapstructure:"networks"`
	Zones            []string                 `mapstructure:"zones"`
	Interfaces       map[string]InterfaceSpec `mapstructure:"interfaces"`
	DefaultRoute     RouteSpec                `mapstructure:"default_route"`
	NAT              NATSpec                  `mapstructure:"nat"`
	PlatformSettings string                   `mapstructure:"platform_settings"` // existing policy name to assign
}

// Outcome is a single configuration action result handed to the report
// recorder by the orchestrator.
type Outcome struct {
	Action string // e.g. "security_zone"
	Target string
	Status string // "created", "existing", "assigned"
	Detail string
}

// Configurator pushes zones, interfaces, routes, NAT, and platform settings
// onto the HA pair's active member. The standby member is never configured
// directly; HA propagates from active to standby.
type Configurator struct {
	client *fmc.Client
	cfg    NetConfig
	logger *zap.Logger

	objectIDs map[string]string // network object name -> id
	zoneIDs   map[string]string // zone name -> id
	gwHostID  string
}

// NewConfigurator creates a net config pusher.
func NewConfigurator(client *fmc.Client, cfg NetConfig, logger *zap.Logger) *Configurator {
	return &Configurator{
		client:    client,
		cfg:       cfg,
		logger:    logger,
		objectIDs: make(map[string]string),
		zoneIDs:   make(map[string]string),
	}
}

// Configure runs the full configuration sequence against the pair's active
// member and returns the per-resource outcomes. The first error aborts the
// sequence: later stages depend on ids resolved by earlier ones.
func (c *Configurator) Configure(ctx context.Context, pair *HAPair) ([]Outcome, error) {
	var outcomes []Outcome

	out, err := c.ensureObjects(ctx)
	outcomes = append(outcomes, out...)
	if err != nil {
		return outcomes, err
	}

	out, err = c.ensureZones(ctx)
	outcomes = append(outcomes, out...)
	if err != nil {
		return outcomes, err
	}

	out, err = c.configureInterfaces(ctx, pair.ActiveDevice.ID)
	outcomes = append(outcomes, out...)
	if err != nil {
		return outcomes, err
	}

	out, err = c.createDefaultRoute(ctx, pair.ActiveDevice.ID)
	outcomes = append(outcomes, out...)
	if err != nil {
		return outcomes, err
	}

	out, err = c.configureStandbyIPs(ctx, pair.ID)
	outcomes = append(outcomes, out...)
	if err != nil {
		return outcomes, err
	}

	out, err = c.configureNAT(ctx, pair)
	outcomes = append(outcomes, out...)
	if err != nil {
		return outcomes, err
	}

	out, err = c.assignPlatformSettings(ctx, pair)
	outcomes = append(outcomes, out...)
	if err != nil {
		return outcomes, err
	}

	c.logger.Info("network configuration completed", zap.String("pair", pair.Name))
	return outcomes, nil
}

// ensureObjects creates the gateway host object and the network objects,
// skipping exact-match duplicates. A name collision with a different value
// (or a value collision under a different name) is a conflict the pipeline
// cannot resolve and aborts the run.
func (c *Configurator) ensureObjects(ctx context.Context) ([]Outcome, error) {
	var outcomes []Outcome

	networks, err := c.client.ListNetworkObjects(ctx)
	if err != nil {
		return nil, err
	}
	hosts, err := c.client.ListHostObjects(ctx)
	if err != nil {
		return nil, err
	}
	existing := append(networks, hosts...)

	wanted := append([]ObjectSpec{c.cfg.GatewayHost}, c.cfg.Networks...)
	for _, obj := range existing {
		for _, spec := range wanted {
			if obj.Name == spec.Name && obj.Value != spec.Value {
				return outcomes, fmt.Errorf("object conflict: %q exists with value %q, want %q", spec.Name, obj.Value, spec.Value)
			}
			if obj.Value == spec.Value && obj.Name != spec.Name {
				return outcomes, fmt.Errorf("object conflict: value %q already used by %q, want name %q", spec.Value, obj.Name, spec.Name)
			}
		}
	}

	// Gateway host object.
	c.gwHostID = ""
	for _, obj := range hosts {
		if obj.Name == c.cfg.GatewayHost.Name {
			c.gwHostID = obj.ID
			outcomes = append(outcomes, Outcome{Action: "network_object", Target: obj.Name, Status: "existing", Detail: obj.Value})
			break
		}
	}
	if c.gwHostID == "" {
		created, err := c.client.CreateHostObject(ctx, fmc.NetworkObject{
			Name:  c.cfg.GatewayHost.Name,
			Value: c.cfg.GatewayHost.Value,
			Type:  "Host",
		})
		if err != nil {
			return outcomes, &Error{Kind: KindRemoteRejected, Op: "netconfig.objects", Detail: []string{c.cfg.GatewayHost.Name}, Err: err}
		}
		c.gwHostID = created.ID
		c.logger.Info("host object created", zap.String("name", created.Name), zap.String("id", created.ID))
		outcomes = append(outcomes, Outcome{Action: "network_object", Target: created.Name, Status: "created", Detail: created.Value})
	}

	// Network objects, bulk-created in one call.
	existingNet := make(map[string]string, len(networks))
	for _, obj := range networks {
		existingNet[obj.Name] = obj.ID
	}
	var toCreate []fmc.NetworkObject
	for _, spec := range c.cfg.Networks {
		if id, ok := existingNet[spec.Name]; ok {
			c.objectIDs[spec.Name] = id
			outcomes = append(outcomes, Outcome{Action: "network_object", Target: spec.Name, Status: "existing", Detail: spec.Value})
			continue
		}
		toCreate = append(toCreate, fmc.NetworkObject{Name: spec.Name, Value: spec.Value, Type: "Network"})
	}
	if len(toCreate) > 0 {
		created, err := c.client.CreateNetworkObjects(ctx, toCreate)
		if err != nil {
			return outcomes, &Error{Kind: KindRemoteRejected, Op: "netconfig.objects", Err: err}
		}
		for _, obj := range created {
			c.objectIDs[obj.Name] = obj.ID
			c.logger.Info("network object created", zap.String("name", obj.Name), zap.String("id", obj.ID))
			outcomes = append(outcomes, Outcome{Action: "network_object", Target: obj.Name, Status: "created", Detail: obj.Value})
		}
	}

	return outcomes, nil
}

// ensureZones creates the configured security zones, reusing existing ones
// by name.
func (c *Configurator) ensureZones(ctx context.Context) ([]Outcome, error) {
	var outcomes []Outcome

	existing, err := c.client.ListSecurityZones(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]string, len(existing))
	for _, zone := range existing {
		byName[zone.Name] = zone.ID
	}

	for _, name := range c.cfg.Zones {
		if id, ok := byName[name]; ok {
			c.zoneIDs[name] = id
			c.logger.Info("security zone exists, skipping", zap.String("zone", name))
			outcomes = append(outcomes, Outcome{Action: "security_zone", Target: name, Status: "existing", Detail: id})
			continue
		}
		created, err := c.client.CreateSecurityZone(ctx, fmc.SecurityZone{
			Name:          name,
			Type:          "SecurityZone",
			InterfaceMode: "ROUTED",
		})
		if err != nil {
			return outcomes, &Error{Kind: KindRemoteRejected, Op: "netconfig.zones", Detail: []string{name}, Err: err}
		}
		c.zoneIDs[name] = created.ID
		c.logger.Info("security zone created", zap.String("zone", name), zap.String("id", created.ID))
		outcomes = append(outcomes, Outcome{Action: "security_zone", Target: name, Status: "created", Detail: created.ID})
	}

	return outcomes, nil
}

// configureInterfaces assigns logical names, zones, and static addresses to
// the active device's physical interfaces named in the configuration. Each
// interface is fetched in full and PUT back modified, as the controller
// requires.
func (c *Configurator) configureInterfaces(ctx context.Context, deviceID string) ([]Outcome, error) {
	var outcomes []Outcome

	ifaces, err := c.client.ListPhysicalInterfaces(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		spec, ok := c.cfg.Interfaces[iface.Name]
		if !ok {
			continue
		}
		zoneID, ok := c.zoneIDs[spec.Zone]
		if !ok {
			return outcomes, &Error{Kind: KindNotFound, Op: "netconfig.interfaces", Detail: []string{spec.Zone}}
		}

		full, err := c.client.GetPhysicalInterface(ctx, deviceID, iface.ID)
		if err != nil {
			return outcomes, err
		}
		full.Ifname = spec.Ifname
		full.Enabled = true
		full.SecurityZone = &fmc.Reference{ID: zoneID, Type: "SecurityZone"}
		full.IPv4 = &fmc.IPv4Config{Static: &fmc.IPv4Static{Address: spec.Address, Netmask: spec.Netmask}}

		if err := c.client.UpdatePhysicalInterface(ctx, deviceID, full); err != nil {
			return outcomes, &Error{Kind: KindRemoteRejected, Op: "netconfig.interfaces", Detail: []string{iface.Name}, Err: err}
		}
		c.logger.Info("interface configured",
			zap.String("interface", iface.Name),
			zap.String("ifname", spec.Ifname),
			zap.String("address", spec.Address),
		)
		outcomes = append(outcomes, Outcome{
			Action: "interface",
			Target: spec.Ifname,
			Status: "created",
			Detail: spec.Address + "/" + spec.Netmask,
		})
	}

	return outcomes, nil
}

// createDefaultRoute creates the IPv4 default route through the gateway
// host object.
func (c *Configurator) createDefaultRoute(ctx context.Context, deviceID string) ([]Outcome, error) {
	networkName := c.cfg.DefaultRoute.Network
	if networkName == "" {
		networkName = "any-ipv4"
	}

	networks, err := c.client.ListNetworkObjects(ctx)
	if err != nil {
		return nil, err
	}
	var networkID string
	for _, obj := range networks {
		if obj.Name == networkName {
			networkID = obj.ID
			break
		}
	}
	if networkID == "" {
		return nil, &Error{Kind: KindNotFound, Op: "netconfig.route", Detail: []string{networkName}}
	}

	route := fmc.StaticRoute{
		Type:          "IPv4StaticRoute",
		Name:          c.cfg.DefaultRoute.Name,
		InterfaceName: c.cfg.DefaultRoute.InterfaceName,
		Gateway:       &fmc.RouteGateway{Object: &fmc.Reference{ID: c.gwHostID, Type: "Host"}},
		SelectedNetworks: []fmc.Reference{
			{ID: networkID, Type: "Network"},
		},
		MetricValue: c.cfg.DefaultRoute.Metric,
	}
	created, err := c.client.CreateStaticRoute(ctx, deviceID, route)
	if err != nil {
		return nil, &Error{Kind: KindRemoteRejected, Op: "netconfig.route", Detail: []string{route.Name}, Err: err}
	}
	c.logger.Info("static route created", zap.String("name", route.Name), zap.String("id", created.ID))

	return []Outcome{{
		Action: "static_route",
		Target: route.Name,
		Status: "created",
		Detail: networkName + " via " + c.cfg.GatewayHost.Name,
	}}, nil
}

// configureStandbyIPs sets standby addresses on the HA pair's monitored
// interfaces matching configured logical names. Interfaces without an IPv4
// configuration (failover links) are skipped.
func (c *Configurator) configureStandbyIPs(ctx context.Context, haID string) ([]Outcome, error) {
	var outcomes []Outcome

	standby := make(map[string]string)
	for _, spec := range c.cfg.Interfaces {
		if spec.StandbyIP != "" {
			standby[spec.Ifname] = spec.StandbyIP
		}
	}
	if len(standby) == 0 {
		return nil, nil
	}

	monitored, err := c.client.ListMonitoredInterfaces(ctx, haID)
	if err != nil {
		return nil, err
	}
	for _, mon := range monitored {
		ip, ok := standby[mon.Name]
		if !ok {
			continue
		}
		full, err := c.client.GetMonitoredInterface(ctx, haID, mon.ID)
		if err != nil {
			return outcomes, err
		}
		if full.IPv4Configuration == nil {
			c.logger.Warn("monitored interface has no IPv4 configuration, skipping standby IP",
				zap.String("interface", mon.Name),
			)
			continue
		}
		full.IPv4Configuration.StandbyIPv4Address = ip
		if err := c.client.UpdateMonitoredInterface(ctx, haID, full); err != nil {
			return outcomes, &Error{Kind: KindRemoteRejected, Op: "netconfig.standby", Detail: []string{mon.Name}, Err: err}
		}
		c.logger.Info("standby IP configured",
			zap.String("interface", mon.Name),
			zap.String("standby_ip", ip),
		)
		outcomes = append(outcomes, Outcome{Action: "interface", Target: mon.Name, Status: "created", Detail: "standby " + ip})
	}

	return outcomes, nil
}

// configureNAT creates the NAT policy with its auto-NAT rule and assigns the
// policy to the HA pair.
func (c *Configurator) configureNAT(ctx context.Context, pair *HAPair) ([]Outcome, error) {
	var outcomes []Outcome

	policy, err := c.client.CreateNATPolicy(ctx, fmc.NATPolicy{
		Name: c.cfg.NAT.PolicyName,
		Type: "FTDNatPolicy",
	})
	if err != nil {
		return nil, &Error{Kind: KindRemoteRejected, Op: "netconfig.nat", Detail: []string{c.cfg.NAT.PolicyName}, Err: err}
	}
	c.logger.Info("nat policy created", zap.String("name", policy.Name), zap.String("id", policy.ID))
	outcomes = append(outcomes, Outcome{Action: "nat_policy", Target: policy.Name, Status: "created", Detail: policy.ID})

	rule := fmc.AutoNATRule{
		Type:    "FTDAutoNatRule",
		NatType: "DYNAMIC",
	}
	if id, ok := c.objectIDs[c.cfg.NAT.OriginalNetwork]; ok {
		rule.OriginalNetwork = &fmc.Reference{ID: id, Type: "Network"}
	}
	if id, ok := c.zoneIDs[c.cfg.NAT.SourceZone]; ok {
		rule.SourceInterface = &fmc.Reference{ID: id, Type: "SecurityZone"}
	}
	if id, ok := c.zoneIDs[c.cfg.NAT.DestinationZone]; ok {
		rule.DestinationInterface = &fmc.Reference{ID: id, Type: "SecurityZone"}
	}
	createdRule, err := c.client.CreateAutoNATRule(ctx, policy.ID, rule)
	if err != nil {
		return outcomes, &Error{Kind: KindRemoteRejected, Op: "netconfig.nat", Detail: []string{policy.Name}, Err: err}
	}
	outcomes = append(outcomes, Outcome{
		Action: "nat_rule",
		Target: c.cfg.NAT.OriginalNetwork,
		Status: "created",
		Detail: c.cfg.NAT.SourceZone + " -> " + c.cfg.NAT.DestinationZone + " (" + createdRule.ID + ")",
	})

	_, err = c.client.CreatePolicyAssignment(ctx, fmc.PolicyAssignment{
		Type:    "PolicyAssignment",
		Policy:  &fmc.Reference{ID: policy.ID, Type: "FTDNatPolicy", Name: policy.Name},
		Targets: []fmc.Reference{{ID: pair.ActiveDevice.ID, Type: "Device", Name: pair.Name}},
	})
	if err != nil {
		return outcomes, &Error{Kind: KindRemoteRejected, Op: "netconfig.nat", Detail: []string{policy.Name}, Err: err}
	}
	c.logger.Info("nat policy assigned", zap.String("policy", policy.Name), zap.String("pair", pair.Name))

	return outcomes, nil
}

// assignPlatformSettings assigns the named (pre-existing) platform settings
// policy to the HA pair, extending the target list when an assignment for
// that policy already exists.
func (c *Configurator) assignPlatformSettings(ctx context.Context, pair *HAPair) ([]Outcome, error) {
	if c.cfg.PlatformSettings == "" {
		return nil, nil
	}

	policies, err := c.client.ListPlatformSettingsPolicies(ctx)
	if err != nil {
		return nil, err
	}
	var policy *fmc.PlatformSettingsPolicy
	for i := range policies {
		if policies[i].Name == c.cfg.PlatformSettings {
			policy = &policies[i]
			break
		}
	}
	if policy == nil {
		return nil, &Error{Kind: KindNotFound, Op: "netconfig.platform", Detail: []string{c.cfg.PlatformSettings}}
	}

	target := fmc.Reference{ID: pair.ActiveDevice.ID, Type: "Device", Name: pair.Name}

	assignments, err := c.client.ListPolicyAssignments(ctx)
	if err != nil {
		return nil, err
	}
	for _, pa := range assignments {
		if pa.Name != policy.Name {
			continue
		}
		full, err := c.client.GetPolicyAssignment(ctx, pa.ID)
		if err != nil {
			return nil, err
		}
		full.Type = "PolicyAssignment"
		full.Policy = &fmc.Reference{ID: policy.ID, Type: "FTDPlatformSettingsPolicy", Name: policy.Name}
		full.Targets = append(full.Targets, target)
		if _, err := c.client.UpdatePolicyAssignment(ctx, *full); err != nil {
			return nil, &Error{Kind: KindRemoteRejected, Op: "netconfig.platform", Detail: []string{policy.Name}, Err: err}
		}
		c.logger.Info("platform settings assignment extended",
			zap.String("policy", policy.Name),
			zap.String("pair", pair.Name),
		)
		return []Outcome{{Action: "platform_settings", Target: policy.Name, Status: "assigned", Detail: pair.Name}}, nil
	}

	_, err = c.client.CreatePolicyAssignment(ctx, fmc.PolicyAssignment{
		Type:    "PolicyAssignment",
		Policy:  &fmc.Reference{ID: policy.ID, Type: "FTDPlatformSettingsPolicy", Name: policy.Name},
		Targets: []fmc.Reference{target},
	})
	if err != nil {
		return nil, &Error{Kind: KindRemoteRejected, Op: "netconfig.platform", Detail: []string{policy.Name}, Err: err}
	}
	c.logger.Info("platform settings assigned",
		zap.String("policy", policy.Name),
		zap.String("pair", pair.Name),
	)
	return []Outcome{{Action: "platform_settings", Target: policy.Name, Status: "assigned", Detail: pair.Name}}, nil
}
