package fmc

// FMC REST API request/response types. These mirror the Firepower Management
// Center configuration API entity shapes used by the provisioning pipeline.

// Reference is the generic {id, type, name} object reference used across
// FMC payloads.
type Reference struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type,omitempty"`
	Name string `json:"name,omitempty"`
}

// ListResponse is the generic paginated envelope returned by FMC list
// endpoints. A missing "items" key decodes as an empty slice.
type ListResponse[T any] struct {
	Items  []T     `json:"items"`
	Paging *Paging `json:"paging,omitempty"`
}

// Paging carries FMC list pagination metadata.
type Paging struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Count  int `json:"count"`
	Pages  int `json:"pages"`
}

// HealthStatus is the controller-reported device health.
type HealthStatus string

const (
	HealthGreen     HealthStatus = "green"
	HealthYellow    HealthStatus = "yellow"
	HealthRed       HealthStatus = "red"
	HealthRecovered HealthStatus = "recovered"
	HealthUnknown   HealthStatus = "unknown"
)

// Device deployment statuses reported on device records.
const (
	DeploymentDeployed    = "DEPLOYED"
	DeploymentNotDeployed = "NOT_DEPLOYED"
)

// AccessPolicy is an access control policy record.
type AccessPolicy struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// DeviceRegistration is the payload for registering an FTD device.
type DeviceRegistration struct {
	Name         string     `json:"name"`
	HostName     string     `json:"hostName"`
	RegKey       string     `json:"regKey"`
	Type         string     `json:"type"`
	LicenseCaps  []string   `json:"license_caps,omitempty"`
	AccessPolicy *Reference `json:"accessPolicy,omitempty"`
}

// DeviceRecord is a registered device as returned by the inventory and
// per-device detail endpoints.
type DeviceRecord struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Type             string `json:"type,omitempty"`
	HostName         string `json:"hostName,omitempty"`
	HealthStatus     string `json:"healthStatus,omitempty"`
	DeploymentStatus string `json:"deploymentStatus,omitempty"`
}

// Health normalizes the record's health status, mapping anything the
// controller reports outside the known set to HealthUnknown.
func (d *DeviceRecord) Health() HealthStatus {
	switch HealthStatus(d.HealthStatus) {
	case HealthGreen, HealthYellow, HealthRed, HealthRecovered:
		return HealthStatus(d.HealthStatus)
	default:
		return HealthUnknown
	}
}

// IPv4Static is a static IPv4 interface address.
type IPv4Static struct {
	Address string `json:"address"`
	Netmask string `json:"netmask"`
}

// IPv4Config wraps the interface IPv4 addressing mode.
type IPv4Config struct {
	Static *IPv4Static `json:"static,omitempty"`
}

// PhysicalInterface is a device physical interface. GET returns the full
// object; the same shape (minus links/metadata, which are not modeled) is
// PUT back to configure it.
type PhysicalInterface struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Type         string      `json:"type,omitempty"`
	Ifname       string      `json:"ifname,omitempty"`
	Enabled      bool        `json:"enabled"`
	MTU          int         `json:"MTU,omitempty"`
	Mode         string      `json:"mode,omitempty"`
	SecurityZone *Reference  `json:"securityZone,omitempty"`
	IPv4         *IPv4Config `json:"ipv4,omitempty"`
}

// FailoverLink describes one side of the HA bootstrap (LAN or stateful).
type FailoverLink struct {
	LogicalName             string     `json:"logicalName,omitempty"`
	UseSameLinkForFailovers bool       `json:"useSameLinkForFailovers"`
	StandbyIP               string     `json:"standbyIP,omitempty"`
	ActiveIP                string     `json:"activeIP,omitempty"`
	SubnetMask              string     `json:"subnetMask,omitempty"`
	InterfaceObject         *Reference `json:"interfaceObject,omitempty"`
}

// HABootstrap carries the failover link configuration for HA pair creation.
type HABootstrap struct {
	IsEncryptionEnabled bool          `json:"isEncryptionEnabled"`
	LanFailover         *FailoverLink `json:"lanFailover,omitempty"`
	StatefulFailover    *FailoverLink `json:"statefulFailover,omitempty"`
}

// HAPairRequest is the payload for creating an FTD device HA pair.
type HAPairRequest struct {
	Type        string       `json:"type"`
	Name        string       `json:"name"`
	Primary     *Reference   `json:"primary"`
	Secondary   *Reference   `json:"secondary"`
	HABootstrap *HABootstrap `json:"ftdHABootstrap,omitempty"`
}

// HAPairRecord is an HA pair as listed by the collection endpoint.
type HAPairRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// HAMemberStatus is the runtime state of one HA member.
type HAMemberStatus struct {
	CurrentStatus string     `json:"currentStatus,omitempty"`
	Device        *Reference `json:"device,omitempty"`
}

// HAMetadata carries the runtime failover state of an HA pair.
type HAMetadata struct {
	PrimaryStatus   *HAMemberStatus `json:"primaryStatus,omitempty"`
	SecondaryStatus *HAMemberStatus `json:"secondaryStatus,omitempty"`
}

// HAPairDetail is the per-pair detail, including runtime member statuses.
type HAPairDetail struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Type     string      `json:"type,omitempty"`
	Metadata *HAMetadata `json:"metadata,omitempty"`
}

// MonitoredIPv4 is the IPv4 configuration of an HA monitored interface.
// StandbyIPv4Address is the field the pipeline sets.
type MonitoredIPv4 struct {
	ActiveIPv4Address  string `json:"activeIPv4Address,omitempty"`
	ActiveIPv4Mask     string `json:"activeIPv4Mask,omitempty"`
	StandbyIPv4Address string `json:"standbyIPv4Address,omitempty"`
}

// MonitoredInterface is an interface monitored by an HA pair.
type MonitoredInterface struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Type               string         `json:"type,omitempty"`
	MonitorForFailures bool           `json:"monitorForFailures"`
	IPv4Configuration  *MonitoredIPv4 `json:"ipv4Configuration,omitempty"`
}

// NetworkObject is a host or network object. Type distinguishes "Host"
// from "Network".
type NetworkObject struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Value       string `json:"value"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// SecurityZone is a security zone object.
type SecurityZone struct {
	ID            string `json:"id,omitempty"`
	Name          string `json:"name"`
	Type          string `json:"type,omitempty"`
	InterfaceMode string `json:"interfaceMode,omitempty"`
}

// RouteGateway wraps the gateway host object of a static route.
type RouteGateway struct {
	Object *Reference `json:"object,omitempty"`
}

// StaticRoute is an IPv4 static route payload.
type StaticRoute struct {
	ID               string        `json:"id,omitempty"`
	Type             string        `json:"type"`
	Name             string        `json:"name,omitempty"`
	InterfaceName    string        `json:"interfaceName,omitempty"`
	Gateway          *RouteGateway `json:"gateway,omitempty"`
	SelectedNetworks []Reference   `json:"selectedNetworks,omitempty"`
	MetricValue      int           `json:"metricValue,omitempty"`
}

// NATPolicy is an FTD NAT policy.
type NATPolicy struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// AutoNATRule is an auto-NAT rule within a NAT policy.
type AutoNATRule struct {
	ID                   string     `json:"id,omitempty"`
	Type                 string     `json:"type"`
	NatType              string     `json:"natType"`
	InterfaceIPv6        bool       `json:"interfaceIpv6"`
	FallThrough          bool       `json:"fallThrough"`
	OriginalNetwork      *Reference `json:"originalNetwork,omitempty"`
	SourceInterface      *Reference `json:"sourceInterface,omitempty"`
	DestinationInterface *Reference `json:"destinationInterface,omitempty"`
}

// PolicyAssignment binds a policy to a set of device targets.
type PolicyAssignment struct {
	ID      string      `json:"id,omitempty"`
	Type    string      `json:"type"`
	Name    string      `json:"name,omitempty"`
	Policy  *Reference  `json:"policy,omitempty"`
	Targets []Reference `json:"targets,omitempty"`
}

// PlatformSettingsPolicy is an FTD platform settings policy record.
type PlatformSettingsPolicy struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// DeployableDevice is a device (or HA pair) with a pending configuration
// changeset. Version is the controller-internal changeset token used when
// submitting the deployment.
type DeployableDevice struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Type    string `json:"type,omitempty"`
}

// DeploymentRequest submits a pending changeset to a set of devices.
type DeploymentRequest struct {
	Type           string   `json:"type"`
	Version        string   `json:"version"`
	ForceDeploy    bool     `json:"forceDeploy"`
	IgnoreWarning  bool     `json:"ignoreWarning"`
	DeviceList     []string `json:"deviceList"`
	DeploymentNote string   `json:"deploymentNote,omitempty"`
}

// Deployment job statuses reported in job history device entries.
const (
	JobQueued     = "QUEUED"
	JobInProgress = "IN_PROGRESS"
	JobDeploying  = "DEPLOYING"
	JobSucceeded  = "SUCCEEDED"
	JobFailed     = "FAILED"
)

// JobDevice is one device entry inside a deployment job history record.
type JobDevice struct {
	DeviceUUID       string `json:"deviceUUID"`
	DeviceName       string `json:"deviceName,omitempty"`
	DeploymentStatus string `json:"deploymentStatus,omitempty"`
}

// DeploymentJob is one entry in the deployment job history feed. The feed is
// ordered most-recent first.
type DeploymentJob struct {
	ID         string      `json:"id,omitempty"`
	DeviceList []JobDevice `json:"deviceList,omitempty"`
}
