package provision

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/fmcpilot/internal/fmc"
)

// DeviceSpec is an operator-supplied device descriptor.
type DeviceSpec struct {
	Name   string `mapstructure:"name"`    // device name, unique within the run
	Host   string `mapstructure:"host"`    // management address
	RegKey string `mapstructure:"reg_key"` // registration key configured on the device
}

// Device is a registered device with its controller-assigned identity.
type Device struct {
	Name             string
	ID               string
	Health           fmc.HealthStatus
	DeploymentStatus string
}

// Ready reports whether the device has converged to a usable state:
// healthy (green, yellow, or recovered) and fully deployed. It is a pure
// function of the two status fields.
func (d Device) Ready() bool {
	switch d.Health {
	case fmc.HealthGreen, fmc.HealthYellow, fmc.HealthRecovered:
		return d.DeploymentStatus == fmc.DeploymentDeployed
	default:
		return false
	}
}

// RegistrationConfig tunes the registration waiter.
type RegistrationConfig struct {
	AccessPolicy     string        `mapstructure:"access_policy"`      // named access control policy stamped on every registration
	LicenseCaps      []string      `mapstructure:"license_caps"`       // license capabilities requested per device
	AppearTimeout    time.Duration `mapstructure:"appear_timeout"`     // hard budget for devices to appear in inventory
	AppearInterval   time.Duration `mapstructure:"appear_interval"`    // inventory poll interval
	ReadyInterval    time.Duration `mapstructure:"ready_interval"`     // readiness poll interval
	ReadySoftCeiling time.Duration `mapstructure:"ready_soft_ceiling"` // past this, each poll logs a warning
	ReadyHardTimeout time.Duration `mapstructure:"ready_hard_timeout"` // 0 disables the hard budget (warn-only)
}

// DefaultRegistrationConfig matches the reference pipeline's constants.
func DefaultRegistrationConfig() RegistrationConfig {
	return RegistrationConfig{
		AccessPolicy:     "Initial_policy",
		LicenseCaps:      []string{"BASE", "MALWARE", "URLFilter", "THREAT"},
		AppearTimeout:    10 * time.Minute,
		AppearInterval:   10 * time.Second,
		ReadyInterval:    30 * time.Second,
		ReadySoftCeiling: 30 * time.Minute,
		ReadyHardTimeout: 2 * time.Hour,
	}
}

// Registrar submits device registrations and waits for the devices to appear
// in the controller inventory and converge to a ready state.
type Registrar struct {
	client *fmc.Client
	cfg    RegistrationConfig
	logger *zap.Logger
	sleep  sleepFunc
}

// NewRegistrar creates a registration waiter.
func NewRegistrar(client *fmc.Client, cfg RegistrationConfig, logger *zap.Logger) *Registrar {
	return &Registrar{client: client, cfg: cfg, logger: logger}
}

// RegisterAndAwaitReady registers the given devices and blocks until every
// one of them is present in the inventory and ready, or a terminal condition
// is reached.
//
// Submission failures for individual devices are logged but do not abort the
// batch: a device that never registered simply never appears in the
// inventory and surfaces through the appearance timeout.
func (r *Registrar) RegisterAndAwaitReady(ctx context.Context, specs []DeviceSpec) (map[string]Device, error) {
	policyID, err := r.resolveAccessPolicy(ctx)
	if err != nil {
		return nil, err
	}

	for _, spec := range specs {
		reg := fmc.DeviceRegistration{
			Name:        spec.Name,
			HostName:    spec.Host,
			RegKey:      spec.RegKey,
			Type:        "Device",
			LicenseCaps: r.cfg.LicenseCaps,
			AccessPolicy: &fmc.Reference{
				ID:   policyID,
				Type: "AccessPolicy",
			},
		}
		status, err := r.client.RegisterDevice(ctx, reg)
		if err != nil || status != http.StatusAccepted {
			r.logger.Warn("device registration not accepted",
				zap.String("device", spec.Name),
				zap.Int("status", status),
				zap.Error(err),
			)
			continue
		}
		r.logger.Info("device registration submitted", zap.String("device", spec.Name))
	}

	expected := make([]string, 0, len(specs))
	for _, spec := range specs {
		expected = append(expected, spec.Name)
	}

	found, err := r.awaitAppearance(ctx, expected)
	if err != nil {
		return nil, err
	}

	return r.awaitReady(ctx, expected, found)
}

// resolveAccessPolicy finds the configured access control policy by name.
// Absence is fatal and non-retryable.
func (r *Registrar) resolveAccessPolicy(ctx context.Context) (string, error) {
	policies, err := r.client.ListAccessPolicies(ctx)
	if err != nil {
		return "", &Error{Kind: KindTransient, Op: "registration.policy", Err: err}
	}
	for _, p := range policies {
		if p.Name == r.cfg.AccessPolicy {
			r.logger.Info("access policy resolved",
				zap.String("policy", p.Name),
				zap.String("id", p.ID),
			)
			return p.ID, nil
		}
	}
	return "", &Error{Kind: KindNotFound, Op: "registration.policy", Detail: []string{r.cfg.AccessPolicy}}
}

// awaitAppearance polls the inventory until every expected name is present.
// Returns name -> controller id for the discovered devices.
func (r *Registrar) awaitAppearance(ctx context.Context, expected []string) (map[string]string, error) {
	found := make(map[string]string, len(expected))
	var lastMissing []string

	p := poller{interval: r.cfg.AppearInterval, budget: r.cfg.AppearTimeout, sleep: r.sleep}
	err := p.run(ctx, func(ctx context.Context, elapsed time.Duration) (bool, error) {
		devices, err := r.client.ListDevices(ctx)
		if err != nil {
			return false, &Error{Kind: KindTransient, Op: "registration.appear", Err: err}
		}
		for _, dev := range devices {
			found[dev.Name] = dev.ID
		}
		lastMissing = missingNames(expected, found)
		if len(lastMissing) == 0 {
			r.logger.Info("all devices present in inventory")
			return true, nil
		}
		r.logger.Info("waiting for devices to appear",
			zap.Strings("missing", lastMissing),
			zap.Duration("waited", elapsed),
		)
		return false, nil
	})
	if errors.Is(err, errBudgetExceeded) {
		return nil, &Error{Kind: KindTimeout, Op: "registration.appear", Detail: lastMissing}
	}
	if err != nil {
		return nil, err
	}
	return found, nil
}

// awaitReady polls per-device detail until every expected device is ready.
// A device that disappears from inventory after having been seen aborts the
// wait; a device reporting red/NOT_DEPLOYED is a warning and keeps polling.
func (r *Registrar) awaitReady(ctx context.Context, expected []string, found map[string]string) (map[string]Device, error) {
	ready := make(map[string]Device, len(expected))
	warned := false

	p := poller{interval: r.cfg.ReadyInterval, budget: r.cfg.ReadyHardTimeout, sleep: r.sleep}
	err := p.run(ctx, func(ctx context.Context, elapsed time.Duration) (bool, error) {
		devices, err := r.client.ListDevices(ctx)
		if err != nil {
			return false, &Error{Kind: KindTransient, Op: "registration.ready", Err: err}
		}

		present := make(map[string]string, len(devices))
		for _, dev := range devices {
			present[dev.Name] = dev.ID
		}
		if vanished := missingNames(expected, present); len(vanished) > 0 {
			return false, &Error{Kind: KindPartiallyVanished, Op: "registration.ready", Detail: vanished}
		}

		for _, name := range expected {
			if _, ok := ready[name]; ok {
				continue
			}
			detail, err := r.client.GetDevice(ctx, present[name])
			if err != nil {
				return false, &Error{Kind: KindTransient, Op: "registration.ready", Err: err}
			}
			dev := Device{
				Name:             name,
				ID:               detail.ID,
				Health:           detail.Health(),
				DeploymentStatus: detail.DeploymentStatus,
			}
			r.logger.Info("device status",
				zap.String("device", name),
				zap.String("health", string(dev.Health)),
				zap.String("deployment", dev.DeploymentStatus),
			)
			if dev.Ready() {
				ready[name] = dev
				continue
			}
			if dev.Health == fmc.HealthRed && dev.DeploymentStatus == fmc.DeploymentNotDeployed {
				r.logger.Warn("device registered but not deployed, still waiting",
					zap.String("device", name),
				)
			}
		}

		if len(ready) == len(expected) {
			r.logger.Info("all devices ready and deployed")
			return true, nil
		}
		if r.cfg.ReadySoftCeiling > 0 && elapsed > r.cfg.ReadySoftCeiling && !warned {
			warned = true
			r.logger.Warn("devices taking longer than expected to become ready",
				zap.Duration("waited", elapsed),
			)
		}
		return false, nil
	})
	if errors.Is(err, errBudgetExceeded) {
		return nil, &Error{Kind: KindTimeout, Op: "registration.ready", Detail: missingFromReady(expected, ready)}
	}
	if err != nil {
		return nil, err
	}
	return ready, nil
}

// missingNames returns the expected names absent from present, sorted.
func missingNames(expected []string, present map[string]string) []string {
	var missing []string
	for _, name := range expected {
		if _, ok := present[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

func missingFromReady(expected []string, ready map[string]Device) []string {
	var missing []string
	for _, name := range expected {
		if _, ok := ready[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
