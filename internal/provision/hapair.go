package provision

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/fmcpilot/internal/fmc"
)

// HA member runtime states as reported by the controller (compared
// case-insensitively).
const (
	haStatusActive  = "active"
	haStatusStandby = "standby"
	haStatusFailed  = "failed"
)

// HAPair is the converged failover grouping of two registered devices.
type HAPair struct {
	ID              string
	Name            string
	PrimaryStatus   string
	SecondaryStatus string
	// ActiveDevice is the member currently holding the active role
	// (metadata.primaryStatus.device). All subsequent single-device
	// configuration targets this device; HA propagates to the standby.
	ActiveDevice fmc.Reference
}

// HAConfig tunes the HA pair convergence engine.
type HAConfig struct {
	PairName          string        `mapstructure:"pair_name"`          // HA pair name; empty derives "<primary>_HA"
	FailoverInterface string        `mapstructure:"failover_interface"` // interface used for LAN and stateful failover links
	CreateTimeout     time.Duration `mapstructure:"create_timeout"`     // budget for the pair to appear in the collection
	ConvergeTimeout   time.Duration `mapstructure:"converge_timeout"`   // budget for active/standby convergence
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

// DefaultHAConfig matches the reference pipeline's constants.
func DefaultHAConfig() HAConfig {
	return HAConfig{
		CreateTimeout:   30 * time.Minute,
		ConvergeTimeout: 30 * time.Minute,
		PollInterval:    10 * time.Second,
	}
}

// HAEngine creates an FTD HA pair from two registered devices and waits for
// it to converge to active/standby.
type HAEngine struct {
	client *fmc.Client
	cfg    HAConfig
	logger *zap.Logger
	sleep  sleepFunc
}

// NewHAEngine creates an HA pair convergence engine.
func NewHAEngine(client *fmc.Client, cfg HAConfig, logger *zap.Logger) *HAEngine {
	return &HAEngine{client: client, cfg: cfg, logger: logger}
}

// PairName returns the configured pair name, deriving "<primary>_HA" from
// the primary device name when unset.
func (e *HAEngine) PairName(primary Device) string {
	if e.cfg.PairName != "" {
		return e.cfg.PairName
	}
	return primary.Name + "_HA"
}

// CreateAndAwaitActiveStandby builds the HA pair from the two devices,
// submits the creation, and blocks until the pair reaches active/standby.
//
// Convergence has three terminal outcomes: (active, standby) succeeds, a
// failed member is a hard HA failure, and exceeding the budget is a timeout.
// No further progress is possible after any of them.
func (e *HAEngine) CreateAndAwaitActiveStandby(ctx context.Context, primary, secondary Device) (*HAPair, error) {
	primaryIface, err := e.resolveFailoverInterface(ctx, primary)
	if err != nil {
		return nil, err
	}
	secondaryIface, err := e.resolveFailoverInterface(ctx, secondary)
	if err != nil {
		return nil, err
	}

	pairName := e.PairName(primary)
	req := fmc.HAPairRequest{
		Type:      "DeviceHAPair",
		Name:      pairName,
		Primary:   &fmc.Reference{ID: primary.ID, Name: primary.Name},
		Secondary: &fmc.Reference{ID: secondary.ID, Name: secondary.Name},
		HABootstrap: &fmc.HABootstrap{
			LanFailover: &fmc.FailoverLink{
				LogicalName:             "LAN-FAILOVER",
				UseSameLinkForFailovers: true,
				InterfaceObject:         &fmc.Reference{ID: primaryIface, Type: "PhysicalInterface"},
			},
			StatefulFailover: &fmc.FailoverLink{
				LogicalName:             "STATEFUL-FAILOVER",
				UseSameLinkForFailovers: true,
				InterfaceObject:         &fmc.Reference{ID: secondaryIface, Type: "PhysicalInterface"},
			},
		},
	}

	// Creation is asynchronous on the controller; the response body carries
	// a task reference, not the pair. The pair id is resolved by polling the
	// collection below.
	if err := e.client.CreateHAPair(ctx, req); err != nil {
		return nil, &Error{Kind: KindRemoteRejected, Op: "hapair.create", Detail: []string{pairName}, Err: err}
	}
	e.logger.Info("ha pair creation submitted", zap.String("pair", pairName))

	pairID, err := e.awaitAppearance(ctx, pairName)
	if err != nil {
		return nil, err
	}

	return e.awaitConvergence(ctx, pairID, pairName)
}

// resolveFailoverInterface finds the configured failover interface by name
// on the device. Absence is fatal.
func (e *HAEngine) resolveFailoverInterface(ctx context.Context, dev Device) (string, error) {
	ifaces, err := e.client.ListPhysicalInterfaces(ctx, dev.ID)
	if err != nil {
		return "", &Error{Kind: KindTransient, Op: "hapair.interfaces", Err: err}
	}
	for _, iface := range ifaces {
		if iface.Name == e.cfg.FailoverInterface {
			e.logger.Info("failover interface resolved",
				zap.String("device", dev.Name),
				zap.String("interface", iface.Name),
				zap.String("id", iface.ID),
			)
			return iface.ID, nil
		}
	}
	return "", &Error{
		Kind:   KindNotFound,
		Op:     "hapair.interfaces",
		Detail: []string{dev.Name + "/" + e.cfg.FailoverInterface},
	}
}

// awaitAppearance polls the HA pair collection until a pair with the given
// name shows up, then returns its id.
func (e *HAEngine) awaitAppearance(ctx context.Context, pairName string) (string, error) {
	var pairID string

	p := poller{interval: e.cfg.PollInterval, budget: e.cfg.CreateTimeout, sleep: e.sleep}
	err := p.run(ctx, func(ctx context.Context, elapsed time.Duration) (bool, error) {
		pairs, err := e.client.ListHAPairs(ctx)
		if err != nil {
			return false, &Error{Kind: KindTransient, Op: "hapair.appear", Err: err}
		}
		for _, pair := range pairs {
			if pair.Name == pairName {
				pairID = pair.ID
				e.logger.Info("ha pair found", zap.String("pair", pairName), zap.String("id", pairID))
				return true, nil
			}
		}
		e.logger.Info("waiting for ha pair to be created",
			zap.String("pair", pairName),
			zap.Duration("waited", elapsed),
		)
		return false, nil
	})
	if errors.Is(err, errBudgetExceeded) {
		return "", &Error{Kind: KindTimeout, Op: "hapair.appear", Detail: []string{pairName}}
	}
	if err != nil {
		return "", err
	}
	return pairID, nil
}

// awaitConvergence polls the pair detail until the members reach
// active/standby or a member fails.
func (e *HAEngine) awaitConvergence(ctx context.Context, pairID, pairName string) (*HAPair, error) {
	var result *HAPair

	p := poller{interval: e.cfg.PollInterval, budget: e.cfg.ConvergeTimeout, sleep: e.sleep}
	err := p.run(ctx, func(ctx context.Context, elapsed time.Duration) (bool, error) {
		detail, err := e.client.GetHAPair(ctx, pairID)
		if err != nil {
			return false, &Error{Kind: KindTransient, Op: "hapair.converge", Err: err}
		}

		primary, secondary := memberStatuses(detail)
		e.logger.Info("ha pair status",
			zap.String("pair", pairName),
			zap.String("primary", primary),
			zap.String("secondary", secondary),
			zap.Duration("waited", elapsed),
		)

		if primary == haStatusFailed || secondary == haStatusFailed {
			return false, &Error{Kind: KindHAFailed, Op: "hapair.converge", Detail: []string{pairName}}
		}
		if primary == haStatusActive && secondary == haStatusStandby {
			// Everything after convergence targets the active member, so a
			// converged pair without a device ref is unusable.
			if detail.Metadata.PrimaryStatus.Device == nil || detail.Metadata.PrimaryStatus.Device.ID == "" {
				return false, &Error{Kind: KindNotFound, Op: "hapair.converge", Detail: []string{pairName + "/primaryStatus.device"}}
			}
			result = &HAPair{
				ID:              pairID,
				Name:            pairName,
				PrimaryStatus:   primary,
				SecondaryStatus: secondary,
				ActiveDevice:    *detail.Metadata.PrimaryStatus.Device,
			}
			return true, nil
		}
		return false, nil
	})
	if errors.Is(err, errBudgetExceeded) {
		return nil, &Error{Kind: KindTimeout, Op: "hapair.converge", Detail: []string{pairName}}
	}
	if err != nil {
		return nil, err
	}

	e.logger.Info("ha pair converged",
		zap.String("pair", pairName),
		zap.String("active_device", result.ActiveDevice.Name),
	)
	return result, nil
}

// memberStatuses extracts the lowercased member statuses from a pair detail,
// tolerating absent metadata as empty strings.
func memberStatuses(detail *fmc.HAPairDetail) (primary, secondary string) {
	if detail.Metadata == nil {
		return "", ""
	}
	if s := detail.Metadata.PrimaryStatus; s != nil {
		primary = strings.ToLower(s.CurrentStatus)
	}
	if s := detail.Metadata.SecondaryStatus; s != nil {
		secondary = strings.ToLower(s.CurrentStatus)
	}
	return primary, secondary
}
