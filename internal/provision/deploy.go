package provision

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/fmcpilot/internal/fmc"
)

// DeployStatus summarizes the outcome of a deployment run.
type DeployStatus struct {
	Triggered  bool   // false when nothing was pending for the pair
	PairName   string
	DeviceID   string // active member the job targeted
	DeviceName string
	Version    string // changeset token that was deployed
	Status     string // terminal controller status (SUCCEEDED), empty for no-op
}

// DeployConfig tunes the deployment monitor.
type DeployConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxWait      time.Duration `mapstructure:"max_wait"`
	Note         string        `mapstructure:"note"` // deployment note attached to the job
}

// DefaultDeployConfig matches the reference pipeline's constants.
func DefaultDeployConfig() DeployConfig {
	return DeployConfig{
		PollInterval: 10 * time.Second,
		MaxWait:      5 * time.Minute,
		Note:         "Final deployment via fmcpilot",
	}
}

// Deployer pushes the pending configuration changeset of an HA pair to its
// active member and monitors the job until it terminates.
type Deployer struct {
	client *fmc.Client
	cfg    DeployConfig
	logger *zap.Logger
	sleep  sleepFunc
}

// NewDeployer creates a deployment monitor.
func NewDeployer(client *fmc.Client, cfg DeployConfig, logger *zap.Logger) *Deployer {
	return &Deployer{client: client, cfg: cfg, logger: logger}
}

// TriggerAndAwaitDeployment deploys the pair's pending changeset, if any.
//
// When the pair has no pending changeset the call is a success no-op: no
// deployment request is submitted. Otherwise the job targets the currently
// active member only; HA replicates the configuration to the standby.
//
// The job is tracked through the shared job-history feed: the most recent
// entry is assumed to be the job just submitted. That assumption breaks if
// another actor deploys concurrently; the pipeline is documented as the sole
// writer of its FMC domain.
func (d *Deployer) TriggerAndAwaitDeployment(ctx context.Context, pairName string) (DeployStatus, error) {
	status := DeployStatus{PairName: pairName}

	deployables, err := d.client.ListDeployableDevices(ctx)
	if err != nil {
		return status, &Error{Kind: KindTransient, Op: "deploy.list", Err: err}
	}

	var version string
	for _, dev := range deployables {
		if dev.Name == pairName {
			version = dev.Version
			break
		}
	}
	if version == "" {
		d.logger.Info("no pending changeset for pair, nothing to deploy",
			zap.String("pair", pairName),
		)
		return status, nil
	}
	status.Version = version

	active, err := d.resolveActiveDevice(ctx, pairName)
	if err != nil {
		return status, err
	}
	status.DeviceID = active.ID
	status.DeviceName = active.Name
	d.logger.Info("deploying pending changeset",
		zap.String("pair", pairName),
		zap.String("active_device", active.Name),
		zap.String("version", version),
	)

	req := fmc.DeploymentRequest{
		Type:           "DeploymentRequest",
		Version:        version,
		ForceDeploy:    true,
		IgnoreWarning:  true,
		DeviceList:     []string{active.ID},
		DeploymentNote: d.cfg.Note,
	}
	code, err := d.client.SubmitDeployment(ctx, req)
	if err != nil || code != http.StatusAccepted {
		return status, &Error{Kind: KindRemoteRejected, Op: "deploy.submit", Detail: []string{pairName}, Err: err}
	}
	status.Triggered = true

	final, err := d.awaitJob(ctx, active.ID)
	if err != nil {
		return status, err
	}
	status.Status = final
	return status, nil
}

// resolveActiveDevice re-fetches the HA pair detail and returns the member
// currently holding the active role.
func (d *Deployer) resolveActiveDevice(ctx context.Context, pairName string) (fmc.Reference, error) {
	pairs, err := d.client.ListHAPairs(ctx)
	if err != nil {
		return fmc.Reference{}, &Error{Kind: KindTransient, Op: "deploy.hapair", Err: err}
	}
	var pairID string
	for _, pair := range pairs {
		if pair.Name == pairName {
			pairID = pair.ID
			break
		}
	}
	if pairID == "" {
		return fmc.Reference{}, &Error{Kind: KindNotFound, Op: "deploy.hapair", Detail: []string{pairName}}
	}

	detail, err := d.client.GetHAPair(ctx, pairID)
	if err != nil {
		return fmc.Reference{}, &Error{Kind: KindTransient, Op: "deploy.hapair", Err: err}
	}
	if detail.Metadata == nil || detail.Metadata.PrimaryStatus == nil || detail.Metadata.PrimaryStatus.Device == nil {
		return fmc.Reference{}, &Error{Kind: KindNotFound, Op: "deploy.hapair", Detail: []string{pairName + "/primaryStatus"}}
	}
	return *detail.Metadata.PrimaryStatus.Device, nil
}

// awaitJob polls the job-history feed until the most recent entry reports a
// terminal status for the target device. Transient fetch errors are
// swallowed and count as one elapsed interval: long deployments routinely
// outlast brief controller unavailability.
func (d *Deployer) awaitJob(ctx context.Context, deviceID string) (string, error) {
	var final string

	p := poller{interval: d.cfg.PollInterval, budget: d.cfg.MaxWait, sleep: d.sleep}
	err := p.run(ctx, func(ctx context.Context, elapsed time.Duration) (bool, error) {
		jobs, err := d.client.ListJobHistories(ctx)
		if err != nil {
			d.logger.Warn("job history fetch failed, retrying", zap.Error(err))
			return false, nil
		}
		if len(jobs) == 0 {
			return false, nil
		}

		for _, dev := range jobs[0].DeviceList {
			if dev.DeviceUUID != deviceID {
				continue
			}
			d.logger.Info("deployment status",
				zap.String("device", dev.DeviceName),
				zap.String("status", dev.DeploymentStatus),
				zap.Duration("waited", elapsed),
			)
			switch dev.DeploymentStatus {
			case fmc.JobSucceeded:
				final = dev.DeploymentStatus
				return true, nil
			case fmc.JobFailed:
				return false, &Error{Kind: KindDeployFailed, Op: "deploy.monitor", Detail: []string{dev.DeviceName}}
			}
		}
		return false, nil
	})
	if errors.Is(err, errBudgetExceeded) {
		return "", &Error{Kind: KindTimeout, Op: "deploy.monitor"}
	}
	if err != nil {
		return "", err
	}
	return final, nil
}
