package provision

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/HerbHall/fmcpilot/internal/bootstrap"
	"github.com/HerbHall/fmcpilot/internal/fmc"
	"github.com/HerbHall/fmcpilot/internal/report"
)

// Pipeline step names. Each maps to one CI stage; "all" chains them in one
// process.
const (
	StepPrecheck  = "precheck"
	StepBootstrap = "bootstrap"
	StepRegister  = "register"
	StepHA        = "ha"
	StepNetconfig = "netconfig"
	StepDeploy    = "deploy"
	StepAll       = "all"
)

// Steps lists the runnable pipeline steps in execution order.
var Steps = []string{StepPrecheck, StepBootstrap, StepRegister, StepHA, StepNetconfig, StepDeploy}

// PipelineConfig aggregates the per-stage configuration.
type PipelineConfig struct {
	Devices      []DeviceSpec
	Registration RegistrationConfig
	HA           HAConfig
	Network      NetConfig
	Deploy       DeployConfig
}

// Pipeline drives the provisioning stages against one FMC. Steps may run in
// a single process ("all") or as separate invocations, one per CI stage; in
// the latter case each step re-resolves its inputs from the controller
// instead of relying on in-process state.
//
// Every step records its outcomes through the Recorder fire-and-forget: a
// recording failure is logged and never fails the step.
type Pipeline struct {
	client   *fmc.Client
	cfg      PipelineConfig
	precheck *bootstrap.Precheck
	manager  *bootstrap.ManagerSetup
	recorder report.Recorder
	runID    string
	logger   *zap.Logger
}

// NewPipeline wires the provisioning stages together.
func NewPipeline(
	client *fmc.Client,
	cfg PipelineConfig,
	precheck *bootstrap.Precheck,
	manager *bootstrap.ManagerSetup,
	recorder report.Recorder,
	runID string,
	logger *zap.Logger,
) *Pipeline {
	if recorder == nil {
		recorder = report.Discard{}
	}
	return &Pipeline{
		client:   client,
		cfg:      cfg,
		precheck: precheck,
		manager:  manager,
		recorder: recorder,
		runID:    runID,
		logger:   logger,
	}
}

// Run executes one named step, or every step in order for "all". The first
// failing step halts the run.
func (p *Pipeline) Run(ctx context.Context, step string) error {
	switch step {
	case StepPrecheck:
		return p.runPrecheck(ctx)
	case StepBootstrap:
		return p.runBootstrap(ctx)
	case StepRegister:
		_, err := p.runRegister(ctx)
		return err
	case StepHA:
		devices, err := p.lookupDevices(ctx)
		if err != nil {
			return err
		}
		_, err = p.runHA(ctx, devices)
		return err
	case StepNetconfig:
		pair, err := p.lookupPair(ctx)
		if err != nil {
			return err
		}
		return p.runNetconfig(ctx, pair)
	case StepDeploy:
		return p.runDeploy(ctx)
	case StepAll:
		return p.runAll(ctx)
	default:
		return fmt.Errorf("unknown step %q (valid: %s, all)", step, strings.Join(Steps, ", "))
	}
}

func (p *Pipeline) runAll(ctx context.Context) error {
	if err := p.runPrecheck(ctx); err != nil {
		return err
	}
	if err := p.runBootstrap(ctx); err != nil {
		return err
	}
	devices, err := p.runRegister(ctx)
	if err != nil {
		return err
	}
	pair, err := p.runHA(ctx, devices)
	if err != nil {
		return err
	}
	if err := p.runNetconfig(ctx, pair); err != nil {
		return err
	}
	return p.runDeploy(ctx)
}

func (p *Pipeline) runPrecheck(ctx context.Context) error {
	hosts := make([]string, 0, len(p.cfg.Devices))
	for _, dev := range p.cfg.Devices {
		hosts = append(hosts, dev.Host)
	}
	if err := p.precheck.Run(ctx, hosts); err != nil {
		p.record(ctx, report.Record{
			Step: StepPrecheck, Action: "device_health", Target: "precheck",
			Status: report.StatusFailed, Detail: err.Error(),
		})
		return fmt.Errorf("precheck: %w", err)
	}
	p.record(ctx, report.Record{
		Step: StepPrecheck, Action: "device_health", Target: "precheck",
		Status: report.StatusSuccess, Detail: fmt.Sprintf("%d hosts reachable", len(hosts)),
	})
	return nil
}

func (p *Pipeline) runBootstrap(ctx context.Context) error {
	for _, dev := range p.cfg.Devices {
		if err := p.manager.Configure(ctx, dev.Host, dev.RegKey); err != nil {
			p.record(ctx, report.Record{
				Step: StepBootstrap, Action: "device_health", Target: dev.Name,
				Status: report.StatusFailed, Detail: err.Error(),
			})
			return fmt.Errorf("bootstrap %s: %w", dev.Name, err)
		}
		p.record(ctx, report.Record{
			Step: StepBootstrap, Action: "device_health", Target: dev.Name,
			Status: report.StatusSuccess, Detail: "manager configured",
		})
	}
	return nil
}

func (p *Pipeline) runRegister(ctx context.Context) (map[string]Device, error) {
	registrar := NewRegistrar(p.client, p.cfg.Registration, p.logger.Named("register"))
	devices, err := registrar.RegisterAndAwaitReady(ctx, p.cfg.Devices)
	if err != nil {
		p.record(ctx, report.Record{
			Step: StepRegister, Action: "device_health", Target: "registration",
			Status: report.StatusFailed, Detail: err.Error(),
		})
		return nil, fmt.Errorf("register: %w", err)
	}
	for _, dev := range devices {
		p.record(ctx, report.Record{
			Step: StepRegister, Action: "device_health", Target: dev.Name,
			Status: report.StatusSuccess,
			Detail: fmt.Sprintf("health=%s deployment=%s", dev.Health, dev.DeploymentStatus),
		})
	}
	return devices, nil
}

func (p *Pipeline) runHA(ctx context.Context, devices map[string]Device) (*HAPair, error) {
	if len(p.cfg.Devices) != 2 {
		return nil, fmt.Errorf("ha: expected exactly 2 devices, got %d", len(p.cfg.Devices))
	}
	primary, ok := devices[p.cfg.Devices[0].Name]
	if !ok {
		return nil, fmt.Errorf("ha: primary device %q not registered", p.cfg.Devices[0].Name)
	}
	secondary, ok := devices[p.cfg.Devices[1].Name]
	if !ok {
		return nil, fmt.Errorf("ha: secondary device %q not registered", p.cfg.Devices[1].Name)
	}

	engine := NewHAEngine(p.client, p.cfg.HA, p.logger.Named("ha"))
	pair, err := engine.CreateAndAwaitActiveStandby(ctx, primary, secondary)
	if err != nil {
		p.record(ctx, report.Record{
			Step: StepHA, Action: "ha_status", Target: engine.PairName(primary),
			Status: report.StatusFailed, Detail: err.Error(),
		})
		return nil, fmt.Errorf("ha: %w", err)
	}
	p.record(ctx, report.Record{
		Step: StepHA, Action: "ha_status", Target: pair.Name,
		Status: report.StatusSuccess,
		Detail: fmt.Sprintf("primary=%s secondary=%s active=%s", pair.PrimaryStatus, pair.SecondaryStatus, pair.ActiveDevice.Name),
	})
	return pair, nil
}

func (p *Pipeline) runNetconfig(ctx context.Context, pair *HAPair) error {
	configurator := NewConfigurator(p.client, p.cfg.Network, p.logger.Named("netconfig"))
	outcomes, err := configurator.Configure(ctx, pair)
	for _, out := range outcomes {
		p.record(ctx, report.Record{
			Step: StepNetconfig, Action: out.Action, Target: out.Target,
			Status: out.Status, Detail: out.Detail,
		})
	}
	if err != nil {
		p.record(ctx, report.Record{
			Step: StepNetconfig, Action: "ha_status", Target: pair.Name,
			Status: report.StatusFailed, Detail: err.Error(),
		})
		return fmt.Errorf("netconfig: %w", err)
	}
	return nil
}

func (p *Pipeline) runDeploy(ctx context.Context) error {
	pairName := p.pairName()
	deployer := NewDeployer(p.client, p.cfg.Deploy, p.logger.Named("deploy"))
	status, err := deployer.TriggerAndAwaitDeployment(ctx, pairName)
	if err != nil {
		p.record(ctx, report.Record{
			Step: StepDeploy, Action: "deployment", Target: pairName,
			Status: report.StatusFailed, Detail: err.Error(),
		})
		return fmt.Errorf("deploy: %w", err)
	}
	if !status.Triggered {
		p.record(ctx, report.Record{
			Step: StepDeploy, Action: "deployment", Target: pairName,
			Status: report.StatusSkipped, Detail: "no pending changeset",
		})
		return nil
	}
	p.record(ctx, report.Record{
		Step: StepDeploy, Action: "deployment", Target: pairName,
		Status: report.StatusSuccess,
		Detail: fmt.Sprintf("device=%s version=%s status=%s", status.DeviceName, status.Version, status.Status),
	})
	return nil
}

// lookupDevices re-resolves the configured devices from the controller
// inventory, for the HA step running as its own process.
func (p *Pipeline) lookupDevices(ctx context.Context) (map[string]Device, error) {
	inventory, err := p.client.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	byName := make(map[string]fmc.DeviceRecord, len(inventory))
	for _, dev := range inventory {
		byName[dev.Name] = dev
	}

	devices := make(map[string]Device, len(p.cfg.Devices))
	for _, spec := range p.cfg.Devices {
		rec, ok := byName[spec.Name]
		if !ok {
			return nil, &Error{Kind: KindNotFound, Op: "pipeline.devices", Detail: []string{spec.Name}}
		}
		devices[spec.Name] = Device{
			Name:             rec.Name,
			ID:               rec.ID,
			Health:           rec.Health(),
			DeploymentStatus: rec.DeploymentStatus,
		}
	}
	return devices, nil
}

// lookupPair re-resolves the converged HA pair from the controller, for the
// netconfig step running as its own process.
func (p *Pipeline) lookupPair(ctx context.Context) (*HAPair, error) {
	pairName := p.pairName()

	pairs, err := p.client.ListHAPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ha pairs: %w", err)
	}
	var pairID string
	for _, pair := range pairs {
		if pair.Name == pairName {
			pairID = pair.ID
			break
		}
	}
	if pairID == "" {
		return nil, &Error{Kind: KindNotFound, Op: "pipeline.hapair", Detail: []string{pairName}}
	}

	detail, err := p.client.GetHAPair(ctx, pairID)
	if err != nil {
		return nil, fmt.Errorf("get ha pair %s: %w", pairName, err)
	}
	pair := &HAPair{ID: pairID, Name: pairName}
	pair.PrimaryStatus, pair.SecondaryStatus = memberStatuses(detail)
	if detail.Metadata != nil && detail.Metadata.PrimaryStatus != nil && detail.Metadata.PrimaryStatus.Device != nil {
		pair.ActiveDevice = *detail.Metadata.PrimaryStatus.Device
	}
	if pair.ActiveDevice.ID == "" {
		return nil, &Error{Kind: KindNotFound, Op: "pipeline.hapair", Detail: []string{pairName + "/primaryStatus"}}
	}
	return pair, nil
}

func (p *Pipeline) pairName() string {
	if p.cfg.HA.PairName != "" {
		return p.cfg.HA.PairName
	}
	if len(p.cfg.Devices) > 0 {
		return p.cfg.Devices[0].Name + "_HA"
	}
	return ""
}

func (p *Pipeline) record(ctx context.Context, rec report.Record) {
	if err := p.recorder.Record(ctx, report.Stamp(rec, p.runID)); err != nil {
		p.logger.Warn("failed to record step outcome",
			zap.String("step", rec.Step),
			zap.String("action", rec.Action),
			zap.Error(err),
		)
	}
}
