// Package bootstrap prepares factory-fresh FTD devices for provisioning:
// an ICMP reachability precheck and the CLI manager enrollment that points
// each device at the FMC.
package bootstrap

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"
)

// PrecheckConfig tunes the reachability precheck.
type PrecheckConfig struct {
	PingCount   int           `mapstructure:"ping_count"`
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
}

// DefaultPrecheckConfig returns the precheck defaults.
func DefaultPrecheckConfig() PrecheckConfig {
	return PrecheckConfig{
		PingCount:   3,
		PingTimeout: 5 * time.Second,
	}
}

// Precheck verifies that every device management address answers ICMP before
// any provisioning call is made. Failing fast here beats a registration
// timeout twenty minutes in.
type Precheck struct {
	cfg    PrecheckConfig
	logger *zap.Logger
}

// NewPrecheck creates a reachability precheck.
func NewPrecheck(cfg PrecheckConfig, logger *zap.Logger) *Precheck {
	return &Precheck{cfg: cfg, logger: logger}
}

// Run pings every host and returns an error naming the unreachable ones.
func (p *Precheck) Run(ctx context.Context, hosts []string) error {
	var unreachable []string
	for _, host := range hosts {
		alive, rtt := p.pingHost(ctx, host)
		if !alive {
			p.logger.Warn("host unreachable", zap.String("host", host))
			unreachable = append(unreachable, host)
			continue
		}
		p.logger.Info("host reachable",
			zap.String("host", host),
			zap.Duration("rtt", rtt),
		)
	}
	if len(unreachable) > 0 {
		return fmt.Errorf("unreachable hosts: %s", strings.Join(unreachable, ", "))
	}
	return nil
}

func (p *Precheck) pingHost(ctx context.Context, host string) (alive bool, rtt time.Duration) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		p.logger.Debug("failed to create pinger", zap.String("host", host), zap.Error(err))
		return false, 0
	}

	pinger.Count = p.cfg.PingCount
	pinger.Timeout = p.cfg.PingTimeout
	pinger.SetPrivileged(runtime.GOOS == "windows")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if runErr := pinger.Run(); runErr != nil {
			p.logger.Debug("ping failed", zap.String("host", host), zap.Error(runErr))
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		pinger.Stop()
		return false, 0
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv > 0 {
		return true, stats.AvgRtt
	}
	return false, 0
}
