package bootstrap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// FTD CLI markers the enrollment dialogue waits on.
const (
	cliPrompt        = ">"
	confirmPrompt    = "Do you want to continue[yes/no]:"
	managerAccepted  = "successfully"
	managerDuplicate = "already exists"
)

// ManagerConfig holds the device CLI credentials and the FMC the devices
// enroll with.
type ManagerConfig struct {
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"` //nolint:gosec // G101: config field name, not a credential
	Port           int           `mapstructure:"port"`
	FMCHost        string        `mapstructure:"fmc_host"`
	NATID          string        `mapstructure:"nat_id"` // optional, for devices behind NAT
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

// DefaultManagerConfig returns the enrollment defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Port:           22,
		CommandTimeout: 60 * time.Second,
	}
}

// ManagerSetup runs "configure manager add" on an FTD over SSH, answering the
// confirmation prompt, and verifies the manager is listed afterwards. The
// command is idempotent across reruns: a manager that already exists is
// accepted.
type ManagerSetup struct {
	cfg    ManagerConfig
	logger *zap.Logger

	// sshDial is the function used to establish SSH connections.
	// Defaults to ssh.Dial; overridden in tests.
	sshDial func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}

// NewManagerSetup creates a manager enrollment runner.
func NewManagerSetup(cfg ManagerConfig, logger *zap.Logger) *ManagerSetup {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 60 * time.Second
	}
	return &ManagerSetup{cfg: cfg, logger: logger}
}

// Configure enrolls one device with the FMC using its registration key.
func (m *ManagerSetup) Configure(ctx context.Context, host, regKey string) error {
	addr := net.JoinHostPort(host, strconv.Itoa(m.cfg.Port))
	sshConfig := &ssh.ClientConfig{
		User: m.cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(m.cfg.Password),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // G106: factory-fresh devices have unknown host keys
		Timeout:         10 * time.Second,
	}

	dial := m.sshDial
	if dial == nil {
		dial = ssh.Dial
	}
	client, err := dial("tcp", addr, sshConfig)
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("ssh session %s: %w", addr, err)
	}
	defer session.Close()

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm", 24, 80, modes); err != nil {
		return fmt.Errorf("request pty: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := session.Shell(); err != nil {
		return fmt.Errorf("start shell: %w", err)
	}

	dialog := newCLIDialog(stdin, stdout)
	if _, _, err := dialog.waitFor(ctx, m.cfg.CommandTimeout, cliPrompt); err != nil {
		return fmt.Errorf("wait for CLI prompt on %s: %w", host, err)
	}

	cmd := fmt.Sprintf("configure manager add %s %s", m.cfg.FMCHost, regKey)
	if m.cfg.NATID != "" {
		cmd += " " + m.cfg.NATID
	}
	if err := dialog.send(cmd); err != nil {
		return fmt.Errorf("send manager add: %w", err)
	}

	matched, _, err := dialog.waitFor(ctx, m.cfg.CommandTimeout, confirmPrompt, managerAccepted, managerDuplicate)
	if err != nil {
		return fmt.Errorf("manager add on %s: %w", host, err)
	}
	if matched == confirmPrompt {
		if err := dialog.send("yes"); err != nil {
			return fmt.Errorf("confirm manager add: %w", err)
		}
		matched, _, err = dialog.waitFor(ctx, m.cfg.CommandTimeout, managerAccepted, managerDuplicate)
		if err != nil {
			return fmt.Errorf("manager add on %s: %w", host, err)
		}
	}
	if matched == managerDuplicate {
		m.logger.Warn("manager already configured, continuing",
			zap.String("device", host),
			zap.String("fmc", m.cfg.FMCHost),
		)
	} else {
		m.logger.Info("manager configured",
			zap.String("device", host),
			zap.String("fmc", m.cfg.FMCHost),
		)
	}

	// Wait for the prompt to come back before verifying, so "show managers"
	// output is not mixed with leftover command output.
	if _, _, err := dialog.waitFor(ctx, m.cfg.CommandTimeout, cliPrompt); err != nil {
		return fmt.Errorf("wait for CLI prompt on %s: %w", host, err)
	}
	if err := dialog.send("show managers"); err != nil {
		return fmt.Errorf("send show managers: %w", err)
	}
	_, out, err := dialog.waitFor(ctx, m.cfg.CommandTimeout, cliPrompt)
	if err != nil {
		return fmt.Errorf("show managers on %s: %w", host, err)
	}
	if !strings.Contains(out, m.cfg.FMCHost) {
		return fmt.Errorf("manager %s not listed on %s after enrollment", m.cfg.FMCHost, host)
	}
	m.logger.Info("manager enrollment verified", zap.String("device", host))

	_ = dialog.send("exit")
	return nil
}

// cliDialog is a minimal expect-style reader over an interactive shell.
type cliDialog struct {
	in   io.Writer
	data chan []byte
	errc chan error
	buf  bytes.Buffer
}

func newCLIDialog(in io.Writer, out io.Reader) *cliDialog {
	d := &cliDialog{
		in:   in,
		data: make(chan []byte, 16),
		errc: make(chan error, 1),
	}
	go func() {
		b := make([]byte, 4096)
		for {
			n, err := out.Read(b)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, b[:n])
				d.data <- chunk
			}
			if err != nil {
				d.errc <- err
				return
			}
		}
	}()
	return d
}

func (d *cliDialog) send(cmd string) error {
	_, err := io.WriteString(d.in, cmd+"\n")
	return err
}

// waitFor blocks until one of the patterns shows up in the output stream and
// returns the matched pattern plus everything read up through it. Output up
// to the match is consumed; anything past it (a trailing prompt in the same
// chunk) stays buffered for the next wait.
func (d *cliDialog) waitFor(ctx context.Context, timeout time.Duration, patterns ...string) (matched, output string, err error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s := d.buf.String()
		for _, p := range patterns {
			if i := strings.Index(s, p); i >= 0 {
				d.buf.Reset()
				d.buf.WriteString(s[i+len(p):])
				return p, s[:i+len(p)], nil
			}
		}

		select {
		case chunk := <-d.data:
			d.buf.Write(chunk)
		case err := <-d.errc:
			return "", d.buf.String(), fmt.Errorf("cli output closed: %w", err)
		case <-timer.C:
			return "", d.buf.String(), fmt.Errorf("timed out waiting for %q", patterns)
		case <-ctx.Done():
			return "", d.buf.String(), ctx.Err()
		}
	}
}
