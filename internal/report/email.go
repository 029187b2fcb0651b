package report

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// EmailConfig holds configuration for email report delivery.
type EmailConfig struct {
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"` //nolint:gosec // G101: config field name, not a credential
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
	UseTLS   bool     `mapstructure:"use_tls"`
	Subject  string   `mapstructure:"subject"`
}

// Emailer renders a run's records into the HTML deployment report and sends
// it over SMTP.
type Emailer struct {
	cfg    EmailConfig
	logger *zap.Logger
}

// NewEmailer creates an email report sender.
func NewEmailer(cfg EmailConfig, logger *zap.Logger) *Emailer {
	if cfg.Subject == "" {
		cfg.Subject = "FTD HA Deployment Report"
	}
	return &Emailer{cfg: cfg, logger: logger}
}

// reportSection groups a run's records for one table of the report.
type reportSection struct {
	Title   string
	Records []Record
}

// reportData feeds the HTML template.
type reportData struct {
	RunID       string
	GeneratedAt string
	Sections    []reportSection
}

// Section ordering mirrors the original report layout; the action keys are
// the ones the pipeline steps record.
var sectionOrder = []struct {
	action string
	title  string
}{
	{"device_health", "Device Health Status"},
	{"ha_status", "HA Configuration Status"},
	{"network_object", "Network Objects"},
	{"security_zone", "Security Zones"},
	{"interface", "Interfaces Configured"},
	{"static_route", "Static Routes"},
	{"nat_policy", "NAT Policies"},
	{"nat_rule", "NAT Rules"},
	{"platform_settings", "Platform Settings"},
	{"deployment", "Deployment"},
}

var reportTemplate = template.Must(template.New("report").Parse(`<html>
<body style="font-family: Arial, sans-serif; margin: 20px;">
  <h2 style="color: #2E8B57;">FTD Configuration Report</h2>
  <p>Automated report for pipeline run <strong>{{.RunID}}</strong>, generated {{.GeneratedAt}}.</p>
  {{range .Sections}}
  <h3 style="color: #4682B4;">{{.Title}}</h3>
  <table border="1" cellpadding="8" cellspacing="0" style="border-collapse: collapse; width: 100%; text-align: center;">
    <tr style="background-color: #f0f0f0;">
      <th>Target</th><th>Status</th><th>Detail</th><th>Time</th>
    </tr>
    {{range .Records}}
    <tr>
      <td><strong>{{.Target}}</strong></td>
      <td>{{.Status}}</td>
      <td>{{.Detail}}</td>
      <td>{{.At.Format "2006-01-02 15:04:05"}}</td>
    </tr>
    {{end}}
  </table>
  {{end}}
</body>
</html>
`))

// Render produces the HTML report body for the given records.
func (e *Emailer) Render(runID string, records []Record) (string, error) {
	byAction := make(map[string][]Record)
	for _, rec := range records {
		byAction[rec.Action] = append(byAction[rec.Action], rec)
	}

	data := reportData{
		RunID:       runID,
		GeneratedAt: time.Now().UTC().Format("2006-01-02 15:04:05 MST"),
	}
	for _, sec := range sectionOrder {
		if recs := byAction[sec.action]; len(recs) > 0 {
			data.Sections = append(data.Sections, reportSection{Title: sec.title, Records: recs})
		}
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}

// Send renders and delivers the report for one run.
func (e *Emailer) Send(ctx context.Context, runID string, records []Record) error {
	body, err := e.Render(runID, records)
	if err != nil {
		return err
	}

	msg := e.buildMessage(body)
	addr := net.JoinHostPort(e.cfg.SMTPHost, strconv.Itoa(e.cfg.SMTPPort))

	if err := e.send(ctx, addr, msg); err != nil {
		return fmt.Errorf("send report email: %w", err)
	}
	e.logger.Info("report email sent",
		zap.String("run_id", runID),
		zap.Strings("to", e.cfg.To),
	)
	return nil
}

func (e *Emailer) buildMessage(body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", e.cfg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func (e *Emailer) send(ctx context.Context, addr string, msg []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, e.cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if e.cfg.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: e.cfg.SMTPHost, MinVersion: tls.VersionTLS12}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if e.cfg.Username != "" {
		auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(e.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, to := range e.cfg.To {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", to, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}
