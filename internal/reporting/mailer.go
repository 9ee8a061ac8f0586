package reporting

import (
	"bytes"
	"fmt"
	"log"
	"net/smtp"
	"time"

	"github.com/hawklight/vulnreport/internal/config"
	"github.com/hawklight/vulnreport/internal/storage"
)

type Mailer struct {
	Config config.EmailConfig
	Store  storage.Store
}

func NewMailer(cfg config.EmailConfig, store storage.Store) *Mailer {
	return &Mailer{
		Config: cfg,
		Store:  store,
	}
}

// SendWeeklyReport emails a plain-text digest of the most recent run:
// severity counts, the riskiest servers, and run metadata.
func (m *Mailer) SendWeeklyReport() error {
	if !m.Config.Enabled {
		return fmt.Errorf("email reporting is disabled")
	}

	run, err := m.Store.GetLatestReportRun()
	if err != nil {
		return fmt.Errorf("loading latest run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("no report runs recorded yet")
	}

	counts, err := m.Store.GetSeverityCounts()
	if err != nil {
		log.Printf("mailer: severity counts unavailable: %v", err)
	}
	risky, err := m.Store.GetTopRiskyServers(10)
	if err != nil {
		log.Printf("mailer: risk ranking unavailable: %v", err)
	}

	date := time.Now().Format("2006-01-02")

	var body bytes.Buffer
	fmt.Fprintf(&body, "Subject: Weekly Vulnerability Digest - %s\n", date)
	body.WriteString("MIME-version: 1.0;\nContent-Type: text/plain; charset=\"UTF-8\";\n\n")

	fmt.Fprintf(&body, "Last sync: %s (%d findings across %d assets)\n\n",
		run.CreatedAt.Format("2006-01-02 15:04"), run.TotalVulns, run.TotalAssets)

	body.WriteString("Open findings by severity:\n")
	for _, sev := range severityDisplay {
		if count := counts[sev]; count > 0 {
			fmt.Fprintf(&body, "  %-10s %d\n", sev, count)
		}
	}

	if len(risky) > 0 {
		body.WriteString("\nHighest-risk servers:\n")
		for _, srv := range risky {
			fmt.Fprintf(&body, "  %-30s score %d (%d critical, %d high)\n",
				srv.Hostname, srv.RiskScore, srv.CriticalCount, srv.HighCount)
		}
	}

	auth := smtp.PlainAuth("", m.Config.Username, m.Config.Password, m.Config.SMTPServer)
	addr := fmt.Sprintf("%s:%d", m.Config.SMTPServer, m.Config.SMTPPort)

	log.Printf("mailer: sending digest to %v via %s", m.Config.ToAddr, addr)
	if err := smtp.SendMail(addr, auth, m.Config.FromAddr, m.Config.ToAddr, body.Bytes()); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	log.Println("mailer: weekly digest sent")
	return nil
}
