package main

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	"net/smtp"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/icloud-photos-downloader/icloudpd-go/internal/config"
)

const notificationSubject = "icloudpd: Two step authentication has expired"

// notifyExpiredSession tells the operator that an unattended run needs a
// fresh interactive login. The notification script and the email are
// independent channels; failures are logged, not fatal, because the run is
// already exiting.
func notifyExpiredSession(s *config.Settings, logger *slog.Logger) {
	if s.SMTP.NotificationScript != "" {
		if err := runNotificationScript(s.SMTP.NotificationScript); err != nil {
			logger.Warn("notification script failed", "script", s.SMTP.NotificationScript, "error", err)
		}
	}

	if s.SMTP.Username == "" && s.SMTP.NotificationEmail == "" {
		return
	}

	if err := sendExpiryMail(s.SMTP); err != nil {
		logger.Warn("could not send notification email", "error", err)
	}
}

// runNotificationScript executes the configured command with output passed
// through to stderr.
func runNotificationScript(script string) error {
	cmd := exec.Command(script)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	return cmd.Run()
}

// sendExpiryMail delivers the expiry notice over SMTP. STARTTLS is on
// unless no_tls is set; authentication happens only when credentials are
// configured.
func sendExpiryMail(smtpCfg config.SMTPConfig) error {
	to := smtpCfg.NotificationEmail
	if to == "" {
		to = smtpCfg.Username
	}

	from := smtpCfg.NotificationEmailFrom
	if from == "" {
		from = fmt.Sprintf("iCloud Photos Downloader <%s>", smtpCfg.Username)
	}

	addr := net.JoinHostPort(smtpCfg.Host, strconv.Itoa(smtpCfg.Port))

	c, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer c.Close()

	if !smtpCfg.NoTLS {
		if err := c.StartTLS(&tls.Config{ServerName: smtpCfg.Host}); err != nil {
			return fmt.Errorf("starting TLS: %w", err)
		}
	}

	if smtpCfg.Username != "" && smtpCfg.Password != "" {
		auth := smtp.PlainAuth("", smtpCfg.Username, smtpCfg.Password, smtpCfg.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(envelopeAddress(from)); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}

	if err := c.Rcpt(envelopeAddress(to)); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}

	if _, err := w.Write(buildNotification(from, to, time.Now())); err != nil {
		w.Close()

		return fmt.Errorf("writing message: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("finishing message: %w", err)
	}

	return c.Quit()
}

// buildNotification renders the message with headers.
func buildNotification(from, to string, now time.Time) []byte {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nDate: %s\r\n\r\n"+
		"Hello,\r\n\r\n"+
		"Two-step authentication has expired for the icloudpd script.\r\n"+
		"Please log in to your server and run the script manually to update two-step authentication.\r\n",
		from, to, notificationSubject, now.Format(time.RFC1123Z))

	return []byte(msg)
}

// envelopeAddress strips a display name ("Name <addr>") down to the bare
// address SMTP envelopes require.
func envelopeAddress(s string) string {
	if a, err := mail.ParseAddress(s); err == nil {
		return a.Address
	}

	return s
}
