package report

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrSendFailed wraps any SMTP delivery failure.
var ErrSendFailed = errors.New("report: mail delivery failed")

// localSMTPAddr is used when the set does not name an SMTP host.
const localSMTPAddr = "localhost:25"

// Attachment is one file attached to the report email.
type Attachment struct {
	Filename string
	// ContentType is "application/gzip" for compressed transfer logs,
	// "text/plain" otherwise.
	ContentType string
	Data        []byte
}

// Message is a fully assembled report, ready for delivery.
type Message struct {
	From        string
	To          []string
	Subject     string
	Body        string
	Attachments []Attachment
}

// SMTPConfig carries the delivery knobs of one set.
type SMTPConfig struct {
	// Host is "host" or "host:port"; empty means the local MTA.
	Host     string
	Username string
	Password string
}

// sendMail hands the encoded message to the SMTP transport.
// Overridable in tests.
var sendMail = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	return smtp.SendMail(addr, auth, from, to, msg)
}

// Mailer delivers report messages over SMTP.
type Mailer struct {
	logger *zap.Logger
}

// NewMailer returns a Mailer.
func NewMailer(logger *zap.Logger) *Mailer {
	return &Mailer{logger: logger.Named("mailer")}
}

// Send delivers msg using cfg. A message without recipients is skipped
// silently — mail is optional per set.
func (m *Mailer) Send(msg Message, cfg SMTPConfig) error {
	if len(msg.To) == 0 {
		return nil
	}

	addr := cfg.Host
	if addr == "" {
		addr = localSMTPAddr
	} else if !strings.Contains(addr, ":") {
		addr += ":25"
	}

	var auth smtp.Auth
	if cfg.Username != "" || cfg.Password != "" {
		host := addr[:strings.Index(addr, ":")]
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}

	encoded, err := encodeMessage(msg)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSendFailed, err)
	}

	m.logger.Debug("sending report",
		zap.String("addr", addr),
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject))

	if err := sendMail(addr, auth, msg.From, msg.To, encoded); err != nil {
		return fmt.Errorf("%w: %s", ErrSendFailed, err)
	}
	return nil
}

// BuildMessage assembles the report for one finished set. Each path in
// logPaths becomes an attachment; unreadable logs are skipped with a
// warning so a lost log never blocks the report itself.
func (m *Mailer) BuildMessage(setName string, success bool, from string, to []string, body string, logPaths []string, compressed bool) Message {
	verdict := "OK"
	if !success {
		verdict = "FAILED"
	}

	msg := Message{
		From:    from,
		To:      to,
		Subject: "Backup of " + setName + " " + verdict,
		Body:    body + "\n\nDetailed logs are attached.\n",
	}

	contentType := "text/plain"
	if compressed {
		contentType = "application/gzip"
	}
	for _, path := range logPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			m.logger.Warn("cannot attach transfer log", zap.String("path", path), zap.Error(err))
			continue
		}
		msg.Attachments = append(msg.Attachments, Attachment{
			Filename:    filepath.Base(path),
			ContentType: contentType,
			Data:        data,
		})
	}
	return msg
}

// Report builds and delivers the end-of-set email in one step.
func (m *Mailer) Report(setName string, success bool, from string, to []string, body string, logPaths []string, compressed bool, cfg SMTPConfig) error {
	msg := m.BuildMessage(setName, success, from, to, body, logPaths, compressed)
	return m.Send(msg, cfg)
}

// encodeMessage renders msg as a MIME multipart/mixed message: one inline
// text part followed by one base64 part per attachment.
func encodeMessage(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	mp := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", msg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n", mp.Boundary())
	fmt.Fprintf(&buf, "\r\n")

	textHdr := textproto.MIMEHeader{}
	textHdr.Set("Content-Type", "text/plain; charset=UTF-8")
	part, err := mp.CreatePart(textHdr)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write([]byte(msg.Body)); err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Type", att.ContentType)
		hdr.Set("Content-Transfer-Encoding", "base64")
		hdr.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))
		part, err := mp.CreatePart(hdr)
		if err != nil {
			return nil, err
		}
		enc := base64.NewEncoder(base64.StdEncoding, part)
		if _, err := enc.Write(att.Data); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
	}

	if err := mp.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
