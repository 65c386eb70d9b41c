package push

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/smtp"
	"regexp"
	"strings"

	"arxivd/config"
)

// EmailChannel sends the digest as a multipart/alternative message
// with a plain text part and a minimal HTML rendering of the Markdown.
type EmailChannel struct {
	cfg    config.EmailConfig
	logger *log.Logger
}

func NewEmailChannel(cfg config.EmailConfig, logger *log.Logger) *EmailChannel {
	return &EmailChannel{cfg: cfg, logger: logger}
}

func (e *EmailChannel) Name() string { return "email" }

func (e *EmailChannel) Send(ctx context.Context, d Digest) error {
	subject := "arXiv Digest " + d.RunDate
	msg := buildMIMEMessage(e.cfg.From, e.cfg.To, subject, d.Plaintext, markdownToHTML(d.Markdown))

	recipients := splitRecipients(e.cfg.To)
	addr := fmt.Sprintf("%s:%d", e.cfg.SMTPHost, e.cfg.SMTPPort)

	// Port 465 is implicit TLS; anything else upgrades via STARTTLS.
	if e.cfg.SMTPPort == 465 {
		return e.sendSSL(addr, recipients, msg)
	}
	return e.sendSTARTTLS(addr, recipients, msg)
}

func (e *EmailChannel) sendSSL(addr string, recipients []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: e.cfg.SMTPHost})
	if err != nil {
		return fmt.Errorf("tls dial %s: %w", addr, err)
	}
	client, err := smtp.NewClient(conn, e.cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()
	return e.deliver(client, recipients, msg)
}

func (e *EmailChannel) sendSTARTTLS(addr string, recipients []string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	defer client.Close()
	if err := client.StartTLS(&tls.Config{ServerName: e.cfg.SMTPHost}); err != nil {
		return fmt.Errorf("starttls: %w", err)
	}
	return e.deliver(client, recipients, msg)
}

func (e *EmailChannel) deliver(client *smtp.Client, recipients []string, msg []byte) error {
	if e.cfg.Username != "" && e.cfg.Password != "" {
		auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(e.cfg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	e.logger.Printf("email sent to %s", e.cfg.To)
	return client.Quit()
}

func splitRecipients(to string) []string {
	parts := strings.Split(to, ",")
	recipients := make([]string, 0, len(parts))
	for _, p := range parts {
		if addr := strings.TrimSpace(p); addr != "" {
			recipients = append(recipients, addr)
		}
	}
	return recipients
}

const mimeBoundary = "arxivd-digest-boundary"

func buildMIMEMessage(from, to, subject, text, html string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mimeBoundary)

	fmt.Fprintf(&b, "--%s\r\n", mimeBoundary)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(text)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", mimeBoundary)
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(html)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", mimeBoundary)
	return []byte(b.String())
}

var (
	h3Line   = regexp.MustCompile(`(?m)^### (.+)$`)
	h2Line   = regexp.MustCompile(`(?m)^## (.+)$`)
	h1Line   = regexp.MustCompile(`(?m)^# (.+)$`)
	boldSpan = regexp.MustCompile(`\*\*(.+?)\*\*`)
	linkSpan = regexp.MustCompile(`\[(.+?)\]\((.+?)\)`)
	listItem = regexp.MustCompile(`(?m)^- (.+)$`)
)

// markdownToHTML is a minimal converter covering only the constructs
// the digest renderer emits. Not a general Markdown parser.
func markdownToHTML(md string) string {
	html := md
	html = h3Line.ReplaceAllString(html, "<h3>$1</h3>")
	html = h2Line.ReplaceAllString(html, "<h2>$1</h2>")
	html = h1Line.ReplaceAllString(html, "<h1>$1</h1>")
	html = boldSpan.ReplaceAllString(html, "<b>$1</b>")
	html = linkSpan.ReplaceAllString(html, `<a href="$2">$1</a>`)
	html = listItem.ReplaceAllString(html, "<li>$1</li>")
	html = strings.ReplaceAll(html, "---", "<hr>")
	html = strings.ReplaceAll(html, "\n", "<br>\n")
	return "<html><body>" + html + "</body></html>"
}
