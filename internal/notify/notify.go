package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"pricetracker-backend/internal/components/telemetry"
	"pricetracker-backend/internal/product"
)

const (
	report_notify_render   = "notify.render"
	report_notify_send     = "notify.send"
	report_notify_disabled = "notify.disabled"
)

var tracer = otel.Tracer("pricetracker-backend/internal/notify")

// Notifier delivers messages about products. Implementations report success
// only, callers never retry a failed send.
type Notifier interface {
	SendPriceAlert(ctx context.Context, recipient string, p product.Product, targetPrice, previousPrice float64) bool
	SendProductSnapshot(ctx context.Context, recipient string, p product.Product) bool
}

type SmtpConfig struct {
	Server   string
	Port     int
	Address  string
	Password string
	FromName string
	Timeout  time.Duration
}

// SmtpNotifier opens one connection per message. Every step of the exchange
// shares a single deadline, the earlier of the context deadline and Timeout.
type SmtpNotifier struct {
	config SmtpConfig
	addr   string
	auth   smtp.Auth
	tel    telemetry.API
}

func NewSmtpNotifier(tel telemetry.API, config SmtpConfig) (*SmtpNotifier, error) {
	if config.Server == "" {
		return nil, fmt.Errorf("smtp server was not specified")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.FromName == "" {
		config.FromName = "Price Tracker"
	}

	var auth smtp.Auth
	if config.Password != "" {
		auth = smtp.PlainAuth("", config.Address, config.Password, config.Server)
	}

	return &SmtpNotifier{
		config: config,
		addr:   net.JoinHostPort(config.Server, fmt.Sprint(config.Port)),
		auth:   auth,
		tel:    tel,
	}, nil
}

func (n *SmtpNotifier) SendPriceAlert(ctx context.Context, recipient string, p product.Product, targetPrice, previousPrice float64) bool {
	msg, err := RenderPriceAlert(p, targetPrice, previousPrice)
	if err != nil {
		n.tel.ReportBroken(report_notify_render, "price_alert", p.ItemCode, err)
		return false
	}
	return n.send(ctx, recipient, msg)
}

func (n *SmtpNotifier) SendProductSnapshot(ctx context.Context, recipient string, p product.Product) bool {
	msg, err := RenderProductSnapshot(p)
	if err != nil {
		n.tel.ReportBroken(report_notify_render, "snapshot", p.ItemCode, err)
		return false
	}
	return n.send(ctx, recipient, msg)
}

func (n *SmtpNotifier) send(ctx context.Context, recipient string, msg Message) bool {
	_, span := tracer.Start(ctx, "Send")
	defer span.End()

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("%s <%s>", n.config.FromName, n.config.Address)
	mail.To = []string{recipient}
	mail.Subject = msg.Subject
	mail.Text = []byte(msg.Text)
	mail.HTML = []byte(msg.Html)

	err := n.deliver(ctx, mail)
	if err != nil {
		n.tel.ReportWarning(report_notify_send, recipient, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return false
	}
	n.tel.ReportDebug("sent email", "recipient", recipient, "subject", msg.Subject)
	return true
}

func (n *SmtpNotifier) deliver(ctx context.Context, mail *email.Email) error {
	ctx, cancel := context.WithTimeout(ctx, n.config.Timeout)
	defer cancel()

	raw, err := mail.Bytes()
	if err != nil {
		return err
	}

	dialer := net.Dialer{Timeout: n.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", n.addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	err = conn.SetDeadline(deadline)
	if err != nil {
		return err
	}
	// unblocks any pending read or write as soon as the caller gives up
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	client, err := smtp.NewClient(conn, n.config.Server)
	if err != nil {
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		err = client.StartTLS(&tls.Config{ServerName: n.config.Server})
		if err != nil {
			return err
		}
	}
	if n.auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			err = client.Auth(n.auth)
			if err != nil {
				return err
			}
		}
	}

	err = client.Mail(n.config.Address)
	if err != nil {
		return err
	}
	for _, recipient := range mail.To {
		err = client.Rcpt(recipient)
		if err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	_, err = w.Write(raw)
	if err != nil {
		return err
	}
	err = w.Close()
	if err != nil {
		return err
	}
	return client.Quit()
}

// DisabledNotifier is used when no mail server is configured, every send
// fails after logging what would have been sent.
type DisabledNotifier struct {
	tel telemetry.API
}

func NewDisabledNotifier(tel telemetry.API) DisabledNotifier {
	return DisabledNotifier{tel: tel}
}

func (n DisabledNotifier) SendPriceAlert(ctx context.Context, recipient string, p product.Product, targetPrice, previousPrice float64) bool {
	n.tel.ReportWarning(report_notify_disabled, recipient, p.ItemCode, targetPrice)
	return false
}

func (n DisabledNotifier) SendProductSnapshot(ctx context.Context, recipient string, p product.Product) bool {
	n.tel.ReportWarning(report_notify_disabled, recipient, p.ItemCode)
	return false
}
