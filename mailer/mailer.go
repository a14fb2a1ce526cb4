package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"sync"
	texttemplate "text/template"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"

	"leadfunnel/metrics"
	"leadfunnel/models"
)

// Message is one templated transactional email.
type Message struct {
	Template  string
	To        string
	Data      map[string]any
	LeadID    *uint
	SessionID string
}

// Result reports the outcome of a send.
type Result struct {
	Success    bool   `json:"success"`
	DeliveryID string `json:"delivery_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) Result
}

// SMTPConfig mirrors config.SMTPConfig without importing the config package.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	Company  string
}

// SMTPMailer sends through an SMTP relay with gomail.
type SMTPMailer struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

// Render executes a template with the standard fields filled in.
func Render(name string, data map[string]any, company string) (subject, body string, err error) {
	return render(name, data, company, time.Now())
}

func render(name string, data map[string]any, company string, now time.Time) (subject, body string, err error) {
	tmplContent, ok := emailTemplates[name]
	if !ok {
		return "", "", fmt.Errorf("template '%s' not found", name)
	}
	funcs := template.FuncMap{
		"ago":   func(t time.Time) string { return TimeAgo(t, now) },
		"stamp": func(t time.Time) string { return t.Format("Mon, Jan 2, 2006, 3:04 PM") },
	}
	tmpl, err := template.New(name).Funcs(funcs).Parse(tmplContent)
	if err != nil {
		return "", "", fmt.Errorf("error parsing template: %w", err)
	}

	view := make(map[string]any, len(data)+3)
	for k, v := range data {
		view[k] = v
	}
	view["Year"] = now.Year()
	if _, ok := view["Company"]; !ok {
		view["Company"] = company
	}

	subjTmpl, err := texttemplate.New(name + "_subject").Parse(subjects[name])
	if err != nil {
		return "", "", fmt.Errorf("error parsing subject: %w", err)
	}
	var subj bytes.Buffer
	if err := subjTmpl.Execute(&subj, view); err != nil {
		return "", "", fmt.Errorf("error executing subject: %w", err)
	}
	subject = strings.TrimSpace(subj.String())
	view["Subject"] = subject

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		return "", "", fmt.Errorf("error executing template: %w", err)
	}
	return subject, buf.String(), nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) Result {
	subject, body, err := Render(msg.Template, msg.Data, m.cfg.Company)
	if err != nil {
		return Result{Error: err.Error()}
	}

	deliveryID := fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(m.cfg.From))
	mail := gomail.NewMessage()
	mail.SetAddressHeader("From", m.cfg.From, m.cfg.FromName)
	mail.SetHeader("To", msg.To)
	mail.SetHeader("Subject", subject)
	mail.SetHeader("Message-ID", deliveryID)
	mail.SetBody("text/html", body)

	// gomail has no context support; give up waiting when ctx ends.
	done := make(chan error, 1)
	go func() { done <- m.dialer.DialAndSend(mail) }()
	select {
	case err := <-done:
		if err != nil {
			return Result{Error: fmt.Sprintf("error sending email: %v", err)}
		}
		return Result{Success: true, DeliveryID: deliveryID}
	case <-ctx.Done():
		return Result{Error: ctx.Err().Error()}
	}
}

func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}

// Dispatcher sends email in the background and records each attempt. Email
// is a courtesy notification, so failures are logged and never returned.
type Dispatcher struct {
	sender  Sender
	db      *gorm.DB
	logger  logrus.FieldLogger
	metrics *metrics.Collector
	timeout time.Duration

	wg sync.WaitGroup
}

// NewDispatcher wires a sender. db may be nil to skip the delivery log; a nil
// sender disables email entirely.
func NewDispatcher(sender Sender, db *gorm.DB, logger logrus.FieldLogger, m *metrics.Collector, timeout time.Duration) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		sender:  sender,
		db:      db,
		logger:  logger.WithField("component", "mailer"),
		metrics: m,
		timeout: timeout,
	}
}

// Send delivers synchronously and returns the result.
func (d *Dispatcher) Send(ctx context.Context, msg Message) Result {
	if d.sender == nil {
		return Result{Error: "email delivery not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res := d.sender.Send(ctx, msg)
	d.metrics.EmailDispatched(msg.Template, res.Success)
	d.record(msg, res)

	log := d.logger.WithFields(logrus.Fields{
		"template":  msg.Template,
		"recipient": msg.To,
	})
	if res.Success {
		log.WithField("delivery_id", res.DeliveryID).Info("Email sent")
	} else {
		log.WithField("error", res.Error).Warn("Email dispatch failed")
	}
	return res
}

// SendAsync starts a send and returns immediately.
func (d *Dispatcher) SendAsync(ctx context.Context, msg Message) {
	if d.sender == nil || msg.To == "" {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Send(context.WithoutCancel(ctx), msg)
	}()
}

// Wait blocks until background sends finish or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) record(msg Message, res Result) {
	if d.db == nil {
		return
	}
	row := models.EmailDispatch{
		LeadID:     msg.LeadID,
		SessionID:  msg.SessionID,
		Template:   msg.Template,
		Recipient:  msg.To,
		Success:    res.Success,
		DeliveryID: res.DeliveryID,
		Error:      res.Error,
		SentAt:     time.Now(),
	}
	if err := d.db.Create(&row).Error; err != nil {
		d.logger.WithField("error", err.Error()).Warn("Failed to record email dispatch")
	}
}
