package email

import (
	"fmt"
	"net"
	"net/smtp"
	"sync"
	"time"

	"github.com/Dan9191/devsecops-api/internal/config"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   func(e *email.Email) error
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	s := &Sender{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	s.send = s.sendSMTP
	return s
}

// NotifyRegistered sends a welcome notice in the background.
// It is a no-op when SMTP is not configured.
func (s *Sender) NotifyRegistered(to string) {
	if !s.cfg.MailEnabled() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.SendRegistrationNotice(to); err != nil {
			s.logger.Warnf("Registration notice not delivered: %v", err)
		}
	}()
}

// SendRegistrationNotice sends the welcome email synchronously.
func (s *Sender) SendRegistrationNotice(to string) error {
	e := s.registrationNotice(to)
	if err := s.send(e); err != nil {
		s.logger.Errorf("Failed to send email to %s: %v", to, err)
		return fmt.Errorf("failed to send email: %w", err)
	}
	s.logger.Infof("Email sent to %s: %s", to, e.Subject)
	return nil
}

// Wait blocks until in-flight notices have finished.
func (s *Sender) Wait() {
	s.wg.Wait()
}

func (s *Sender) registrationNotice(to string) *email.Email {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = "Your account has been created"

	body := fmt.Sprintf("Hello %s,\n\n", to)
	body += fmt.Sprintf(
		"An account was registered with this address on %s.\n"+
			"If this was not you, please contact support.\n",
		s.now().UTC().Format("2006-01-02 15:04:05 MST"),
	)
	body += "\nBest regards,\nDevSecOps API"
	e.Text = []byte(body)
	return e
}

func (s *Sender) sendSMTP(e *email.Email) error {
	addr := net.JoinHostPort(s.cfg.SMTPHost, s.cfg.SMTPPort)
	var auth smtp.Auth
	if s.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}
	return e.Send(addr, auth)
}
