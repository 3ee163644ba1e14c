package mailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"
)

// ErrNoRecipient is returned when a message has no primary address.
var ErrNoRecipient = errors.New("message has no recipient")

// Message is one outbound email with a single attachment.
type Message struct {
	To             string
	CC             []string
	Subject        string
	Body           string
	AttachmentName string
	Attachment     []byte
}

type Config struct {
	Host           string
	Port           int
	Username       string
	Password       string
	FromName       string
	RatePerMinute  int // 0 disables pacing
	BreakerEnabled bool
	BreakerTrips   uint32
	BreakerTimeout time.Duration
}

// SMTP sends messages through an SMTP relay. A message goes out in one
// transaction addressed to To and every CC.
type SMTP struct {
	from     string
	fromName string
	send     func(...*gomail.Message) error
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
}

func New(cfg Config) *SMTP {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return newSMTP(cfg, dialer.DialAndSend)
}

func newSMTP(cfg Config, send func(...*gomail.Message) error) *SMTP {
	s := &SMTP{
		from:     cfg.Username,
		fromName: cfg.FromName,
		send:     send,
	}
	if cfg.RatePerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1)
	}
	if cfg.BreakerEnabled {
		trips := cfg.BreakerTrips
		if trips == 0 {
			trips = 3
		}
		s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "smtp",
			MaxRequests: 1,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= trips
			},
		})
	}
	return s
}

// Send delivers msg. Transport failures, an open breaker and context
// cancellation are all returned as errors.
func (s *SMTP) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for send slot: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := s.build(msg)
	if s.breaker == nil {
		return s.deliver(m)
	}
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.deliver(m)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("smtp unavailable: %w", err)
	}
	return err
}

func (s *SMTP) deliver(m *gomail.Message) error {
	if err := s.send(m); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

func (s *SMTP) build(msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.from, s.fromName)
	m.SetHeader("To", msg.To)
	if len(msg.CC) > 0 {
		m.SetHeader("Cc", msg.CC...)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	if msg.AttachmentName != "" {
		data := msg.Attachment
		m.Attach(msg.AttachmentName, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}))
	}
	return m
}
