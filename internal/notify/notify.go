// Package notify delivers OTP codes to a registrant's phone.
package notify

import (
	"context"
	"log/slog"
)

// Sender delivers a code to phone. Callers treat delivery as fire-and-forget:
// errors are logged and never fail the workflow operation.
type Sender interface {
	SendOTP(ctx context.Context, phone, code string) error
}

// LogSender records that a delivery happened without the code. Used when no
// SMS gateway is configured.
type LogSender struct {
	Logger *slog.Logger
}

// SendOTP logs the masked destination.
func (s LogSender) SendOTP(ctx context.Context, phone, _ string) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "notify: otp delivery skipped; no sms gateway configured", "phone", MaskPhone(phone))
	return nil
}

// MaskPhone keeps the last two digits, e.g. "********10".
func MaskPhone(phone string) string {
	if len(phone) <= 2 {
		return phone
	}
	b := make([]byte, len(phone))
	for i := range b {
		if i < len(phone)-2 {
			b[i] = '*'
		} else {
			b[i] = phone[i]
		}
	}
	return string(b)
}
