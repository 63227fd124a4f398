// Package notify delivers transactional email. The account service only
// sees the Sender contract and reacts to success or failure.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

var ErrSend = errors.New("email dispatch failed")

// Sender delivers one HTML email. Implementations must honour ctx
// cancellation and must not retry internally.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// LogSender is a development transport that writes emails to the log
// instead of delivering them.
type LogSender struct {
	logger *zap.SugaredLogger
}

func NewLog(logger *zap.SugaredLogger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Infow("email (log transport)", "to", to, "subject", subject, "body", htmlBody)
	return nil
}
