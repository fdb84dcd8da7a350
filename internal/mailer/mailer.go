package mailer

import (
	"context"
	"errors"
)

var ErrDelivery = errors.New("email delivery failed")

// Mailer delivers the transactional emails of the auth flows. A non-nil
// error means the message was not handed to the transport.
type Mailer interface {
	SendVerificationCode(ctx context.Context, to, name, code string) error
	SendWelcome(ctx context.Context, to, name string) error
	SendTwoFactorCode(ctx context.Context, to, name, code string) error
	SendPasswordReset(ctx context.Context, to, name, code string) error
}

type Kind string

const (
	KindVerification  Kind = "verification"
	KindWelcome       Kind = "welcome"
	KindTwoFactorCode Kind = "two_factor_code"
	KindPasswordReset Kind = "password_reset"
)
