package account

import (
	"context"

	"github.com/xinguang/go-recaptcha"

	"github.com/totegamma/postbox/core"
)

// CaptchaVerifier checks the captcha response sent with a registration
type CaptchaVerifier interface {
	Verify(ctx context.Context, response string) error
}

type recaptchaVerifier struct {
	secret string
}

type noopVerifier struct{}

// NewCaptchaVerifier returns a reCAPTCHA verifier.
// without a configured secret every response is accepted
func NewCaptchaVerifier(config core.Config) CaptchaVerifier {
	if config.CaptchaSecret == "" {
		return noopVerifier{}
	}
	return &recaptchaVerifier{config.CaptchaSecret}
}

func (v *recaptchaVerifier) Verify(ctx context.Context, response string) error {
	_, span := tracer.Start(ctx, "Account.Captcha.Verify")
	defer span.End()

	if response == "" {
		return core.NewErrorInvalidArgument("captcha", "is required")
	}

	validator, err := recaptcha.NewWithSecert(v.secret)
	if err != nil {
		span.RecordError(err)
		return err
	}

	err = validator.Verify(response)
	if err != nil {
		span.RecordError(err)
		return core.NewErrorInvalidArgument("captcha", "verification failed")
	}

	return nil
}

func (noopVerifier) Verify(ctx context.Context, response string) error {
	return nil
}
