package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/BradenHooton/devicelock/pkg/logger"
)

// SESAPI is the subset of the SES client used here
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESSender sends notifications using AWS SES
type SESSender struct {
	client      SESAPI
	fromAddress string
	logger      *slog.Logger
}

// NewSESSender creates a sender from the default AWS credential chain
func NewSESSender(region, fromAddress string, logger *slog.Logger) (*SESSender, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESSenderWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

func NewSESSenderWithClient(client SESAPI, fromAddress string, logger *slog.Logger) *SESSender {
	return &SESSender{client: client, fromAddress: fromAddress, logger: logger}
}

const emailStyle = `
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .key { font-family: monospace; font-size: 20px; letter-spacing: 2px; background-color: #f1f3f5; padding: 12px; text-align: center; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
        .warning { background-color: #fff3cd; padding: 10px; border-left: 4px solid #ffc107; margin: 10px 0; }`

func htmlPage(title, content string) string {
	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>%s
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>%s</h1>
        </div>
        <div class="content">%s
        </div>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, emailStyle, title, content)
}

// SendRecoveryKey delivers the recovery key after enrolment
func (s *SESSender) SendRecoveryKey(ctx context.Context, email, formattedKey string) error {
	html := htmlPage("Your Device Recovery Key", fmt.Sprintf(`
            <p>This key is the only way to unlock your device if it is blocked:</p>
            <div class="key">%s</div>
            <div class="warning">
                <strong>Keep it safe.</strong> Store it somewhere other than the protected device.
            </div>`, formattedKey))

	text := fmt.Sprintf(`Your Device Recovery Key

This key is the only way to unlock your device if it is blocked:

%s

Keep it safe. Store it somewhere other than the protected device.
`, formattedKey)

	return s.send(ctx, email, "Your device recovery key", html, text)
}

// SendBlockedNotification tells the owner a device was locked
func (s *SESSender) SendBlockedNotification(ctx context.Context, email string, info DeviceInfo) error {
	html := htmlPage("Device Locked", fmt.Sprintf(`
            <p>Your device <strong>%s</strong> was locked at %s.</p>
            <p>%s</p>
            <div class="warning">
                Enter your 20-digit recovery key on the device to unlock it.
            </div>`, info.Name, info.At.UTC().Format(time.RFC1123), info.Message))

	text := fmt.Sprintf(`Device Locked

Your device %s was locked at %s.
%s

Enter your 20-digit recovery key on the device to unlock it.
`, info.Name, info.At.UTC().Format(time.RFC1123), info.Message)

	return s.send(ctx, email, "Your device has been locked", html, text)
}

// SendSuspiciousActivity warns the owner before an automatic block
func (s *SESSender) SendSuspiciousActivity(ctx context.Context, email string, info DeviceInfo, count int) error {
	html := htmlPage("Suspicious Activity Detected", fmt.Sprintf(`
            <p>Suspicious activity was detected on <strong>%s</strong> (%d so far).</p>
            <p>If this continues the device may be locked automatically.</p>`, info.Name, count))

	text := fmt.Sprintf(`Suspicious Activity Detected

Suspicious activity was detected on %s (%d so far).
If this continues the device may be locked automatically.
`, info.Name, count)

	return s.send(ctx, email, "Suspicious activity on your device", html, text)
}

func (s *SESSender) send(ctx context.Context, email, subject, html, text string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(html),
				},
				Text: &types.Content{
					Data: aws.String(text),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to send email via SES",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.String("subject", subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.InfoContext(ctx, "email sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("subject", subject),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}
