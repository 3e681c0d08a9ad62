package ses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	appconfig "github.com/ignite/comms-planner/internal/config"
	"github.com/ignite/comms-planner/internal/domain"
	"github.com/ignite/comms-planner/internal/pkg/logger"
)

// API is the subset of the SES v2 client the sink calls.
type API interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// UserResolver turns recipient user ids into addresses.
type UserResolver interface {
	Users(ctx context.Context, ids []string) ([]domain.User, error)
}

// Client delivers planner notifications as SES templated emails. The SES
// template name is the configured prefix plus the notification template.
type Client struct {
	api            API
	users          UserResolver
	fromEmail      string
	templatePrefix string
}

// NewClient creates an SES-backed notification sink using static credentials.
func NewClient(ctx context.Context, cfg appconfig.SESConfig, notify appconfig.NotificationsConfig, users UserResolver) (*Client, error) {
	// Create AWS credentials
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKey,
		cfg.SecretKey,
		"", // session token (empty for static creds)
	)

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return NewClientWithAPI(sesv2.NewFromConfig(awsCfg), users, notify.FromEmail, notify.TemplatePrefix), nil
}

// NewClientWithAPI wires a sink around an existing API implementation.
func NewClientWithAPI(api API, users UserResolver, fromEmail, templatePrefix string) *Client {
	return &Client{api: api, users: users, fromEmail: fromEmail, templatePrefix: templatePrefix}
}

// Deliver sends one email per recipient that has an address. Per-recipient
// failures are joined; a recipient without an address is skipped.
func (c *Client) Deliver(ctx context.Context, n domain.Notification) error {
	if len(n.Recipients) == 0 {
		return nil
	}
	users, err := c.users.Users(ctx, n.Recipients)
	if err != nil {
		return fmt.Errorf("resolving recipients: %w", err)
	}

	data, err := templateData(n)
	if err != nil {
		return err
	}

	var errs []error
	for _, u := range users {
		if u.Email == "" {
			continue
		}
		input := &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(c.fromEmail),
			Destination:      &types.Destination{ToAddresses: []string{u.Email}},
			Content: &types.EmailContent{
				Template: &types.Template{
					TemplateName: aws.String(c.templatePrefix + string(n.Template)),
					TemplateData: aws.String(data),
				},
			},
			EmailTags: []types.MessageTag{
				{Name: aws.String("template"), Value: aws.String(string(n.Template))},
				{Name: aws.String("occurrence_id"), Value: aws.String(n.OccurrenceID)},
			},
		}

		out, err := c.api.SendEmail(ctx, input)
		if err != nil {
			logger.Warn("ses: send failed", "email", logger.RedactEmail(u.Email),"template", string(n.Template), "error", err)
			errs = append(errs, fmt.Errorf("sending to user %s: %w", u.ID, err))
			continue
		}
		logger.Debug("ses: sent", "email", logger.RedactEmail(u.Email), "message_id", aws.ToString(out.MessageId))
	}
	return errors.Join(errs...)
}

// templateData renders the notification payload the SES template consumes.
func templateData(n domain.Notification) (string, error) {
	payload := map[string]string{
		"category":      n.Category,
		"occurrence_id": n.OccurrenceID,
	}
	for k, v := range n.Data {
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding template data: %w", err)
	}
	return string(b), nil
}
