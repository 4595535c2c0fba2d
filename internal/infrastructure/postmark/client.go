package postmark

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

// ErrSendFailed wraps every delivery failure
var ErrSendFailed = errors.New("failed to send email")

// Config holds Postmark credentials and the sender identity
type Config struct {
	ServerToken  string
	AccountToken string
	SenderEmail  string
}

// Client sends transactional email through Postmark
type Client struct {
	client *postmark.Client
	from   string
}

// NewClient creates a Postmark-backed sender. Both tokens are required.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ServerToken == "" || cfg.AccountToken == "" {
		return nil, fmt.Errorf("postmark tokens are required")
	}
	if cfg.SenderEmail == "" {
		return nil, fmt.Errorf("postmark sender email is required")
	}
	return &Client{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		from:   cfg.SenderEmail,
	}, nil
}

// Send delivers one HTML email tagged for Postmark analytics
func (c *Client) Send(ctx context.Context, to, subject, htmlBody, tag string) error {
	resp, err := c.client.SendEmail(ctx, postmark.Email{
		From:       c.from,
		To:         to,
		Subject:    subject,
		Tag:        tag,
		HTMLBody:   htmlBody,
		TrackOpens: true,
	})
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrSendFailed, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}
