package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/imroc/req"
)

// SMSSettings configures the HTTP SMS gateway.
type SMSSettings struct {
	GatewayURL string
	Token      string
	Sender     string
	Timeout    time.Duration
}

// SMSTransport posts messages to a JSON SMS gateway.
type SMSTransport struct {
	cfg    SMSSettings
	client *req.Req
}

type smsPayload struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
	Text string `json:"text"`
}

// NewSMSTransport validates settings and constructs an SMSTransport.
func NewSMSTransport(cfg SMSSettings) (*SMSTransport, error) {
	cfg.GatewayURL = strings.TrimSpace(cfg.GatewayURL)
	if cfg.GatewayURL == "" {
		return nil, errors.New("sms transport: gateway url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := req.New()
	client.SetTimeout(cfg.Timeout)
	return &SMSTransport{cfg: cfg, client: client}, nil
}

// Deliver posts the message body to the gateway. The subject is prefixed when present since
// SMS has no subject line.
func (t *SMSTransport) Deliver(ctx context.Context, recipient Recipient, content Content) error {
	text := content.Body
	if subject := strings.TrimSpace(content.Subject); subject != "" {
		text = subject + ": " + text
	}

	header := req.Header{"Accept": "application/json"}
	if t.cfg.Token != "" {
		header["Authorization"] = "Bearer " + t.cfg.Token
	}

	resp, err := t.client.Post(t.cfg.GatewayURL, header, req.BodyJSON(&smsPayload{
		From: t.cfg.Sender,
		To:   recipient.Address,
		Text: text,
	}), ctx)
	if err != nil {
		return fmt.Errorf("sms transport: post: %w", err)
	}

	status := resp.Response().StatusCode
	if status < 200 || status >= 300 {
		return fmt.Errorf("sms transport: gateway returned %d: %s", status, strings.TrimSpace(resp.String()))
	}
	return nil
}
