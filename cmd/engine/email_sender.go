package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const sendgridEndpoint = "https://api.sendgrid.com/v3/mail/send"

// sendgridEmailSender is a minimal SendGrid v3 mail-send client. No
// library in the example corpus covers transactional-email delivery,
// so this talks to SendGrid's documented HTTP API directly over
// net/http rather than depending on an unseen third-party client; see
// DESIGN.md for the stdlib justification.
type sendgridEmailSender struct {
	apiKey string
	client *http.Client
}

func (s sendgridEmailSender) Send(ctx context.Context, subscriptionID, member string) error {
	client := s.client
	if client == nil {
		client = http.DefaultClient
	}

	body, err := json.Marshal(map[string]any{
		"personalizations": []map[string]any{
			{"to": []map[string]string{{"email": member}}},
		},
		"from":    map[string]string{"email": "no-reply@singlewriter.example"},
		"subject": fmt.Sprintf("You've been assigned to %s", subscriptionID),
		"content": []map[string]string{
			{"type": "text/plain", "value": fmt.Sprintf("You have been assigned to subscription %s.", subscriptionID)},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal sendgrid request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendgridEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sendgrid request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid responded with status %d", resp.StatusCode)
	}
	return nil
}
