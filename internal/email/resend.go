package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"
)

var (
	ErrEmailNotConfigured = errors.New("email service not configured")
	ErrSendFailed         = errors.New("failed to send email")
)

const defaultBaseURL = "https://api.resend.com"

// ResendClient sends transactional mail through the Resend API.
type ResendClient struct {
	apiKey    string
	fromEmail string
	baseURL   string
	http      *http.Client
}

func NewResendClient(apiKey, fromEmail string) *ResendClient {
	return &ResendClient{
		apiKey:    apiKey,
		fromEmail: fromEmail,
		baseURL:   defaultBaseURL,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

// WithBaseURL points the client at another Resend-compatible endpoint.
func (c *ResendClient) WithBaseURL(baseURL string) *ResendClient {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

func (c *ResendClient) IsConfigured() bool {
	return c.apiKey != "" && c.fromEmail != ""
}

type sendEmailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (c *ResendClient) SendEmail(ctx context.Context, to, subject, htmlContent string) error {
	if !c.IsConfigured() {
		return ErrEmailNotConfigured
	}

	jsonData, err := json.Marshal(sendEmailRequest{
		From:    c.fromEmail,
		To:      []string{to},
		Subject: subject,
		HTML:    htmlContent,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%w: status code %d", ErrSendFailed, resp.StatusCode)
	}
	return nil
}

// SendAuditReport mails the free profile audit to a lead. score may be nil
// when the report carried no parseable score.
func (c *ResendClient) SendAuditReport(ctx context.Context, to, businessQuery string, score *int, auditMarkdown string) error {
	subject := "Your Google Business Profile audit"
	if score != nil {
		subject = fmt.Sprintf("Your Google Business Profile audit: %d/100", *score)
	}

	scoreLine := ""
	if score != nil {
		scoreLine = fmt.Sprintf(`<p style="margin: 0 0 16px 0; font-size: 28px; font-weight: bold; color: #1a73e8;">%d/100</p>`, *score)
	}

	htmlContent := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>%s</title>
</head>
<body style="margin: 0; padding: 0; font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; background-color: #f4f4f4;">
    <table role="presentation" style="width: 100%%; border-collapse: collapse;">
        <tr>
            <td align="center" style="padding: 40px 0;">
                <table role="presentation" style="width: 600px; border-collapse: collapse; background-color: #ffffff; border-radius: 8px;">
                    <tr>
                        <td style="padding: 40px 40px 20px 40px;">
                            <h1 style="margin: 0 0 12px 0; color: #333333; font-size: 22px;">Profile audit for %s</h1>
                            %s
                            <pre style="white-space: pre-wrap; font-family: inherit; color: #444444; font-size: 15px; line-height: 1.5;">%s</pre>
                        </td>
                    </tr>
                </table>
            </td>
        </tr>
    </table>
</body>
</html>
`, html.EscapeString(subject), html.EscapeString(businessQuery), scoreLine, html.EscapeString(auditMarkdown))

	return c.SendEmail(ctx, to, subject, htmlContent)
}
