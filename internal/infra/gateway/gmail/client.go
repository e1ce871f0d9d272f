package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hweilin/moneybook/internal/mailscan"
)

const (
	requestTimeout = 30 * time.Second
	tokenEndpoint  = "https://oauth2.googleapis.com/token"
	apiBase        = "https://gmail.googleapis.com/gmail/v1/users/me"

	// maxMessagesPerScan bounds one scan so a backlogged mailbox
	// cannot stall the scheduler.
	maxMessagesPerScan = 25
)

// Client fetches statement mail through the Gmail REST API. It trades
// the stored refresh token for a short-lived access token on every
// fetch; access tokens are never persisted.
type Client struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewClient creates a new Gmail API client
func NewClient(clientID, clientSecret string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// FetchStatements searches the mailbox with the bank's query, bounded
// to messages received after since, and returns every CSV attachment.
func (c *Client) FetchStatements(ctx context.Context, refreshToken, query string, since time.Time) ([]mailscan.Mail, error) {
	accessToken, err := c.exchangeToken(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh access token: %w", err)
	}

	ids, err := c.searchMessages(ctx, accessToken, query, since)
	if err != nil {
		return nil, err
	}

	var mails []mailscan.Mail
	for _, id := range ids {
		mail, err := c.fetchMessage(ctx, accessToken, id)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch message %s: %w", id, err)
		}
		mails = append(mails, mail...)
	}
	return mails, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Client) exchangeToken(ctx context.Context, refreshToken string) (string, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned an empty access token")
	}
	return tr.AccessToken, nil
}

type messageList struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (c *Client) searchMessages(ctx context.Context, accessToken, query string, since time.Time) ([]string, error) {
	// Gmail's after: operator takes a Unix timestamp.
	q := fmt.Sprintf("%s has:attachment after:%d", query, since.Unix())

	endpoint := fmt.Sprintf("%s/messages?q=%s&maxResults=%d", apiBase, url.QueryEscape(q), maxMessagesPerScan)
	var list messageList
	if err := c.get(ctx, accessToken, endpoint, &list); err != nil {
		return nil, fmt.Errorf("message search failed: %w", err)
	}

	ids := make([]string, 0, len(list.Messages))
	for _, m := range list.Messages {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

type messagePart struct {
	Filename string `json:"filename"`
	Body     struct {
		AttachmentID string `json:"attachmentId"`
		Data         string `json:"data"`
	} `json:"body"`
	Parts []messagePart `json:"parts"`
}

type message struct {
	ID           string `json:"id"`
	InternalDate string `json:"internalDate"`
	Payload      struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
		Parts []messagePart `json:"parts"`
	} `json:"payload"`
}

func (c *Client) fetchMessage(ctx context.Context, accessToken, id string) ([]mailscan.Mail, error) {
	endpoint := fmt.Sprintf("%s/messages/%s?format=full", apiBase, id)
	var msg message
	if err := c.get(ctx, accessToken, endpoint, &msg); err != nil {
		return nil, err
	}

	subject := ""
	for _, h := range msg.Payload.Headers {
		if strings.EqualFold(h.Name, "Subject") {
			subject = h.Value
			break
		}
	}

	receivedAt := time.Now().UTC()
	if ms, err := parseMillis(msg.InternalDate); err == nil {
		receivedAt = ms
	}

	var mails []mailscan.Mail
	for _, part := range flattenParts(msg.Payload.Parts) {
		if part.Filename == "" {
			continue
		}

		var data []byte
		var err error
		if part.Body.Data != "" {
			data, err = base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(part.Body.Data)
		} else if part.Body.AttachmentID != "" {
			data, err = c.fetchAttachment(ctx, accessToken, id, part.Body.AttachmentID)
		} else {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode attachment %s: %w", part.Filename, err)
		}

		mails = append(mails, mailscan.Mail{
			Subject:    subject,
			FileName:   part.Filename,
			Attachment: data,
			ReceivedAt: receivedAt,
		})
	}
	return mails, nil
}

type attachmentBody struct {
	Data string `json:"data"`
}

func (c *Client) fetchAttachment(ctx context.Context, accessToken, messageID, attachmentID string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/messages/%s/attachments/%s", apiBase, messageID, attachmentID)
	var body attachmentBody
	if err := c.get(ctx, accessToken, endpoint, &body); err != nil {
		return nil, err
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(body.Data)
}

func (c *Client) get(ctx context.Context, accessToken, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// flattenParts walks the MIME tree depth first
func flattenParts(parts []messagePart) []messagePart {
	var flat []messagePart
	for _, p := range parts {
		flat = append(flat, p)
		flat = append(flat, flattenParts(p.Parts)...)
	}
	return flat
}

func parseMillis(s string) (time.Time, error) {
	var ms int64
	if _, err := fmt.Sscanf(s, "%d", &ms); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Ensure Client implements mailscan.Fetcher
var _ mailscan.Fetcher = (*Client)(nil)
