package email

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

const (
	defaultResendEndpoint = "https://api.resend.com/emails"
	resendTimeout         = 15 * time.Second
)

// ResendProvider sends through the Resend HTTP API. Calls are paced by a
// token bucket so bursts of due rules stay under the account's rate limit.
type ResendProvider struct {
	apiKey   string
	from     string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

func NewResendProvider(apiKey, from string, perSecond float64) *ResendProvider {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &ResendProvider{
		apiKey:   apiKey,
		from:     from,
		endpoint: defaultResendEndpoint,
		client:   &http.Client{Timeout: resendTimeout},
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// WithEndpoint overrides the API URL.
func (p *ResendProvider) WithEndpoint(url string) *ResendProvider {
	p.endpoint = url
	return p
}

func (p *ResendProvider) Name() string { return ProviderResend }

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

type resendResponse struct {
	ID string `json:"id"`
}

func (p *ResendProvider) Send(ctx context.Context, msg Message) Result {
	res := Result{Provider: ProviderResend}
	if p.apiKey == "" {
		res.Err = errors.New("RESEND_API_KEY not configured")
		return res
	}
	if err := p.limiter.Wait(ctx); err != nil {
		res.Err = errors.Wrap(err, "rate limit")
		return res
	}

	from := p.from
	if msg.FromName != "" {
		from = msg.FromName + " <" + p.from + ">"
	}
	to := msg.To
	if msg.ToName != "" {
		to = msg.ToName + " <" + msg.To + ">"
	}

	body, err := json.Marshal(resendRequest{
		From:    from,
		To:      []string{to},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		ReplyTo: msg.ReplyTo,
	})
	if err != nil {
		res.Err = errors.Wrap(err, "marshal")
		return res
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		res.Err = errors.Wrap(err, "create request")
		return res
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		res.Err = errors.Wrap(err, "send")
		return res
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		res.Err = errors.Newf("resend API %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
		return res
	}

	// The message is accepted at this point; a body without an id only
	// loses tracking.
	var out resendResponse
	if json.Unmarshal(raw, &out) == nil {
		res.MessageID = out.ID
	}
	return res
}
