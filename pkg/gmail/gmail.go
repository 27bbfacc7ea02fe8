package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"

	gatewayx "github.com/tanpawarit/crm-assistant/pkg/gateway"
)

const sendScope = "https://www.googleapis.com/auth/gmail.send"

type Config struct {
	ClientID          string        `envconfig:"CLIENT_ID" split_words:"true" required:"true"`
	ClientSecret      string        `envconfig:"CLIENT_SECRET" split_words:"true" required:"true"`
	RefreshToken      string        `envconfig:"REFRESH_TOKEN" split_words:"true" required:"true"`
	BaseURL           string        `envconfig:"BASE_URL" split_words:"true" default:"https://gmail.googleapis.com"`
	TokenURL          string        `envconfig:"TOKEN_URL" split_words:"true"`
	Sender            string        `envconfig:"SENDER" split_words:"true" default:"me"`
	Timeout           time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
	RequestsPerSecond float64       `envconfig:"REQUESTS_PER_SECOND" split_words:"true" default:"0"`
}

type Result struct {
	ID       string
	ThreadID string
}

type Option func(*Client)

// WithHTTPClient replaces the OAuth2 transport entirely. Tests use it to talk
// to a local server without a token exchange.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) {
		if limit > 0 {
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(limit, burst)
		}
	}
}

// Client sends mail through the Gmail REST API. Token refresh is handled by
// the oauth2 transport.
type Client struct {
	rest       *resty.Client
	httpClient *http.Client
	limiter    *rate.Limiter
	sender     string
}

func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("gmail base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid gmail base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sender := strings.TrimSpace(cfg.Sender)
	if sender == "" {
		sender = "me"
	}

	c := &Client{sender: sender}
	if cfg.RequestsPerSecond > 0 {
		WithRateLimit(rate.Limit(cfg.RequestsPerSecond), 1)(c)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.httpClient == nil {
		if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
			return nil, errors.New("gmail oauth client id and secret are required")
		}
		if strings.TrimSpace(cfg.RefreshToken) == "" {
			return nil, errors.New("gmail refresh token is required")
		}
		endpoint := google.Endpoint
		if tokenURL := strings.TrimSpace(cfg.TokenURL); tokenURL != "" {
			endpoint.TokenURL = tokenURL
		}
		oauthCfg := &oauth2.Config{
			ClientID:     strings.TrimSpace(cfg.ClientID),
			ClientSecret: strings.TrimSpace(cfg.ClientSecret),
			Endpoint:     endpoint,
			Scopes:       []string{sendScope},
		}
		source := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: strings.TrimSpace(cfg.RefreshToken)})
		c.httpClient = oauth2.NewClient(ctx, source)
	}

	c.rest = resty.NewWithClient(c.httpClient).
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return c, nil
}

func MustNew(ctx context.Context, cfg Config, opts ...Option) *Client {
	client, err := NewClient(ctx, cfg, opts...)
	if err != nil {
		panic(err)
	}
	return client
}

type sendRequest struct {
	Raw string `json:"raw"`
}

type sendResponse struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (c *Client) SendEmail(ctx context.Context, to, subject, body string) (Result, error) {
	const op = "gmail.send_email"

	raw, err := BuildMessage(to, subject, body)
	if err != nil {
		return Result{}, gatewayx.New(gatewayx.KindInvalid, op, err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Result{}, gatewayx.FromRequestError(op, err)
		}
	}

	var (
		out    sendResponse
		apiErr apiError
	)
	resp, err := c.rest.R().
		SetContext(ctx).
		SetPathParam("user", c.sender).
		SetBody(sendRequest{Raw: base64.URLEncoding.EncodeToString(raw)}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/gmail/v1/users/{user}/messages/send")
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return Result{}, gatewayx.New(gatewayx.KindUnauthorized, op, err)
		}
		return Result{}, gatewayx.FromRequestError(op, err)
	}
	if resp.IsError() {
		detail := strings.TrimSpace(apiErr.Error.Message)
		if detail == "" {
			detail = strings.TrimSpace(resp.String())
		}
		return Result{}, gatewayx.Errorf(gatewayx.KindForStatus(resp.StatusCode()), op, "status=%d: %s", resp.StatusCode(), detail)
	}
	if strings.TrimSpace(out.ID) == "" {
		return Result{}, gatewayx.Errorf(gatewayx.KindTransport, op, "response is missing message id")
	}

	return Result{ID: out.ID, ThreadID: out.ThreadID}, nil
}

// BuildMessage renders a plain-text RFC 5322 message.
func BuildMessage(to, subject, body string) ([]byte, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return nil, errors.New("recipient is required")
	}
	addrs, err := mail.ParseAddressList(to)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	recipients := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		recipients = append(recipients, addr.String())
	}
	if strings.ContainsAny(subject, "\r\n") {
		return nil, errors.New("subject must be a single line")
	}

	var b strings.Builder
	b.WriteString("To: " + strings.Join(recipients, ", ") + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	return []byte(b.String()), nil
}
