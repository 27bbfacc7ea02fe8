package hubspot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	gatewayx "github.com/tanpawarit/crm-assistant/pkg/gateway"
)

const (
	objectContacts = "contacts"
	objectDeals    = "deals"

	propertyEmail    = "email"
	propertyDealName = "dealname"

	searchLimit = 10
)

type Config struct {
	AccessToken       string        `envconfig:"ACCESS_TOKEN" split_words:"true" required:"true"`
	BaseURL           string        `envconfig:"BASE_URL" split_words:"true" default:"https://api.hubapi.com"`
	Timeout           time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
	RequestsPerSecond float64       `envconfig:"REQUESTS_PER_SECOND" split_words:"true" default:"0"`
	StrictMatch       bool          `envconfig:"STRICT_MATCH" split_words:"true" default:"false"`
}

// Result identifies the record a call created or updated. Matches is the
// number of records the natural-key search returned (0 for creates).
type Result struct {
	ID      string
	Matches int
}

func (r Result) Ambiguous() bool {
	return r.Matches > 1
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithStrictMatch makes updates fail with KindAmbiguous when the natural key
// matches more than one record instead of picking the first.
func WithStrictMatch() Option {
	return func(c *Client) {
		c.strictMatch = true
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

// Client talks to the HubSpot CRM v3 objects API. It holds no per-call state
// and is safe for concurrent use.
type Client struct {
	rest        *resty.Client
	httpClient  *http.Client
	limiter     *rate.Limiter
	strictMatch bool
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("hubspot base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid hubspot base url: %w", err)
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errors.New("hubspot access token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{strictMatch: cfg.StrictMatch}
	if cfg.RequestsPerSecond > 0 {
		WithRateLimit(rate.Limit(cfg.RequestsPerSecond), 1)(c)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.httpClient != nil {
		c.rest = resty.NewWithClient(c.httpClient)
	} else {
		c.rest = resty.New()
	}
	c.rest.
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return c, nil
}

func MustNew(cfg Config, opts ...Option) *Client {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return client
}

func (c *Client) CreateContact(ctx context.Context, properties map[string]string) (Result, error) {
	const op = "hubspot.create_contact"
	if strings.TrimSpace(properties[propertyEmail]) == "" {
		return Result{}, gatewayx.Errorf(gatewayx.KindInvalid, op, "contact email is required")
	}
	id, err := c.create(ctx, op, objectContacts, properties)
	if err != nil {
		return Result{}, err
	}
	return Result{ID: id}, nil
}

func (c *Client) UpdateContactByEmail(ctx context.Context, email string, properties map[string]string) (Result, error) {
	const op = "hubspot.update_contact"
	email = strings.TrimSpace(email)
	if email == "" {
		return Result{}, gatewayx.Errorf(gatewayx.KindInvalid, op, "contact email is required")
	}
	return c.updateByKey(ctx, op, objectContacts, propertyEmail, email, properties,
		"no contact found with email %s", "%d contacts matched email %s")
}

func (c *Client) CreateDeal(ctx context.Context, dealName string, properties map[string]string) (Result, error) {
	const op = "hubspot.create_deal"
	dealName = strings.TrimSpace(dealName)
	if dealName == "" {
		return Result{}, gatewayx.Errorf(gatewayx.KindInvalid, op, "deal name is required")
	}

	withName := make(map[string]string, len(properties)+1)
	for k, v := range properties {
		withName[k] = v
	}
	withName[propertyDealName] = dealName

	id, err := c.create(ctx, op, objectDeals, withName)
	if err != nil {
		return Result{}, err
	}
	return Result{ID: id}, nil
}

func (c *Client) UpdateDealByName(ctx context.Context, dealName string, properties map[string]string) (Result, error) {
	const op = "hubspot.update_deal"
	dealName = strings.TrimSpace(dealName)
	if dealName == "" {
		return Result{}, gatewayx.Errorf(gatewayx.KindInvalid, op, "deal name is required")
	}
	return c.updateByKey(ctx, op, objectDeals, propertyDealName, dealName, properties,
		"no deal found with name %s", "%d deals matched name %s")
}

type objectInput struct {
	Properties map[string]string `json:"properties"`
}

type objectOutput struct {
	ID string `json:"id"`
}

type searchFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type searchFilterGroup struct {
	Filters []searchFilter `json:"filters"`
}

type searchRequest struct {
	FilterGroups []searchFilterGroup `json:"filterGroups"`
	Properties   []string            `json:"properties"`
	Limit        int                 `json:"limit"`
}

type searchResponse struct {
	Total   int            `json:"total"`
	Results []objectOutput `json:"results"`
}

type apiError struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Category string `json:"category"`
}

func (c *Client) create(ctx context.Context, op, objectType string, properties map[string]string) (string, error) {
	var out objectOutput
	if err := c.do(ctx, op, http.MethodPost, "/crm/v3/objects/"+objectType, nil, objectInput{Properties: properties}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", gatewayx.Errorf(gatewayx.KindTransport, op, "response is missing record id")
	}
	return out.ID, nil
}

func (c *Client) updateByKey(
	ctx context.Context,
	op string,
	objectType string,
	keyProperty string,
	keyValue string,
	properties map[string]string,
	notFoundFormat string,
	ambiguousFormat string,
) (Result, error) {
	var found searchResponse
	req := searchRequest{
		FilterGroups: []searchFilterGroup{{
			Filters: []searchFilter{{PropertyName: keyProperty, Operator: "EQ", Value: keyValue}},
		}},
		Properties: []string{keyProperty},
		Limit:      searchLimit,
	}
	if err := c.do(ctx, op, http.MethodPost, "/crm/v3/objects/"+objectType+"/search", nil, req, &found); err != nil {
		return Result{}, err
	}

	matches := max(found.Total, len(found.Results))
	if len(found.Results) == 0 {
		return Result{}, gatewayx.Errorf(gatewayx.KindNotFound, op, notFoundFormat, keyValue)
	}
	if matches > 1 && c.strictMatch {
		return Result{Matches: matches}, gatewayx.Errorf(gatewayx.KindAmbiguous, op, ambiguousFormat, matches, keyValue)
	}

	id := found.Results[0].ID
	var out objectOutput
	pathParams := map[string]string{"id": id}
	if err := c.do(ctx, op, http.MethodPatch, "/crm/v3/objects/"+objectType+"/{id}", pathParams, objectInput{Properties: properties}, &out); err != nil {
		return Result{Matches: matches}, err
	}
	if out.ID != "" {
		id = out.ID
	}
	return Result{ID: id, Matches: matches}, nil
}

func (c *Client) do(
	ctx context.Context,
	op string,
	method string,
	path string,
	pathParams map[string]string,
	body any,
	result any,
) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return gatewayx.FromRequestError(op, err)
		}
	}

	var apiErr apiError
	req := c.rest.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(&apiErr)
	if len(pathParams) > 0 {
		req.SetPathParams(pathParams)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return gatewayx.FromRequestError(op, err)
	}
	if resp.IsError() {
		detail := strings.TrimSpace(apiErr.Message)
		if detail == "" {
			detail = strings.TrimSpace(resp.String())
		}
		return gatewayx.Errorf(gatewayx.KindForStatus(resp.StatusCode()), op, "status=%d: %s", resp.StatusCode(), detail)
	}
	return nil
}
