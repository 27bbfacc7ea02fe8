package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	gatewayx "github.com/tanpawarit/crm-assistant/pkg/gateway"
	gmailx "github.com/tanpawarit/crm-assistant/pkg/gmail"
	hubspotx "github.com/tanpawarit/crm-assistant/pkg/hubspot"
	metricsx "github.com/tanpawarit/crm-assistant/pkg/metrics"
	tracingx "github.com/tanpawarit/crm-assistant/pkg/tracing"
)

const DefaultActionTimeout = 20 * time.Second

type CRMGateway interface {
	CreateContact(ctx context.Context, properties map[string]string) (hubspotx.Result, error)
	UpdateContactByEmail(ctx context.Context, email string, properties map[string]string) (hubspotx.Result, error)
	CreateDeal(ctx context.Context, dealName string, properties map[string]string) (hubspotx.Result, error)
	UpdateDealByName(ctx context.Context, dealName string, properties map[string]string) (hubspotx.Result, error)
}

type EmailGateway interface {
	SendEmail(ctx context.Context, to, subject, body string) (gmailx.Result, error)
}

var (
	_ CRMGateway   = (*hubspotx.Client)(nil)
	_ EmailGateway = (*gmailx.Client)(nil)
)

type handlerResult struct {
	ExternalID string
	Message    string
}

type handler func(ctx context.Context, args Args) (handlerResult, error)

type DispatcherOption func(*Dispatcher)

func WithActionTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func WithLogger(logger zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// Dispatcher validates invocations against the catalog and routes them to a
// gateway through a routing table fixed at construction.
type Dispatcher struct {
	catalog *Catalog
	crm     CRMGateway
	email   EmailGateway
	routes  map[string]handler
	timeout time.Duration
	logger  zerolog.Logger
}

var _ contractx.ActionDispatcher = (*Dispatcher)(nil)

func NewDispatcher(catalog *Catalog, crm CRMGateway, email EmailGateway, opts ...DispatcherOption) (*Dispatcher, error) {
	if catalog == nil {
		return nil, errors.New("action catalog is required")
	}
	if crm == nil {
		return nil, errors.New("crm gateway is required")
	}
	if email == nil {
		return nil, errors.New("email gateway is required")
	}

	d := &Dispatcher{
		catalog: catalog,
		crm:     crm,
		email:   email,
		timeout: DefaultActionTimeout,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	handlers := map[string]handler{
		ActionCreateContact: d.createContact,
		ActionUpdateContact: d.updateContact,
		ActionCreateDeal:    d.createDeal,
		ActionUpdateDeal:    d.updateDeal,
		ActionSendEmail:     d.sendEmail,
	}
	d.routes = make(map[string]handler, len(handlers))
	for _, name := range catalog.Names() {
		h, ok := handlers[name]
		if !ok {
			return nil, fmt.Errorf("no handler for catalog action %q", name)
		}
		d.routes[name] = h
	}

	return d, nil
}

// Dispatch always returns an Outcome. Validation and gateway failures become
// unsuccessful outcomes; no error or panic crosses this boundary.
func (d *Dispatcher) Dispatch(ctx context.Context, inv contractx.Invocation) (out contractx.Outcome) {
	inv = contractx.CloneInvocation(inv)
	started := time.Now()
	label := inv.Action
	if !d.catalog.Has(label) {
		label = "unknown"
	}

	ctx, span := tracingx.StartActionSpan(ctx, inv.Action, inv.CallID)
	var spanErr error
	defer func() {
		if r := recover(); r != nil {
			spanErr = fmt.Errorf("action %s panicked: %v", inv.Action, r)
			out = failed(inv, fmt.Sprintf("%s failed: internal error", inv.Action))
			d.logger.Error().Str("action", inv.Action).Interface("panic", r).Msg("action handler panicked")
		}
		metricsx.ActionTotal.WithLabelValues(label, metricsx.Result(out.Success)).Inc()
		metricsx.ActionDuration.WithLabelValues(label).Observe(time.Since(started).Seconds())
		tracingx.EndSpan(span, spanErr)
	}()

	action, ok := d.catalog.Lookup(inv.Action)
	route, routed := d.routes[inv.Action]
	if !ok || !routed {
		spanErr = fmt.Errorf("%w: %q", contractx.ErrCatalogMismatch, inv.Action)
		d.logger.Warn().Str("action", inv.Action).Msg("rejected invocation of unknown action")
		return failed(inv, fmt.Sprintf("unknown action %q: available actions are %s", inv.Action, strings.Join(d.catalog.Names(), ", ")))
	}

	args, err := bindArgs(action, inv.Args)
	if err != nil {
		spanErr = err
		d.logger.Debug().Str("action", inv.Action).Err(err).Msg("invocation failed validation")
		return failed(inv, describeFailure(inv.Action, err))
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res, err := route(callCtx, args)
	if err != nil {
		spanErr = err
		d.logger.Info().Str("action", inv.Action).Str("kind", string(gatewayx.KindOf(err))).Err(err).Msg("action failed")
		return failed(inv, describeFailure(inv.Action, err))
	}

	d.logger.Debug().Str("action", inv.Action).Str("external_id", res.ExternalID).Msg("action succeeded")
	return contractx.Outcome{
		Invocation: inv,
		Success:    true,
		Message:    res.Message,
		ExternalID: res.ExternalID,
	}
}

func failed(inv contractx.Invocation, message string) contractx.Outcome {
	return contractx.Outcome{Invocation: inv, Success: false, Message: message}
}

func describeFailure(action string, err error) string {
	if errors.Is(err, contractx.ErrValidation) {
		detail := strings.TrimPrefix(err.Error(), contractx.ErrValidation.Error()+": ")
		return fmt.Sprintf("invalid arguments for %s: %s", action, detail)
	}

	label := strings.ReplaceAll(string(gatewayx.KindOf(err)), "_", " ")
	return fmt.Sprintf("%s failed: %s: %s", action, label, gatewayx.Detail(err))
}

func (d *Dispatcher) createContact(ctx context.Context, args Args) (handlerResult, error) {
	res, err := d.crm.CreateContact(ctx, args.Properties(nil, nil))
	if err != nil {
		return handlerResult{}, err
	}
	return handlerResult{
		ExternalID: res.ID,
		Message:    fmt.Sprintf("Contact %s created successfully (id %s).", args.Get("email"), res.ID),
	}, nil
}

func (d *Dispatcher) updateContact(ctx context.Context, args Args) (handlerResult, error) {
	email := args.Get("email")
	props := args.Properties([]string{"email"}, map[string]string{"new_email": "email"})
	if len(props) == 0 {
		return handlerResult{}, fmt.Errorf("%w: at least one field to update is required", contractx.ErrValidation)
	}

	res, err := d.crm.UpdateContactByEmail(ctx, email, props)
	if err != nil {
		return handlerResult{}, err
	}
	msg := fmt.Sprintf("Contact %s updated successfully (id %s).", email, res.ID)
	if res.Ambiguous() {
		msg += fmt.Sprintf(" Note: %d contacts matched email %s; the first one returned by the CRM was updated.", res.Matches, email)
	}
	return handlerResult{ExternalID: res.ID, Message: msg}, nil
}

func (d *Dispatcher) createDeal(ctx context.Context, args Args) (handlerResult, error) {
	name := args.Get("dealname")
	res, err := d.crm.CreateDeal(ctx, name, args.Properties([]string{"dealname"}, nil))
	if err != nil {
		return handlerResult{}, err
	}
	return handlerResult{
		ExternalID: res.ID,
		Message:    fmt.Sprintf("Deal %q created successfully (id %s).", name, res.ID),
	}, nil
}

func (d *Dispatcher) updateDeal(ctx context.Context, args Args) (handlerResult, error) {
	name := args.Get("dealname")
	props := args.Properties([]string{"dealname"}, map[string]string{"new_dealname": "dealname"})
	if len(props) == 0 {
		return handlerResult{}, fmt.Errorf("%w: at least one field to update is required", contractx.ErrValidation)
	}

	res, err := d.crm.UpdateDealByName(ctx, name, props)
	if err != nil {
		return handlerResult{}, err
	}
	msg := fmt.Sprintf("Deal %q updated successfully (id %s).", name, res.ID)
	if res.Ambiguous() {
		msg += fmt.Sprintf(" Note: %d deals matched name %q; the first one returned by the CRM was updated.", res.Matches, name)
	}
	return handlerResult{ExternalID: res.ID, Message: msg}, nil
}

func (d *Dispatcher) sendEmail(ctx context.Context, args Args) (handlerResult, error) {
	to := args.Get("to")
	res, err := d.email.SendEmail(ctx, to, args.Get("subject"), args.Get("body"))
	if err != nil {
		return handlerResult{}, err
	}
	return handlerResult{
		ExternalID: res.ID,
		Message:    fmt.Sprintf("Email sent to %s (message id %s).", to, res.ID),
	}, nil
}
