package tool

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
)

const (
	ActionCreateContact = "create_contact"
	ActionUpdateContact = "update_contact"
	ActionCreateDeal    = "create_deal"
	ActionUpdateDeal    = "update_deal"
	ActionSendEmail     = "send_email"
)

// Catalog is the fixed, ordered set of actions the model may propose. It is
// read-only after construction and safe to share between runs.
type Catalog struct {
	actions []contractx.Action
	index   map[string]int
}

func NewCatalog(actions ...contractx.Action) (*Catalog, error) {
	if len(actions) == 0 {
		return nil, errors.New("catalog: at least one action is required")
	}

	c := &Catalog{
		actions: make([]contractx.Action, 0, len(actions)),
		index:   make(map[string]int, len(actions)),
	}
	for _, a := range actions {
		name := strings.TrimSpace(a.Name)
		if name == "" || name != a.Name {
			return nil, fmt.Errorf("catalog: invalid action name %q", a.Name)
		}
		if _, dup := c.index[name]; dup {
			return nil, fmt.Errorf("catalog: duplicate action %q", name)
		}
		seen := make(map[string]struct{}, len(a.Params))
		for _, p := range a.Params {
			if strings.TrimSpace(p.Name) == "" {
				return nil, fmt.Errorf("catalog: action %q has a parameter without name", name)
			}
			if _, dup := seen[p.Name]; dup {
				return nil, fmt.Errorf("catalog: action %q declares %q twice", name, p.Name)
			}
			seen[p.Name] = struct{}{}
			if _, ok := dataTypes[p.Type]; !ok {
				return nil, fmt.Errorf("catalog: action %q parameter %q has unknown type %q", name, p.Name, p.Type)
			}
		}
		c.index[name] = len(c.actions)
		c.actions = append(c.actions, contractx.CloneAction(a))
	}
	return c, nil
}

// MustDefaultCatalog panics when the built-in definitions are malformed; that
// is a startup misconfiguration, not a runtime condition.
func MustDefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultActions()...)
	if err != nil {
		panic(err)
	}
	return c
}

// List returns a copy of the actions in declaration order.
func (c *Catalog) List() []contractx.Action {
	out := make([]contractx.Action, len(c.actions))
	for i := range c.actions {
		out[i] = contractx.CloneAction(c.actions[i])
	}
	return out
}

func (c *Catalog) Lookup(name string) (contractx.Action, bool) {
	i, ok := c.index[name]
	if !ok {
		return contractx.Action{}, false
	}
	return contractx.CloneAction(c.actions[i]), true
}

func (c *Catalog) Has(name string) bool {
	_, ok := c.index[name]
	return ok
}

func (c *Catalog) Names() []string {
	names := make([]string, len(c.actions))
	for i := range c.actions {
		names[i] = c.actions[i].Name
	}
	return names
}

var dataTypes = map[contractx.ParamType]schema.DataType{
	contractx.ParamString:  schema.String,
	contractx.ParamNumber:  schema.Number,
	contractx.ParamBoolean: schema.Boolean,
}

// ToolInfos renders the catalog as the tool schema bound to the chat model.
func (c *Catalog) ToolInfos() []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(c.actions))
	for _, a := range c.actions {
		params := make(map[string]*schema.ParameterInfo, len(a.Params))
		for _, p := range a.Params {
			params[p.Name] = &schema.ParameterInfo{
				Type:     dataTypes[p.Type],
				Desc:     p.Description,
				Required: p.Required,
			}
		}
		infos = append(infos, &schema.ToolInfo{
			Name:        a.Name,
			Desc:        a.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return infos
}

func DefaultActions() []contractx.Action {
	return []contractx.Action{
		{
			Name:        ActionCreateContact,
			Description: "Create a new contact in HubSpot.",
			Params: []contractx.Param{
				{Name: "email", Type: contractx.ParamString, Description: "Contact email address", Required: true},
				{Name: "firstname", Type: contractx.ParamString, Description: "First name"},
				{Name: "lastname", Type: contractx.ParamString, Description: "Last name"},
				{Name: "phone", Type: contractx.ParamString, Description: "Phone number"},
				{Name: "company", Type: contractx.ParamString, Description: "Company name"},
			},
		},
		{
			Name:        ActionUpdateContact,
			Description: "Update an existing HubSpot contact, found by its current email. Only the supplied fields change.",
			Params: []contractx.Param{
				{Name: "email", Type: contractx.ParamString, Description: "Current email used to find the contact", Required: true},
				{Name: "new_email", Type: contractx.ParamString, Description: "Replacement email address"},
				{Name: "firstname", Type: contractx.ParamString, Description: "New first name"},
				{Name: "lastname", Type: contractx.ParamString, Description: "New last name"},
				{Name: "phone", Type: contractx.ParamString, Description: "New phone number"},
				{Name: "company", Type: contractx.ParamString, Description: "New company name"},
			},
		},
		{
			Name:        ActionCreateDeal,
			Description: "Create a new deal in HubSpot.",
			Params: []contractx.Param{
				{Name: "dealname", Type: contractx.ParamString, Description: "Deal name", Required: true},
				{Name: "amount", Type: contractx.ParamNumber, Description: "Deal amount, e.g. 3000"},
				{Name: "dealstage", Type: contractx.ParamString, Description: "Pipeline stage id, e.g. appointmentscheduled"},
				{Name: "pipeline", Type: contractx.ParamString, Description: "Pipeline id, e.g. default"},
				{Name: "closedate", Type: contractx.ParamString, Description: "Expected close date, ISO 8601"},
			},
		},
		{
			Name:        ActionUpdateDeal,
			Description: "Update an existing HubSpot deal, found by its current name. Only the supplied fields change.",
			Params: []contractx.Param{
				{Name: "dealname", Type: contractx.ParamString, Description: "Current deal name used to find the deal", Required: true},
				{Name: "new_dealname", Type: contractx.ParamString, Description: "Replacement deal name"},
				{Name: "amount", Type: contractx.ParamNumber, Description: "New deal amount"},
				{Name: "dealstage", Type: contractx.ParamString, Description: "New pipeline stage id"},
				{Name: "pipeline", Type: contractx.ParamString, Description: "New pipeline id"},
				{Name: "closedate", Type: contractx.ParamString, Description: "New expected close date, ISO 8601"},
			},
		},
		{
			Name:        ActionSendEmail,
			Description: "Send a plain-text email through Gmail.",
			Params: []contractx.Param{
				{Name: "to", Type: contractx.ParamString, Description: "Recipient email address", Required: true},
				{Name: "subject", Type: contractx.ParamString, Description: "Email subject", Required: true},
				{Name: "body", Type: contractx.ParamString, Description: "Email body text", Required: true},
			},
		},
	}
}
