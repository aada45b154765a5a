package executor

import (
	"fmt"
	"strings"
)

// DomainModule is one conversational domain's capability surface: a prompt
// description over the current working data and the action names it offers.
type DomainModule interface {
	Id() string
	Describe(workingData map[string]any) string
	Actions() []string
}

// DomainRegistry maps module ids to capabilities. It is populated once at
// construction; there is no late-bound lookup.
type DomainRegistry struct {
	modules map[string]DomainModule
}

func NewDomainRegistry(modules ...DomainModule) *DomainRegistry {
	reg := &DomainRegistry{modules: make(map[string]DomainModule, len(modules))}
	for _, m := range modules {
		reg.modules[m.Id()] = m
	}
	return reg
}

func (dr *DomainRegistry) Get(id string) (DomainModule, error) {
	module, ok := dr.modules[id]
	if !ok {
		return nil, fmt.Errorf("unknown domain module %q", id)
	}
	return module, nil
}

// DefaultDomainRegistry carries the closed set of delivery-commerce domains.
func DefaultDomainRegistry() *DomainRegistry {
	return NewDomainRegistry(
		orderingModule{},
		complaintModule{},
		vendorModule{},
		riderModule{},
	)
}

type orderingModule struct{}

func (orderingModule) Id() string { return "ordering" }

func (orderingModule) Describe(workingData map[string]any) string {
	var sb strings.Builder
	sb.WriteString("You help the customer assemble and place a delivery order.")
	if cart, ok := workingData["cart"].([]any); ok && len(cart) > 0 {
		sb.WriteString(fmt.Sprintf(" The cart currently holds %d items.", len(cart)))
	}
	if vendor, ok := workingData["favorite_vendor"].(string); ok && vendor != "" {
		sb.WriteString(fmt.Sprintf(" The customer usually orders from %s.", vendor))
	}
	return sb.String()
}

func (orderingModule) Actions() []string {
	return []string{"add_to_cart", "remove_from_cart", "checkout"}
}

type complaintModule struct{}

func (complaintModule) Id() string { return "complaints" }

func (complaintModule) Describe(workingData map[string]any) string {
	base := "You help the customer report a problem with a past order and route it for resolution."
	if orderId, ok := workingData["order_id"].(string); ok && orderId != "" {
		return fmt.Sprintf("%s The complaint concerns order %s.", base, orderId)
	}
	return base
}

func (complaintModule) Actions() []string {
	return []string{"open_ticket", "request_refund", "escalate"}
}

type vendorModule struct{}

func (vendorModule) Id() string { return "vendor" }

func (vendorModule) Describe(workingData map[string]any) string {
	return "You assist a vendor with menu updates, availability, and incoming order management."
}

func (vendorModule) Actions() []string {
	return []string{"toggle_item", "accept_order", "set_prep_time"}
}

type riderModule struct{}

func (riderModule) Id() string { return "rider" }

func (riderModule) Describe(workingData map[string]any) string {
	return "You assist a delivery rider with pickups, dropoffs, and route issues."
}

func (riderModule) Actions() []string {
	return []string{"confirm_pickup", "confirm_dropoff", "report_delay"}
}
