package models

import (
	"bytes"
	"encoding/json"
	"strings"
)

// FlexString accepts a JSON string, number or boolean and keeps its text form.
// Shopify sends ids as numbers and prices as strings, and custom properties
// can be anything.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(data)
	return nil
}

func (f FlexString) String() string {
	return string(f)
}

// Attribute is a {name, value} pair used by note_attributes and line item properties.
type Attribute struct {
	Name  string     `json:"name"`
	Value FlexString `json:"value"`
}

// OrderEvent is the Shopify order webhook payload, reduced to the fields the
// conversion pipeline reads.
type OrderEvent struct {
	ID               FlexString  `json:"id"`
	OrderNumber      FlexString  `json:"order_number"`
	CreatedAt        string      `json:"created_at"`
	Currency         string      `json:"currency"`
	TotalPrice       FlexString  `json:"total_price"`
	Tags             string      `json:"tags"`
	SourceName       string      `json:"source_name"`
	CartToken        string      `json:"cart_token"`
	Email            string      `json:"email"`
	BrowserIP        string      `json:"browser_ip"`
	BrowserUserAgent string      `json:"browser_user_agent"`
	NoteAttributes   []Attribute `json:"note_attributes"`
	LineItems        []LineItem  `json:"line_items"`
	Customer         *Customer   `json:"customer"`
	BillingAddress   *Address    `json:"billing_address"`
	ShippingAddress  *Address    `json:"shipping_address"`
}

type LineItem struct {
	ID                    FlexString      `json:"id"`
	Properties            []Attribute     `json:"properties"`
	SellingPlanAllocation json.RawMessage `json:"selling_plan_allocation"`
}

// HasSellingPlan reports whether the line item carries a non-null selling plan allocation.
func (li LineItem) HasSellingPlan() bool {
	raw := bytes.TrimSpace(li.SellingPlanAllocation)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

type Customer struct {
	ID        FlexString `json:"id"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
}

type Address struct {
	Phone        string `json:"phone"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	City         string `json:"city"`
	ProvinceCode string `json:"province_code"`
	Zip          string `json:"zip"`
	CountryCode  string `json:"country_code"`
}

// Reference returns the order id, falling back to the order number.
func (o *OrderEvent) Reference() string {
	if id := strings.TrimSpace(o.ID.String()); id != "" {
		return id
	}
	return strings.TrimSpace(o.OrderNumber.String())
}

// TagList splits the comma-separated tags, dropping empty entries.
func (o *OrderEvent) TagList() []string {
	var tags []string
	for _, tag := range strings.Split(o.Tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// NoteAttribute returns the value of the last note attribute named name.
func (o *OrderEvent) NoteAttribute(name string) string {
	var value string
	for _, attr := range o.NoteAttributes {
		if attr.Name == name {
			value = attr.Value.String()
		}
	}
	return value
}
