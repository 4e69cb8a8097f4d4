package external

import (
	"time"

	"github.com/zllovesuki/billsync/resolver"

	"github.com/stripe/stripe-go/v79"
	"github.com/tidwall/gjson"
)

// parentSubscriptionPath is where newer API versions place an invoice's
// subscription. stripe-go v79 does not model it, so it is read from the raw body.
const parentSubscriptionPath = "parent.subscription_details.subscription"

func optional(id string) *string {
	if len(id) == 0 {
		return nil
	}
	return &id
}

func unixTime(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}

func rawObject(resp *stripe.APIResponse) gjson.Result {
	if resp == nil {
		return gjson.Result{}
	}
	return gjson.ParseBytes(resp.RawJSON)
}

// expandableID reads an expandable field that is either an id or an object
func expandableID(r gjson.Result) *string {
	switch {
	case r.Type == gjson.String:
		return optional(r.String())
	case r.IsObject():
		return optional(r.Get("id").String())
	default:
		return nil
	}
}

func invoiceObject(inv *stripe.Invoice, raw gjson.Result) *resolver.InvoiceObject {
	if inv == nil || len(inv.ID) == 0 {
		return nil
	}
	obj := &resolver.InvoiceObject{
		ID:                   inv.ID,
		ParentSubscriptionID: expandableID(raw.Get(parentSubscriptionPath)),
		AmountPaid:           inv.AmountPaid,
		Currency:             string(inv.Currency),
	}
	if inv.Subscription != nil {
		obj.SubscriptionID = optional(inv.Subscription.ID)
	}
	if inv.PaymentIntent != nil {
		obj.PaymentIntentID = optional(inv.PaymentIntent.ID)
		if inv.PaymentIntent.LatestCharge != nil {
			obj.PaymentIntentLatestChargeID = optional(inv.PaymentIntent.LatestCharge.ID)
		}
	}
	if inv.Charge != nil {
		obj.ChargeID = optional(inv.Charge.ID)
	}
	if inv.Customer != nil {
		obj.CustomerID = optional(inv.Customer.ID)
	}
	return obj
}
