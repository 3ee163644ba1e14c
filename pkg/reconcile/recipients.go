package reconcile

import (
	"strings"

	"order-mailer/pkg/order"
)

// ResolveRecipients decides who receives the document. With customer
// delivery on, the customer is the primary recipient and the CC list is
// copied; with it off, the CC list is the whole audience and its first
// entry becomes primary. A missing audience is a *ValidationError.
func ResolveRecipients(item order.WorkItem) (order.Recipients, error) {
	cc := SplitAddresses(item.CCEmails)

	if item.SendToCustomer {
		primary := strings.TrimSpace(item.Customer.Email)
		if primary == "" {
			return order.Recipients{}, &ValidationError{
				OrderNumber: item.OrderNumber,
				Reason:      "customer has no email address on file",
			}
		}
		return order.Recipients{Primary: primary, CC: cc}, nil
	}

	if len(cc) == 0 {
		return order.Recipients{}, &ValidationError{
			OrderNumber: item.OrderNumber,
			Reason:      "customer delivery disabled and no CC addresses defined",
		}
	}
	return order.Recipients{Primary: cc[0], CC: cc[1:]}, nil
}

// SplitAddresses parses a comma separated address list, dropping blanks.
func SplitAddresses(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
