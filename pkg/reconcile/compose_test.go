package reconcile

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"

	"order-mailer/pkg/mailer"
	"order-mailer/pkg/order"
)

func render(msg mailer.Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "To: %s\n", msg.To)
	fmt.Fprintf(&b, "CC: %s\n", strings.Join(msg.CC, ", "))
	fmt.Fprintf(&b, "Attachment: %s\n\n", msg.AttachmentName)
	b.WriteString(msg.Body)
	b.WriteString("\n")
	return []byte(b.String())
}

func composeItem(reason order.Reason, version int) order.WorkItem {
	rec := pending(1, 123, fixedNow)
	rec.Customer.Name = "Maria Silva"
	return order.WorkItem{
		Record:   rec,
		Document: order.Document{Path: "PEDIDO 0000123.pdf", Version: version},
		Reason:   reason,
	}
}

func TestComposeMessages(t *testing.T) {
	to := order.Recipients{Primary: "a@x.com", CC: []string{"b@x.com"}}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	tests := []struct {
		name    string
		reason  order.Reason
		version int
	}{
		{"first_send", order.ReasonFirstSend, 1},
		{"revalidate", order.ReasonRevalidateError, 1},
		{"resend", order.ReasonResendNewer, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Compose(composeItem(tt.reason, tt.version), to, DefaultSenderName, fixedNow)
			g.Assert(t, tt.name, render(msg))
		})
	}
}

func TestAttachmentName(t *testing.T) {
	assert.Equal(t, "Pedido_123.pdf", AttachmentName(composeItem(order.ReasonFirstSend, 1)))
	assert.Equal(t, "Pedido_123.pdf", AttachmentName(composeItem(order.ReasonRevalidateError, 2)))
	assert.Equal(t, "Pedido_123_v4.pdf", AttachmentName(composeItem(order.ReasonResendNewer, 4)))
}
