package reconcile

import (
	"fmt"
	"strings"
	"time"

	"order-mailer/pkg/mailer"
	"order-mailer/pkg/order"
)

// AttachmentName is the file name the customer sees. Resends carry the version.
func AttachmentName(item order.WorkItem) string {
	if item.Resend() {
		return fmt.Sprintf("Pedido_%d_v%d.pdf", item.OrderNumber, item.Document.Version)
	}
	return fmt.Sprintf("Pedido_%d.pdf", item.OrderNumber)
}

// Compose builds the message for a work item, without the attachment bytes.
func Compose(item order.WorkItem, to order.Recipients, sender string, now time.Time) mailer.Message {
	date := now.Format("02/01/2006")

	subject := fmt.Sprintf("Pedido #%d - PDF Disponível", item.OrderNumber)
	if item.Resend() {
		subject = fmt.Sprintf("Pedido #%d - PDF Atualizado", item.OrderNumber)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Prezado(a) %s,\n\n", item.Customer.Name)
	if item.Resend() {
		fmt.Fprintf(&b, "Seu pedido #%d teve informações atualizadas.\n\n", item.OrderNumber)
		b.WriteString("• Nova versão do pedido em anexo\n")
		fmt.Fprintf(&b, "• Versão: %d\n", item.Document.Version)
		fmt.Fprintf(&b, "• Atualizado em: %s\n\n", date)
		b.WriteString("Esta versão substitui a anterior.")
	} else {
		fmt.Fprintf(&b, "Seu pedido #%d foi finalizado com sucesso!\n\n", item.OrderNumber)
		b.WriteString("• Pedido em anexo\n")
		fmt.Fprintf(&b, "• Data da venda: %s\n", date)
		b.WriteString("• Status: Concluído")
	}
	fmt.Fprintf(&b, "\n\nObrigado pela sua compra!\n\nAtenciosamente,\n%s", sender)

	return mailer.Message{
		To:             to.Primary,
		CC:             to.CC,
		Subject:        subject,
		Body:           b.String(),
		AttachmentName: AttachmentName(item),
	}
}
