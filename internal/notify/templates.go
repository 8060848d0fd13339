package notify

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/models"
)

// RenderedMail is a template instantiated with its data
type RenderedMail struct {
	Subject string
	Body    string
}

type mailTemplate struct {
	subject string
	body    *template.Template
}

var templates = map[models.TemplateKind]mailTemplate{
	models.TemplateWelcome: {
		subject: "Welcome to My Trade Award",
		body: mustParse("welcome",
			"Hi {{.name}},\n\nYour account is ready. Browse our catalog at {{.frontend_url}}.\n"),
	},
	models.TemplatePasswordReset: {
		subject: "Reset your password",
		body: mustParse("password-reset",
			"Hi,\n\nUse this link to reset your password: {{.reset_url}}\nThe link expires in one hour.\n"),
	},
	models.TemplateEmailVerification: {
		subject: "Verify your email address",
		body: mustParse("email-verification",
			"Hi,\n\nPlease confirm your email address: {{.verify_url}}\n"),
	},
	models.TemplateOrderConfirmation: {
		subject: "Your order is confirmed",
		body: mustParse("order-confirmation",
			"Thank you for your purchase!\n\nOrder {{.order_number}} is confirmed and paid ({{.amount}} {{.currency}} minor units).\nWe will let you know as soon as it ships.\n"),
	},
	models.TemplateShipment: {
		subject: "Your order has shipped",
		body: mustParse("shipment-notification",
			"Good news!\n\nOrder {{.order_number}} was handed to {{.courier}}.\nAWB: {{.awb}}\nTrack it here: {{.tracking_url}}\n"),
	},
	models.TemplateDelivery: {
		subject: "Your order was delivered",
		body: mustParse("delivery-notification",
			"Order {{.order_number}} (AWB {{.awb}}) was delivered.\n\nWe hope you enjoy it!\n"),
	},
}

func mustParse(name, text string) *template.Template {
	return template.Must(template.New(name).Option("missingkey=zero").Parse(text))
}

// Render instantiates the fixed template for kind with the given data.
// Unknown kinds are an error so a bad message is dropped, not sent half-empty.
func Render(kind models.TemplateKind, data map[string]string) (RenderedMail, error) {
	tmpl, ok := templates[kind]
	if !ok {
		return RenderedMail{}, fmt.Errorf("unknown template kind %q", kind)
	}

	var buf bytes.Buffer
	if err := tmpl.body.Execute(&buf, data); err != nil {
		return RenderedMail{}, fmt.Errorf("error rendering template %q: %w", kind, err)
	}
	return RenderedMail{Subject: tmpl.subject, Body: buf.String()}, nil
}
