package alerts

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/sudo-init-do/tradiehub/internal/domain"
)

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
}

var templateSources = map[domain.EventType][2]string{
	domain.EventQuoteAccepted: {
		"Your quote was accepted",
		"Hi {{.name}}, your quote of {{.amount}} {{.currency}} was accepted. The owner will now pay into escrow.",
	},
	domain.EventQuoteRejected: {
		"Your quote was not selected",
		"Hi {{.name}}, {{with .reason}}{{.}}, so your quote no longer stands{{else}}the owner chose another quote for this project{{end}}. Thanks for quoting.",
	},
	domain.EventPaymentConfirmed: {
		"Payment received: {{.amount}} {{.currency}}",
		"Hi {{.name}}, a payment of {{.amount}} {{.currency}} was confirmed and is now held in escrow.",
	},
	domain.EventPaymentFailed: {
		"Payment not completed",
		"Hi {{.name}}, your payment of {{.amount}} {{.currency}} did not go through{{with .reason}} ({{.}}){{end}}.",
	},
	domain.EventEscrowOpened: {
		"Funds held in escrow",
		"Hi {{.name}}, {{.gross}} {{.currency}} is held in escrow. It is released automatically on {{.protection_end}} unless a dispute is raised.",
	},
	domain.EventEscrowReleased: {
		"Escrow released",
		"Hi {{.name}}, escrow funds have been released. {{.net}} {{.currency}} is now available to the tradie.",
	},
	domain.EventEscrowDisputed: {
		"Escrow disputed",
		"Hi {{.name}}, a dispute was raised on an escrow of {{.gross}} {{.currency}}: {{.reason}}. Automatic release is paused until it is resolved.",
	},
	domain.EventDisputeResolved: {
		"Dispute resolved",
		"Hi {{.name}}, the dispute on your escrow was resolved ({{.outcome}}).{{with .notes}} Notes: {{.}}{{end}}",
	},
	domain.EventProtectionExpiring: {
		"Escrow releases soon",
		"Hi {{.name}}, {{.gross}} {{.currency}} held in escrow will be released on {{.protection_end}}. Raise a dispute before then if something is wrong.",
	},
	domain.EventWithdrawalRequest: {
		"Withdrawal requested: {{.reference}}",
		"Hi {{.name}}, we received your withdrawal of {{.amount}} {{.currency}} (ref {{.reference}}). Expected in {{.estimate}}.",
	},
	domain.EventWithdrawalComplete: {
		"Withdrawal completed: {{.reference}}",
		"Hi {{.name}}, your withdrawal of {{.amount}} {{.currency}} (ref {{.reference}}) has been paid.",
	},
	domain.EventWithdrawalFailed: {
		"Withdrawal failed: {{.reference}}",
		"Hi {{.name}}, your withdrawal of {{.amount}} {{.currency}} (ref {{.reference}}) failed{{with .reason}}: {{.}}{{end}}. The funds are back in your available balance.",
	},
}

// fallback renders event types without a dedicated template.
var fallback = messageTemplate{
	subject: template.Must(template.New("subject").Parse("TradieHub update")),
	body:    template.Must(template.New("body").Parse("Hi {{.name}}, there is an update on your TradieHub account.")),
}

func compileTemplates() (map[domain.EventType]messageTemplate, error) {
	out := make(map[domain.EventType]messageTemplate, len(templateSources))
	for t, src := range templateSources {
		subject, err := template.New(string(t) + ".subject").Option("missingkey=zero").Parse(src[0])
		if err != nil {
			return nil, fmt.Errorf("template %s subject: %w", t, err)
		}
		body, err := template.New(string(t) + ".body").Option("missingkey=zero").Parse(src[1])
		if err != nil {
			return nil, fmt.Errorf("template %s body: %w", t, err)
		}
		out[t] = messageTemplate{subject: subject, body: body}
	}
	return out, nil
}

func (m messageTemplate) render(data map[string]string) (subject, body string, err error) {
	var sb, bb strings.Builder
	if err := m.subject.Execute(&sb, data); err != nil {
		return "", "", err
	}
	if err := m.body.Execute(&bb, data); err != nil {
		return "", "", err
	}
	return sb.String(), bb.String(), nil
}
