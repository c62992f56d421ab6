// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// MessageContext is the data available to step message templates.
type MessageContext struct {
	IncidentID       int64
	IncidentTitle    string
	IncidentService  string
	IncidentSeverity Severity
	IncidentAge      int
	PolicyName       string
	StepIndex        int
	DelayMinutes     int
	RecipientName    string
	RecipientRole    string
}

// RenderMessage renders a step action's message template with sprig functions
// available. An empty template falls back to a generic attention message; a
// template error falls back the same way so a bad template degrades the
// message, not the notification.
func RenderMessage(tmplStr string, ctx MessageContext) (string, error) {
	if tmplStr == "" {
		return fmt.Sprintf("Incident %d requires attention", ctx.IncidentID), nil
	}

	tmpl, err := template.New("message").Funcs(sprig.FuncMap()).Parse(tmplStr)
	if err != nil {
		return fmt.Sprintf("Incident %d requires attention", ctx.IncidentID),
			fmt.Errorf("parsing message template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return fmt.Sprintf("Incident %d requires attention", ctx.IncidentID),
			fmt.Errorf("executing message template: %w", err)
	}
	return buf.String(), nil
}

// Subject builds the notification subject line for an escalation step.
func Subject(inc Incident, p Policy, stepIndex int) string {
	return fmt.Sprintf("[%s] Escalation step %d: %s", inc.Severity, stepIndex, inc.Title)
}
