package services

import (
	htmltemplate "html/template"
	texttemplate "text/template"
)

type emailTemplate struct {
	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

func mustEmailTemplate(name, subject, text, html string) emailTemplate {
	return emailTemplate{
		subject: texttemplate.Must(texttemplate.New(name + "_subject").Parse(subject)),
		text:    texttemplate.Must(texttemplate.New(name + "_text").Parse(text)),
		html:    htmltemplate.Must(htmltemplate.New(name + "_html").Parse(html)),
	}
}

var leadEmail = mustEmailTemplate("lead",
	`[LEAD {{.Level}}] {{.Contact}} - {{.CompanyName}}`,
	`New lead for {{.CompanyName}}

Contact: {{.Contact}}
Phone: {{.Phone}}
Interest level: {{.Analysis.PurchaseInterestLevel}}
Intent: {{.Analysis.PrimaryIntent}}
Sentiment: {{.Analysis.UserSentiment}}
{{- if .Analysis.SpecificInterests}}
Interests: {{range $i, $s := .Analysis.SpecificInterests}}{{if $i}}, {{end}}{{$s}}{{end}}
{{- end}}
{{- if .Analysis.ContactInfo}}
Preferred contact: {{.Analysis.ContactInfo.Type}} {{.Analysis.ContactInfo.Value}}
{{- end}}
{{- if .Analysis.FollowUpNeeded}}
Follow-up: {{.Analysis.FollowUpReason}}
{{- end}}

Summary:
{{.Analysis.Summary}}

Session: {{.SessionID}} ({{.StartedAt}} - {{.EndedAt}})
`,
	`<h2>New lead for {{.CompanyName}}</h2>
<table>
<tr><td><b>Contact</b></td><td>{{.Contact}}</td></tr>
<tr><td><b>Phone</b></td><td>{{.Phone}}</td></tr>
<tr><td><b>Interest level</b></td><td>{{.Analysis.PurchaseInterestLevel}}</td></tr>
<tr><td><b>Intent</b></td><td>{{.Analysis.PrimaryIntent}}</td></tr>
<tr><td><b>Sentiment</b></td><td>{{.Analysis.UserSentiment}}</td></tr>
{{- if .Analysis.SpecificInterests}}
<tr><td><b>Interests</b></td><td>{{range $i, $s := .Analysis.SpecificInterests}}{{if $i}}, {{end}}{{$s}}{{end}}</td></tr>
{{- end}}
{{- if .Analysis.ContactInfo}}
<tr><td><b>Preferred contact</b></td><td>{{.Analysis.ContactInfo.Type}} {{.Analysis.ContactInfo.Value}}</td></tr>
{{- end}}
{{- if .Analysis.FollowUpNeeded}}
<tr><td><b>Follow-up</b></td><td>{{.Analysis.FollowUpReason}}</td></tr>
{{- end}}
</table>
<p>{{.Analysis.Summary}}</p>
<p><small>Session {{.SessionID}} ({{.StartedAt}} - {{.EndedAt}})</small></p>
`)

var newTicketEmail = mustEmailTemplate("new_ticket",
	`[NUEVO TICKET] {{.Ticket.Title}} - {{.CompanyName}}`,
	`A new ticket was opened for {{.CompanyName}}

Title: {{.Ticket.Title}}
Category: {{.Category}}
Priority: {{.Ticket.Priority}}
Reported by: {{.Contact}} ({{.Phone}})
{{- if .Caption}}
Caption: {{.Caption}}
{{- end}}

Description:
{{.Ticket.Description}}

Ticket: {{.Ticket.ID}}
{{- if .ImageURL}}
Image: {{.ImageURL}}
{{- end}}
`,
	`<h2>New ticket for {{.CompanyName}}</h2>
<table>
<tr><td><b>Title</b></td><td>{{.Ticket.Title}}</td></tr>
<tr><td><b>Category</b></td><td>{{.Category}}</td></tr>
<tr><td><b>Priority</b></td><td>{{.Ticket.Priority}}</td></tr>
<tr><td><b>Reported by</b></td><td>{{.Contact}} ({{.Phone}})</td></tr>
{{- if .Caption}}
<tr><td><b>Caption</b></td><td>{{.Caption}}</td></tr>
{{- end}}
</table>
<p>{{.Ticket.Description}}</p>
{{- if .ImageURL}}
<p><a href="{{.ImageURL}}">View image</a></p>
{{- end}}
<p><small>Ticket {{.Ticket.ID}}</small></p>
`)

var ticketImageEmail = mustEmailTemplate("ticket_image",
	`[TICKET] New image on "{{.Ticket.Title}}" - {{.CompanyName}}`,
	`A new image was added to ticket "{{.Ticket.Title}}" ({{.Ticket.Status}})

From: {{.Contact}} ({{.Phone}})
{{- if .Caption}}
Caption: {{.Caption}}
{{- end}}

Image description:
{{.Description}}

Ticket: {{.Ticket.ID}}
{{- if .ImageURL}}
Image: {{.ImageURL}}
{{- end}}
`,
	`<h2>New image on ticket "{{.Ticket.Title}}"</h2>
<p>Status: {{.Ticket.Status}}<br>From: {{.Contact}} ({{.Phone}})</p>
{{- if .Caption}}
<p><b>Caption:</b> {{.Caption}}</p>
{{- end}}
<p>{{.Description}}</p>
{{- if .ImageURL}}
<p><a href="{{.ImageURL}}">View image</a></p>
{{- end}}
<p><small>Ticket {{.Ticket.ID}}</small></p>
`)
