package delivery

import (
	"encoding/base64"
	"sort"

	"github.com/zoff-tech/go-notify/pkg/job"
)

type emailRequest struct {
	From        string            `json:"from"`
	To          []string          `json:"to"`
	Cc          []string          `json:"cc,omitempty"`
	Bcc         []string          `json:"bcc,omitempty"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Subject     string            `json:"subject"`
	HTML        string            `json:"html,omitempty"`
	Text        string            `json:"text,omitempty"`
	Template    *templateRequest  `json:"template,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Attachments []attachment      `json:"attachments,omitempty"`
	Tags        []tag             `json:"tags,omitempty"`
}

type templateRequest struct {
	ID        string         `json:"id"`
	Variables map[string]any `json:"variables,omitempty"`
}

type attachment struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

type tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type emailResponse struct {
	ID         string              `json:"id"`
	Recipients []recipientResponse `json:"recipients,omitempty"`
}

type recipientResponse struct {
	Email  string `json:"email"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type errorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func newEmailRequest(msg *job.Message, defaultFrom string) emailRequest {
	req := emailRequest{
		From:    msg.From,
		To:      nonEmpty(msg.To),
		Cc:      msg.Cc,
		Bcc:     msg.Bcc,
		ReplyTo: msg.ReplyTo,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		Headers: msg.Headers,
	}
	if req.From == "" {
		req.From = defaultFrom
	}
	if msg.Template != nil && msg.Template.ID != "" {
		req.Template = &templateRequest{ID: msg.Template.ID, Variables: msg.Template.Variables}
	}
	for _, a := range msg.Attachments {
		req.Attachments = append(req.Attachments, attachment{
			Filename:    a.Filename,
			Content:     base64.StdEncoding.EncodeToString(a.Content),
			ContentType: a.ContentType,
		})
	}
	if len(msg.Tags) > 0 {
		names := make([]string, 0, len(msg.Tags))
		for name := range msg.Tags {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			req.Tags = append(req.Tags, tag{Name: name, Value: msg.Tags[name]})
		}
	}
	return req
}

// failures returns the rejected recipients and whether any were accepted.
// A response without recipient detail counts as accepted.
func (r emailResponse) failures() ([]job.RecipientFailure, bool) {
	if len(r.Recipients) == 0 {
		return nil, true
	}
	var failed []job.RecipientFailure
	accepted := false
	for _, rcpt := range r.Recipients {
		if rcpt.Status == "rejected" {
			failed = append(failed, job.RecipientFailure{Recipient: rcpt.Email, Reason: rcpt.Reason})
			continue
		}
		accepted = true
	}
	return failed, accepted
}
