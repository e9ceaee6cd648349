package job

// Message is a fully rendered notification ready to hand to a sender.
type Message struct {
	From        string            `json:"from,omitempty" bson:"from,omitempty"`
	To          []string          `json:"to" bson:"to"`
	Cc          []string          `json:"cc,omitempty" bson:"cc,omitempty"`
	Bcc         []string          `json:"bcc,omitempty" bson:"bcc,omitempty"`
	ReplyTo     string            `json:"reply_to,omitempty" bson:"reply_to,omitempty"`
	Subject     string            `json:"subject" bson:"subject"`
	HTML        string            `json:"html,omitempty" bson:"html,omitempty"`
	Text        string            `json:"text,omitempty" bson:"text,omitempty"`
	Template    *TemplateRef      `json:"template,omitempty" bson:"template,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty" bson:"attachments,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" bson:"headers,omitempty"`
	Tags        map[string]string `json:"tags,omitempty" bson:"tags,omitempty"`
}

// TemplateRef points at a template stored on the provider side.
type TemplateRef struct {
	ID        string         `json:"id" bson:"id"`
	Variables map[string]any `json:"variables,omitempty" bson:"variables,omitempty"`
}

// Attachment is a file sent along with the message.
type Attachment struct {
	Filename    string `json:"filename" bson:"filename"`
	Content     []byte `json:"content" bson:"content"`
	ContentType string `json:"content_type,omitempty" bson:"content_type,omitempty"`
}

// Recipients returns every address on the message (To, Cc, Bcc).
func (m *Message) Recipients() []string {
	all := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	all = append(all, m.To...)
	all = append(all, m.Cc...)
	return append(all, m.Bcc...)
}

// Clone returns a deep copy so callers can keep the message immutable.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.To = cloneStrings(m.To)
	cp.Cc = cloneStrings(m.Cc)
	cp.Bcc = cloneStrings(m.Bcc)
	cp.Headers = cloneMap(m.Headers)
	cp.Tags = cloneMap(m.Tags)
	if m.Template != nil {
		t := *m.Template
		if m.Template.Variables != nil {
			t.Variables = make(map[string]any, len(m.Template.Variables))
			for k, v := range m.Template.Variables {
				t.Variables[k] = v
			}
		}
		cp.Template = &t
	}
	if m.Attachments != nil {
		cp.Attachments = make([]Attachment, len(m.Attachments))
		for i, a := range m.Attachments {
			a.Content = append([]byte(nil), a.Content...)
			cp.Attachments[i] = a
		}
	}
	return &cp
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
