package email

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"html/template"
	"strings"
	texttemplate "text/template"

	"github.com/microcosm-cc/bluemonday"

	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/internal/render"
)

// ErrNoRecipient is returned when the user has no email address.
var ErrNoRecipient = errors.New("user has no email address")

type locale struct {
	subject  string
	greeting string
	footer   string
}

var locales = map[string]locale{
	"en": {subject: "You have new notifications", greeting: "Hello", footer: "You are receiving this because you have unread notifications."},
	"pl": {subject: "Masz nowe powiadomienia", greeting: "Witaj", footer: "Otrzymujesz tę wiadomość, ponieważ masz nieprzeczytane powiadomienia."},
	"de": {subject: "Sie haben neue Benachrichtigungen", greeting: "Hallo", footer: "Sie erhalten diese E-Mail, weil Sie ungelesene Benachrichtigungen haben."},
}

const htmlLayout = `<!DOCTYPE html>
<html lang="{{.Lang}}">
<body>
<p>{{.Greeting}} {{.Name}},</p>
<ul>
{{- range .Items}}
<li>{{if .Link}}<a href="{{.Link}}">{{.Title}}</a>{{else}}{{.Title}}{{end}}{{if .Body}}<div>{{.Body}}</div>{{end}}</li>
{{- end}}
</ul>
<p><small>{{.Footer}}</small></p>
</body>
</html>
`

const textLayout = `{{.Greeting}} {{.Name}},
{{range .Items}}
- {{.Title}}{{if .Body}}: {{.Body}}{{end}}{{if .Link}} ({{.Link}}){{end}}
{{- end}}

{{.Footer}}
`

type htmlItem struct {
	Title template.HTML
	Body  template.HTML
	Link  string
}

type textItem struct {
	Title string
	Body  string
	Link  string
}

type layoutData[T any] struct {
	Lang     string
	Greeting string
	Name     string
	Footer   string
	Items    []T
}

// Composer builds digest emails. Rendered fragments come from other
// services, so their markup is sanitized before it reaches the template.
type Composer struct {
	languages []string
	subject   string
	ugc       *bluemonday.Policy
	strict    *bluemonday.Policy
	html      *template.Template
	text      *texttemplate.Template
}

// NewComposer takes the enabled languages in preference order; the first is
// the fallback. A non-empty subject overrides the localized one.
func NewComposer(languages []string, subject string) *Composer {
	var enabled []string
	for _, l := range languages {
		if _, ok := locales[l]; ok {
			enabled = append(enabled, l)
		}
	}
	if len(enabled) == 0 {
		enabled = []string{"en"}
	}
	return &Composer{
		languages: enabled,
		subject:   subject,
		ugc:       bluemonday.UGCPolicy(),
		strict:    bluemonday.StrictPolicy(),
		html:      template.Must(template.New("digest").Parse(htmlLayout)),
		text:      texttemplate.Must(texttemplate.New("digest").Parse(textLayout)),
	}
}

// Language picks the profile's language when enabled, otherwise the first
// configured one.
func (c *Composer) Language(profile *model.UserProfile) string {
	for _, l := range c.languages {
		if l == profile.Language {
			return l
		}
	}
	return c.languages[0]
}

func (c *Composer) Compose(profile *model.UserProfile, fragments []render.Fragment) (*Message, error) {
	if profile.Email == "" {
		return nil, ErrNoRecipient
	}

	lang := c.Language(profile)
	loc := locales[lang]
	name := profile.Display
	if name == "" {
		name = profile.Email
	}

	htmlData := layoutData[htmlItem]{Lang: lang, Greeting: loc.greeting, Name: name, Footer: loc.footer}
	textData := layoutData[textItem]{Lang: lang, Greeting: loc.greeting, Name: name, Footer: loc.footer}
	for _, f := range fragments {
		// html/template filters unsafe URLs in href
		link := f.Link
		htmlData.Items = append(htmlData.Items, htmlItem{
			Title: template.HTML(c.ugc.Sanitize(f.Title)),
			Body:  template.HTML(c.ugc.Sanitize(f.Body)),
			Link:  link,
		})
		textData.Items = append(textData.Items, textItem{
			Title: c.plain(f.Title),
			Body:  c.plain(f.Body),
			Link:  link,
		})
	}

	var htmlBuf, textBuf bytes.Buffer
	if err := c.html.Execute(&htmlBuf, htmlData); err != nil {
		return nil, fmt.Errorf("failed to render digest html: %w", err)
	}
	if err := c.text.Execute(&textBuf, textData); err != nil {
		return nil, fmt.Errorf("failed to render digest text: %w", err)
	}

	subject := c.subject
	if subject == "" {
		subject = loc.subject
	}
	return &Message{
		To:      profile.Email,
		ToName:  profile.Display,
		Subject: subject,
		HTML:    htmlBuf.String(),
		Text:    textBuf.String(),
	}, nil
}

func (c *Composer) plain(s string) string {
	return strings.TrimSpace(html.UnescapeString(c.strict.Sanitize(s)))
}
