// Package message holds the structured content model delivered through the
// notification gateway, independent of any markup syntax.
package message

import (
	"fmt"
	"strings"
)

// Recipient addresses either a participant directly or a channel.
type Recipient struct {
	UserID    string
	ChannelID string
}

func (r Recipient) String() string {
	if r.ChannelID != "" {
		return "channel:" + r.ChannelID
	}
	return "user:" + r.UserID
}

type Kind int

const (
	KindText Kind = iota
	KindHeading
	KindField
	KindCode
	KindBullet
	KindBlank
)

// Entity makes a span clickable, either to a URL or to an in-app user.
type Entity struct {
	URL    string
	UserID string
}

// Line is one block of the message body.
type Line struct {
	Kind  Kind
	Label string
	Text  string
	// Entity, when set, applies to Text.
	Entity *Entity
}

// Button is an inline action. Exactly one of Token or URL is set.
type Button struct {
	Label string
	Token string
	URL   string
}

type Message struct {
	Title   string
	Lines   []Line
	Buttons []Button
}

// Builder assembles a Message line by line.
type Builder struct {
	m Message
}

func New(title string) *Builder {
	return &Builder{m: Message{Title: title}}
}

func (b *Builder) Text(format string, args ...any) *Builder {
	b.m.Lines = append(b.m.Lines, Line{Kind: KindText, Text: fmt.Sprintf(format, args...)})
	return b
}

func (b *Builder) Heading(text string) *Builder {
	b.m.Lines = append(b.m.Lines, Line{Kind: KindHeading, Text: text})
	return b
}

func (b *Builder) Field(label, value string) *Builder {
	b.m.Lines = append(b.m.Lines, Line{Kind: KindField, Label: label, Text: value})
	return b
}

// LinkedField is a Field whose value is clickable.
func (b *Builder) LinkedField(label, value string, e Entity) *Builder {
	b.m.Lines = append(b.m.Lines, Line{Kind: KindField, Label: label, Text: value, Entity: &e})
	return b
}

func (b *Builder) Code(text string) *Builder {
	b.m.Lines = append(b.m.Lines, Line{Kind: KindCode, Text: text})
	return b
}

func (b *Builder) Bullet(format string, args ...any) *Builder {
	b.m.Lines = append(b.m.Lines, Line{Kind: KindBullet, Text: fmt.Sprintf(format, args...)})
	return b
}

func (b *Builder) Blank() *Builder {
	b.m.Lines = append(b.m.Lines, Line{Kind: KindBlank})
	return b
}

func (b *Builder) Action(label, token string) *Builder {
	b.m.Buttons = append(b.m.Buttons, Button{Label: label, Token: token})
	return b
}

func (b *Builder) Link(label, url string) *Builder {
	b.m.Buttons = append(b.m.Buttons, Button{Label: label, URL: url})
	return b
}

func (b *Builder) Message() Message {
	return b.m
}

// PlainText renders m without any styling. Used for logs and tests.
func (m Message) PlainText() string {
	var sb strings.Builder
	if m.Title != "" {
		sb.WriteString(m.Title)
		sb.WriteString("\n\n")
	}
	for _, l := range m.Lines {
		switch l.Kind {
		case KindField:
			fmt.Fprintf(&sb, "%s %s\n", l.Label, l.Text)
		case KindBullet:
			fmt.Fprintf(&sb, "• %s\n", l.Text)
		case KindBlank:
			sb.WriteString("\n")
		default:
			sb.WriteString(l.Text)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
