package bot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/susu3304/anklavbot/internal/message"
)

const (
	maxContentLen    = 2000
	maxButtonsPerRow = 5
)

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "~", `\~`, "`", "\\`", "|", `\|`, "[", `\[`, "]", `\]`,
)

func escape(s string) string {
	return markdownEscaper.Replace(s)
}

// renderContent turns the content model into Discord markdown. Consecutive
// code lines share one fenced block so the bar columns line up.
func renderContent(m message.Message) string {
	var sb strings.Builder
	if m.Title != "" {
		fmt.Fprintf(&sb, "**%s**\n\n", m.Title)
	}
	inCode := false
	for _, l := range m.Lines {
		if l.Kind == message.KindCode {
			if !inCode {
				sb.WriteString("```\n")
				inCode = true
			}
			sb.WriteString(l.Text)
			sb.WriteString("\n")
			continue
		}
		if inCode {
			sb.WriteString("```\n")
			inCode = false
		}
		switch l.Kind {
		case message.KindHeading:
			fmt.Fprintf(&sb, "**%s**\n", escape(l.Text))
		case message.KindField:
			fmt.Fprintf(&sb, "**%s** %s\n", l.Label, renderValue(l))
		case message.KindBullet:
			fmt.Fprintf(&sb, "• %s\n", escape(l.Text))
		case message.KindBlank:
			sb.WriteString("\n")
		default:
			sb.WriteString(escape(l.Text))
			sb.WriteString("\n")
		}
	}
	if inCode {
		sb.WriteString("```\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderValue(l message.Line) string {
	text := escape(l.Text)
	if l.Entity == nil {
		return text
	}
	switch {
	case l.Entity.URL != "":
		return fmt.Sprintf("[%s](%s)", text, l.Entity.URL)
	case l.Entity.UserID != "":
		return fmt.Sprintf("%s (<@%s>)", text, l.Entity.UserID)
	}
	return text
}

func renderComponents(buttons []message.Button) []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent
	for start := 0; start < len(buttons); start += maxButtonsPerRow {
		end := start + maxButtonsPerRow
		if end > len(buttons) {
			end = len(buttons)
		}
		row := discordgo.ActionsRow{}
		for _, b := range buttons[start:end] {
			btn := discordgo.Button{Label: b.Label}
			if b.URL != "" {
				btn.Style = discordgo.LinkButton
				btn.URL = b.URL
			} else {
				btn.Style = discordgo.PrimaryButton
				btn.CustomID = b.Token
			}
			row.Components = append(row.Components, btn)
		}
		rows = append(rows, row)
	}
	return rows
}

// render splits m into as many Discord messages as its length needs. Only
// the last one carries the buttons.
func render(m message.Message) []*discordgo.MessageSend {
	chunks := splitContent(renderContent(m), maxContentLen)
	out := make([]*discordgo.MessageSend, len(chunks))
	for i, c := range chunks {
		out[i] = &discordgo.MessageSend{
			Content:         c,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		}
	}
	out[len(out)-1].Components = renderComponents(m.Buttons)
	return out
}

// splitContent breaks s on line boundaries into pieces of at most limit
// bytes, hard-splitting any single line that is longer. A fenced block cut
// in two is closed and reopened.
func splitContent(s string, limit int) []string {
	if len(s) <= limit {
		return []string{s}
	}
	const fence = "```"
	var (
		out    []string
		buf    strings.Builder
		inCode bool
	)
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		chunk := buf.String()
		if inCode {
			chunk += "\n" + fence
		}
		out = append(out, chunk)
		buf.Reset()
		if inCode {
			buf.WriteString(fence)
		}
	}
	reserve := len(fence) + 1
	for _, line := range strings.Split(s, "\n") {
		for len(line) > limit-reserve*2 {
			flush()
			if buf.Len() > 0 {
				buf.WriteString("\n")
			}
			cut := limit - reserve*2 - buf.Len()
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			buf.WriteString(line[:cut])
			line = line[cut:]
			flush()
		}
		if buf.Len()+len(line)+1+reserve > limit {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(line)
		if strings.HasPrefix(line, fence) {
			inCode = !inCode
		}
	}
	if buf.Len() > 0 {
		out = append(out, buf.String())
	}
	return out
}
