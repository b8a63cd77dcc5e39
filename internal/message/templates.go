package message

import (
	"fmt"
	"math"
	"strings"

	"github.com/susu3304/anklavbot/internal/directory"
	"github.com/susu3304/anklavbot/internal/equity"
)

// Action is a participant choice carried by a button token.
type Action string

const (
	ActionSatisfied      Action = "satisfied"
	ActionDissatisfied   Action = "dissatisfied"
	ActionConnect        Action = "connect"
	ActionRequestSession Action = "session"
	ActionDecline        Action = "decline"
	ActionBook           Action = "book"
	ActionOtherQuestion  Action = "question"
)

const tokenPrefix = "conv:"

func Token(a Action) string {
	return tokenPrefix + string(a)
}

// ParseToken extracts the action from a button token.
func ParseToken(token string) (Action, bool) {
	if !strings.HasPrefix(token, tokenPrefix) {
		return "", false
	}
	a := Action(strings.TrimPrefix(token, tokenPrefix))
	switch a {
	case ActionSatisfied, ActionDissatisfied, ActionConnect, ActionRequestSession,
		ActionDecline, ActionBook, ActionOtherQuestion:
		return a, true
	}
	return "", false
}

const barCells = 10

// Bar draws pct as a 10-cell bar.
func Bar(pct float64) string {
	filled := int(math.Round(pct / 100 * barCells))
	if filled < 0 {
		filled = 0
	}
	if filled > barCells {
		filled = barCells
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", barCells-filled)
}

// BarLine renders one capital row, e.g. "Econ   33.3  %  ███░░░░░░░".
func BarLine(label string, pct float64) string {
	return fmt.Sprintf("%-6s %-5s %%  %s", label, fmt.Sprintf("%.1f", pct), Bar(pct))
}

// ProfileURL links to a participant's public profile.
func ProfileURL(id string) string {
	return "https://discord.com/users/" + id
}

func profileEntity(p directory.Profile) Entity {
	if p.Handle != "" {
		return Entity{URL: ProfileURL(p.ID)}
	}
	return Entity{UserID: p.ID}
}

func writeCapitals(b *Builder, a *equity.Archived) {
	if len(a.Result.Capitals) == 0 || len(a.Group.Members) == 0 {
		return
	}
	b.Heading("Average capital shares")
	for _, m := range a.Group.Members {
		caps := a.Result.Capitals[m]
		b.Bullet("%s", m)
		b.Code(BarLine("Econ", caps.Econ))
		b.Code(BarLine("Human", caps.Human))
		b.Code(BarLine("Social", caps.Social))
		b.Blank()
	}
}

func writeShares(b *Builder, a *equity.Archived) {
	b.Heading("Final shares")
	for _, s := range a.Result.Shares {
		b.Bullet("%s: %.1f%%", collapse(s.Name), s.Share)
	}
}

// Result is the personalized outcome sent to each member of a completed group.
// Its buttons open the follow-up conversation.
func Result(p directory.Profile, member string, a *equity.Archived) Message {
	b := New("Your partnership equity result")
	b.LinkedField("Participant:", member, profileEntity(p))
	b.Field("Room:", a.Group.ID)
	b.Field("Members:", fmt.Sprint(len(a.Group.Members)))
	b.Blank()
	writeCapitals(b, a)
	writeShares(b, a)
	b.Blank()
	b.Text("Does this split feel fair to you?")
	b.Action("👍 Yes, it's fair", Token(ActionSatisfied))
	b.Action("👎 Not really", Token(ActionDissatisfied))
	return b.Message()
}

func SatisfiedAck() Message {
	return New("Great to hear!").
		Text("If you want to lock the split into a partnership agreement, we can connect you with an advisor.").
		Action("🤝 Connect me", Token(ActionConnect)).
		Action("No, thanks", Token(ActionDecline)).
		Message()
}

func DissatisfiedAck() Message {
	return New("That happens more often than you think").
		Text("Disagreement on shares is normal. An advisor can walk your group through the numbers in a short session.").
		Action("📅 Request a session", Token(ActionRequestSession)).
		Action("No, thanks", Token(ActionDecline)).
		Message()
}

// FollowUp is sent when a participant has not answered the result prompt in time.
func FollowUp() Message {
	return New("Still thinking about your result?").
		Text("Would you like to go through it with an advisor?").
		Action("✅ Yes, book a session", Token(ActionBook)).
		Action("❓ No, I have a different question", Token(ActionOtherQuestion)).
		Message()
}

func SignupConfirmed() Message {
	return New("Request received").
		Text("An advisor will reach out to you shortly.").
		Message()
}

func Goodbye() Message {
	return New("All set").
		Text("Thanks for taking the assessment. Good luck with your partnership!").
		Message()
}

// Lead is the operator-facing review request for a participant. a may be nil
// when the participant has no archived group.
func Lead(p directory.Profile, a *equity.Archived) Message {
	b := New("📊 Partnership review request")

	handle := "@"
	if p.Handle != "" {
		handle = "@" + p.Handle
	}
	// only the display name is clickable, the handle stays plain text
	b.LinkedField(fmt.Sprintf("👤 Participant: %s - ", handle), p.DisplayName, profileEntity(p))

	if a == nil {
		b.Field("Room:", "—")
		b.Field("Members:", "—")
		b.Blank()
		b.Text("Has not taken the test yet.")
		return withProfileLink(b, p).Message()
	}

	b.Field("Room:", a.Group.ID)
	b.Field("Members:", fmt.Sprint(len(a.Group.Members)))
	b.Blank()

	sub := a.Group.SubmissionByID(p.ID)
	if sub == nil {
		b.Text("Has not taken the test yet.")
		return withProfileLink(b, p).Message()
	}
	if len(sub.Answers) > 0 {
		b.Heading("🧠 Answers:")
		for i, ans := range sub.Answers {
			b.Text("%d. %s", i+1, collapse(ans))
		}
		b.Blank()
	}
	writeCapitals(b, a)
	if len(a.Result.Shares) > 0 {
		writeShares(b, a)
	} else {
		b.Text("Has not taken the test yet.")
	}
	return withProfileLink(b, p).Message()
}

func withProfileLink(b *Builder, p directory.Profile) *Builder {
	if p.Handle != "" {
		b.Link("👤 Open profile", ProfileURL(p.ID))
	}
	return b
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
