package conversation

import "github.com/susu3304/anklavbot/internal/message"

type State string

const (
	StateSent            State = "Sent"
	StateAwaitingChoice  State = "AwaitingChoice"
	StateSatisfied       State = "Satisfied"
	StateDissatisfied    State = "Dissatisfied"
	StateFollowUpSent    State = "FollowUpSent"
	StateSignupRequested State = "SignupRequested"
	StateNoFurtherAction State = "NoFurtherAction"
)

func (s State) Terminal() bool {
	return s == StateSignupRequested || s == StateNoFurtherAction
}

// transition is the whole state machine. The timeout edge
// AwaitingChoice -> FollowUpSent is driven by the timer, not by an action.
func transition(from State, a message.Action) (State, bool) {
	switch from {
	case StateAwaitingChoice:
		switch a {
		case message.ActionSatisfied:
			return StateSatisfied, true
		case message.ActionDissatisfied:
			return StateDissatisfied, true
		}
	case StateSatisfied:
		switch a {
		case message.ActionConnect:
			return StateSignupRequested, true
		case message.ActionDecline:
			return StateNoFurtherAction, true
		}
	case StateDissatisfied:
		switch a {
		case message.ActionRequestSession:
			return StateSignupRequested, true
		case message.ActionDecline:
			return StateNoFurtherAction, true
		}
	case StateFollowUpSent:
		switch a {
		case message.ActionBook, message.ActionOtherQuestion:
			return StateSignupRequested, true
		}
	}
	return from, false
}

func replyFor(s State) *message.Message {
	var m message.Message
	switch s {
	case StateSatisfied:
		m = message.SatisfiedAck()
	case StateDissatisfied:
		m = message.DissatisfiedAck()
	case StateSignupRequested:
		m = message.SignupConfirmed()
	case StateNoFurtherAction:
		m = message.Goodbye()
	default:
		return nil
	}
	return &m
}
