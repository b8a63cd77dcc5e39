package equity

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrGroupNotFound   = errors.New("group not found")
	ErrArchiveNotFound = errors.New("archive not found")

	// ErrRoomExists is an ErrInvalidInput for a reused room id.
	ErrRoomExists = fmt.Errorf("%w: room already exists", ErrInvalidInput)
)

// Capital is one rating across the three capital dimensions.
type Capital struct {
	Econ   float64 `json:"econ"`
	Human  float64 `json:"human"`
	Social float64 `json:"social"`
}

func (c Capital) vec() [dims]float64 {
	return [dims]float64{c.Econ, c.Human, c.Social}
}

func capitalOf(v [dims]float64) Capital {
	return Capital{Econ: v[0], Human: v[1], Social: v[2]}
}

type PeerRating struct {
	PartnerName string `json:"partnerName"`
	Capital
}

// Submission is one participant's self and peer assessment.
type Submission struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Answers  []string     `json:"questions_answers,omitempty"`
	Self     Capital      `json:"self_input"`
	Partners []PeerRating `json:"partners_input"`
}

// Weights are optional per-group dimension weights. All three must be set for
// them to take effect.
type Weights struct {
	Econ   *float64 `json:"econ,omitempty"`
	Human  *float64 `json:"human,omitempty"`
	Social *float64 `json:"social,omitempty"`
}

type Group struct {
	ID          string       `json:"roomId"`
	Capacity    int          `json:"maxMembers"`
	Members     []string     `json:"members"`
	Submissions []Submission `json:"answers"`
	Weights     *Weights     `json:"weights,omitempty"`
	Claimed     bool         `json:"claimed"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Complete reports whether every member has submitted.
func (g *Group) Complete() bool {
	return len(g.Submissions) == g.Capacity
}

// SubmissionByName finds the submission authored by member name.
func (g *Group) SubmissionByName(name string) *Submission {
	for i := range g.Submissions {
		if g.Submissions[i].Name == name {
			return &g.Submissions[i]
		}
	}
	return nil
}

// SubmissionByID finds the submission authored by participant id.
func (g *Group) SubmissionByID(id string) *Submission {
	for i := range g.Submissions {
		if g.Submissions[i].ID == id {
			return &g.Submissions[i]
		}
	}
	return nil
}

type Share struct {
	Name  string  `json:"name"`
	Share float64 `json:"share"`
}

// Result is the computed allocation for a completed group.
type Result struct {
	Weights  Capital            `json:"weights"`
	Capitals map[string]Capital `json:"capitals"`
	Shares   []Share            `json:"shares"`
}

// Archived is the write-once snapshot of a processed group.
type Archived struct {
	Group      Group     `json:"group"`
	Result     Result    `json:"result"`
	ArchivedAt time.Time `json:"archivedAt"`
}
