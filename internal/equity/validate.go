package equity

import (
	"fmt"
	"math"
	"strings"
)

// Capacities lists the supported group sizes.
var Capacities = []int{2, 3}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ValidateGroup checks the shape fixed at group creation.
func ValidateGroup(g *Group) error {
	if g == nil {
		return invalid("group is nil")
	}
	okCapacity := false
	for _, c := range Capacities {
		if g.Capacity == c {
			okCapacity = true
			break
		}
	}
	if !okCapacity {
		return invalid("capacity must be 2 or 3, got %d", g.Capacity)
	}
	if len(g.Members) != g.Capacity {
		return invalid("expected %d members, got %d", g.Capacity, len(g.Members))
	}
	seen := make(map[string]struct{}, len(g.Members))
	for _, m := range g.Members {
		if strings.TrimSpace(m) == "" {
			return invalid("member name is empty")
		}
		key := strings.ToLower(m)
		if _, dup := seen[key]; dup {
			return invalid("duplicate member %q", m)
		}
		seen[key] = struct{}{}
	}
	if err := checkWeights(g.Weights); err != nil {
		return err
	}
	if len(g.Submissions) > g.Capacity {
		return invalid("%d submissions exceed capacity %d", len(g.Submissions), g.Capacity)
	}
	for i := range g.Submissions {
		if err := checkSubmission(g, g.Submissions[:i], &g.Submissions[i]); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSubmission checks that sub may be appended to g.
func ValidateSubmission(g *Group, sub *Submission) error {
	if len(g.Submissions) >= g.Capacity {
		return invalid("all %d members have already submitted", g.Capacity)
	}
	return checkSubmission(g, g.Submissions, sub)
}

func checkSubmission(g *Group, prior []Submission, sub *Submission) error {
	if sub.ID == "" {
		return invalid("submission has no author id")
	}
	if !g.hasMember(sub.Name) {
		return invalid("%q is not a member of group %s", sub.Name, g.ID)
	}
	for _, p := range prior {
		if p.ID == sub.ID || strings.EqualFold(p.Name, sub.Name) {
			return invalid("participant %s (%s) already submitted", sub.ID, sub.Name)
		}
	}
	if err := checkCapital(sub.Self); err != nil {
		return err
	}
	peers := make(map[string]struct{}, len(sub.Partners))
	for _, pr := range sub.Partners {
		if strings.EqualFold(pr.PartnerName, sub.Name) {
			return invalid("%s cannot rate themselves as a partner", sub.Name)
		}
		key := strings.ToLower(pr.PartnerName)
		if _, dup := peers[key]; dup {
			return invalid("%s rated %q twice", sub.Name, pr.PartnerName)
		}
		peers[key] = struct{}{}
		if err := checkCapital(pr.Capital); err != nil {
			return err
		}
	}
	return nil
}

func checkCapital(c Capital) error {
	for _, v := range c.vec() {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return invalid("capital value %v is not a non-negative number", v)
		}
	}
	return nil
}

func (g *Group) hasMember(name string) bool {
	return g.memberIndex(name) >= 0
}

func (g *Group) memberIndex(name string) int {
	for i, m := range g.Members {
		if m == name {
			return i
		}
	}
	return -1
}

func checkWeights(w *Weights) error {
	if w == nil {
		return nil
	}
	for _, v := range []*float64{w.Econ, w.Human, w.Social} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0) {
			return invalid("weight %v is not a non-negative number", *v)
		}
	}
	return nil
}
