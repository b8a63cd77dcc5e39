package equity

import (
	"math"
)

const dims = 3

// DefaultWeights splits 100 across the dimensions; the last slot absorbs the
// remainder so the total is exactly 100.
var DefaultWeights = Capital{Econ: 33.3333, Human: 33.3333, Social: 33.3334}

// Compute allocates shares for a group in which every member has submitted.
func Compute(g *Group) (*Result, error) {
	if err := ValidateGroup(g); err != nil {
		return nil, err
	}
	if !g.Complete() {
		return nil, invalid("group %s has %d of %d submissions", g.ID, len(g.Submissions), g.Capacity)
	}

	n := len(g.Members)
	sum := make([][dims]float64, n)
	for i := range g.Submissions {
		norm := normalize(g, &g.Submissions[i])
		for m := range sum {
			for d := 0; d < dims; d++ {
				sum[m][d] += norm[m][d]
			}
		}
	}

	r := float64(len(g.Submissions))
	avg := make([][dims]float64, n)
	for m := range sum {
		for d := 0; d < dims; d++ {
			avg[m][d] = sum[m][d] / r
		}
	}

	w := ResolveWeights(g.Weights)
	wv := w.vec()
	raw := make([]float64, n)
	var total float64
	for m := range avg {
		for d := 0; d < dims; d++ {
			raw[m] += wv[d] / 100 * avg[m][d]
		}
		total += raw[m]
	}
	for m := range raw {
		if total > 0 {
			raw[m] = raw[m] / total * 100
		} else {
			raw[m] = 100 / float64(n)
		}
	}
	rounded := RoundShares(raw)

	res := &Result{
		Weights:  w,
		Capitals: make(map[string]Capital, n),
		Shares:   make([]Share, n),
	}
	for m, name := range g.Members {
		res.Capitals[name] = Capital{
			Econ:   Round1(avg[m][0]),
			Human:  Round1(avg[m][1]),
			Social: Round1(avg[m][2]),
		}
		res.Shares[m] = Share{Name: name, Share: rounded[m]}
	}
	return res, nil
}

// normalize rescales one respondent's contributions so each dimension sums
// to 100 across members.
func normalize(g *Group, sub *Submission) [][dims]float64 {
	n := len(g.Members)
	contrib := make([][dims]float64, n)
	if idx := g.memberIndex(sub.Name); idx >= 0 {
		contrib[idx] = addVec(contrib[idx], sub.Self.vec())
	}
	for _, pr := range sub.Partners {
		idx := g.memberIndex(pr.PartnerName)
		if idx < 0 {
			continue
		}
		contrib[idx] = addVec(contrib[idx], pr.Capital.vec())
	}

	out := make([][dims]float64, n)
	for d := 0; d < dims; d++ {
		var total float64
		for m := range contrib {
			total += contrib[m][d]
		}
		for m := range contrib {
			if total == 0 {
				out[m][d] = 100 / float64(n)
			} else {
				out[m][d] = contrib[m][d] / total * 100
			}
		}
	}
	return out
}

// ResolveWeights returns the configured weights when all three are present and
// finite and non-negative, DefaultWeights otherwise.
func ResolveWeights(w *Weights) Capital {
	if w == nil || w.Econ == nil || w.Human == nil || w.Social == nil {
		return DefaultWeights
	}
	c := Capital{Econ: *w.Econ, Human: *w.Human, Social: *w.Social}
	for _, v := range c.vec() {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return DefaultWeights
		}
	}
	return c
}

func addVec(a, b [dims]float64) [dims]float64 {
	for d := 0; d < dims; d++ {
		a[d] += b[d]
	}
	return a
}

// Round1 rounds to one decimal place for display.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}
