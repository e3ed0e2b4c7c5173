package session

import "github.com/snarg/speechprep/internal/feedback"

// Topic speeches unlock after this many script runs scoring at least
// StrongScore overall.
const (
	UnlockRuns  = 3
	StrongScore = 75
)

// Progress summarizes an identity's practice history.
type Progress struct {
	Stage            feedback.Mode `json:"stage"`
	Sessions         int           `json:"sessions"`
	LatestScore      *float64      `json:"latestScore"`
	PreviousScore    *float64      `json:"previousScore"`
	Trend            *float64      `json:"trend"`
	StrongScriptRuns int           `json:"strongScriptRuns"`
	TopicUnlocked    bool          `json:"topicUnlocked"`
}

// ComputeProgress derives progress from records ordered most recent first.
// Once any topic session exists the topic stage stays unlocked, even if the
// strong script runs that unlocked it were since evicted.
func ComputeProgress(recs []Record) Progress {
	p := Progress{Stage: feedback.ModeScript, Sessions: len(recs)}

	var scores []float64
	for i := range recs {
		r := &recs[i]
		overall, ok := r.Overall()
		if !ok {
			continue
		}
		if len(scores) < 2 {
			scores = append(scores, overall)
		}
		switch r.Mode {
		case feedback.ModeScript:
			if overall >= StrongScore {
				p.StrongScriptRuns++
			}
		case feedback.ModeTopic:
			p.TopicUnlocked = true
		}
	}

	if len(scores) > 0 {
		p.LatestScore = &scores[0]
	}
	if len(scores) > 1 {
		p.PreviousScore = &scores[1]
		trend := scores[0] - scores[1]
		p.Trend = &trend
	}
	if p.StrongScriptRuns >= UnlockRuns {
		p.TopicUnlocked = true
	}
	if p.TopicUnlocked {
		p.Stage = feedback.ModeTopic
	}
	return p
}
