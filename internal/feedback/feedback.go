// Package feedback turns a transcript and its practice metadata into the
// structured coaching report produced by a language model.
package feedback

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedResponse means the model answered but the answer is not the
// expected JSON document. Distinct from network or API failures.
var ErrMalformedResponse = errors.New("malformed feedback response")

// ErrNotConfigured is returned when no language model credential is set.
var ErrNotConfigured = errors.New("OPENAI_API_KEY is required for analysis")

// Mode is the practice stage a recording belongs to.
type Mode string

const (
	ModeScript Mode = "script"
	ModeTopic  Mode = "topic"
)

// ParseMode maps a form value to a Mode. Anything but "topic" is a script drill.
func ParseMode(s string) Mode {
	if strings.TrimSpace(s) == string(ModeTopic) {
		return ModeTopic
	}
	return ModeScript
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == ModeScript || m == ModeTopic }

// Metadata describes what the speaker was asked to do. Script fields are
// meaningful only in script mode, topic fields only in topic mode.
type Metadata struct {
	Mode             Mode     `json:"mode"`
	ScriptText       string   `json:"script,omitempty"`
	ScriptTone       string   `json:"scriptTone,omitempty"`
	TopicText        string   `json:"topic,omitempty"`
	TimeLimitSeconds *float64 `json:"timeLimitSeconds,omitempty"`
	ElapsedSeconds   *float64 `json:"elapsedSeconds,omitempty"`
}

// ParseSeconds parses an optional numeric form field. Empty or non-numeric
// input yields nil.
func ParseSeconds(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v != v {
		return nil
	}
	return &v
}

// Feedback is the coaching report returned to the client and persisted with
// the session.
type Feedback struct {
	Summary      string   `json:"summary"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Scores       Scores   `json:"scores"`
	Insights     Insights `json:"insights"`
	Stage        Mode     `json:"stage"`
	Checks       Checks   `json:"checks"`
}

// Scores: Overall is 0-100, the rest 0-10.
type Scores struct {
	Overall     float64 `json:"overall"`
	Clarity     float64 `json:"clarity"`
	Pacing      float64 `json:"pacing"`
	FillerWords float64 `json:"fillerWords"`
	Confidence  float64 `json:"confidence"`
	Structure   float64 `json:"structure"`
}

type Insights struct {
	FillerWordsExamples []string `json:"fillerWordsExamples"`
	StrongMoments       []string `json:"strongMoments"`
	WeakMoments         []string `json:"weakMoments"`
}

// Checks holds the mode-specific analyses. At most one of Script and Topic
// is set, matching the request mode.
type Checks struct {
	Script           *ScriptCheck `json:"script,omitempty"`
	Topic            *TopicCheck  `json:"topic,omitempty"`
	Time             *TimeCheck   `json:"time,omitempty"`
	RecommendedStage Mode         `json:"recommendedStage,omitempty"`
}

type ScriptCheck struct {
	ScriptText string     `json:"scriptText,omitempty"`
	MatchScore float64    `json:"matchScore"`
	Feedback   string     `json:"feedback"`
	Tone       *ToneCheck `json:"tone,omitempty"`
}

type ToneCheck struct {
	RequiredTone   string  `json:"requiredTone"`
	DetectedTone   string  `json:"detectedTone"`
	ToneScore      float64 `json:"toneScore"`
	ToneNoticeable bool    `json:"toneNoticeable"`
	ToneFeedback   string  `json:"toneFeedback"`
}

type TopicCheck struct {
	TopicText      string  `json:"topicText,omitempty"`
	RelevanceScore float64 `json:"relevanceScore"`
	Feedback       string  `json:"feedback"`
}

type TimeCheck struct {
	TimeLimitSeconds *float64 `json:"timeLimitSeconds,omitempty"`
	ActualSeconds    *float64 `json:"actualSeconds,omitempty"`
	WithinTimeLimit  bool     `json:"withinTimeLimit"`
	Feedback         string   `json:"feedback"`
}

// requiredKeys must be present at the top level of a model answer.
var requiredKeys = []string{"summary", "strengths", "improvements", "scores", "insights"}

// Parse decodes a model answer and normalizes it for meta: the other mode's
// check is dropped, scores are clamped to their ranges, and list fields are
// never null.
func Parse(content string, meta Metadata) (*Feedback, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: no content in AI response", ErrMalformedResponse)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	for _, k := range requiredKeys {
		if _, ok := top[k]; !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrMalformedResponse, k)
		}
	}

	var fb Feedback
	if err := json.Unmarshal([]byte(content), &fb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	fb.normalize(meta)
	return &fb, nil
}

// KeepOnly drops the check that does not belong to mode.
func (c *Checks) KeepOnly(mode Mode) {
	switch mode {
	case ModeScript:
		c.Topic = nil
	case ModeTopic:
		c.Script = nil
	}
}

func (fb *Feedback) normalize(meta Metadata) {
	mode := meta.Mode
	if !mode.Valid() {
		mode = ModeScript
	}

	fb.Checks.KeepOnly(mode)
	switch mode {
	case ModeScript:
		if c := fb.Checks.Script; c != nil {
			c.MatchScore = clamp(c.MatchScore, 100)
			if c.ScriptText == "" {
				c.ScriptText = meta.ScriptText
			}
			if c.Tone != nil {
				c.Tone.ToneScore = clamp(c.Tone.ToneScore, 100)
				if c.Tone.RequiredTone == "" {
					c.Tone.RequiredTone = meta.ScriptTone
				}
			}
		}
	case ModeTopic:
		if c := fb.Checks.Topic; c != nil {
			c.RelevanceScore = clamp(c.RelevanceScore, 100)
			if c.TopicText == "" {
				c.TopicText = meta.TopicText
			}
		}
	}

	if !fb.Stage.Valid() {
		fb.Stage = mode
	}
	if fb.Checks.RecommendedStage != "" && !fb.Checks.RecommendedStage.Valid() {
		fb.Checks.RecommendedStage = ""
	}

	s := &fb.Scores
	s.Overall = clamp(s.Overall, 100)
	s.Clarity = clamp(s.Clarity, 10)
	s.Pacing = clamp(s.Pacing, 10)
	s.FillerWords = clamp(s.FillerWords, 10)
	s.Confidence = clamp(s.Confidence, 10)
	s.Structure = clamp(s.Structure, 10)

	fb.Strengths = nonNil(fb.Strengths)
	fb.Improvements = nonNil(fb.Improvements)
	fb.Insights.FillerWordsExamples = nonNil(fb.Insights.FillerWordsExamples)
	fb.Insights.StrongMoments = nonNil(fb.Insights.StrongMoments)
	fb.Insights.WeakMoments = nonNil(fb.Insights.WeakMoments)
}

func clamp(v, max float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
