package session

import "math/rand/v2"

// Drill is a one-sentence script read aloud in a given tone.
type Drill struct {
	Text string `json:"text"`
	Tone string `json:"tone"`
}

// TopicPrompt is a free-form speech subject with a time limit.
type TopicPrompt struct {
	Topic            string `json:"topic"`
	TimeLimitSeconds int    `json:"timeLimitSeconds"`
}

var ScriptDrills = []Drill{
	{"Today I will clearly explain one idea in just one sentence.", "confident"},
	{"My goal is to speak slowly, confidently, and with purpose.", "calm"},
	{"I will pause between phrases to make every word easier to follow.", "thoughtful"},
	{"I am practicing calm, clear speech so my ideas land with impact.", "energetic"},
	{"I want my audience to feel focused, relaxed, and ready to listen.", "warm"},
	{"This is a difficult situation that requires careful consideration.", "serious"},
	{"I am so excited to share this amazing news with everyone!", "enthusiastic"},
	{"I am not entirely sure about the details of this proposal.", "uncertain"},
	{"Let me explain why this approach might not work as expected.", "concerned"},
	{"We have achieved something truly remarkable together today.", "proud"},
}

var TopicPrompts = []TopicPrompt{
	{"A habit that changed your life", 90},
	{"Explain your favorite product as if pitching it to investors", 120},
	{"Teach a simple concept you understand well to a beginner", 120},
	{"Describe a challenge you overcame and what you learned", 150},
	{"Share a bold idea you believe in for the future", 150},
}

// Catalog hands out random practice prompts.
type Catalog struct {
	intn func(n int) int
}

// NewCatalog creates a catalog backed by the global random source.
func NewCatalog() *Catalog {
	return &Catalog{intn: rand.IntN}
}

// Drill returns a random script drill.
func (c *Catalog) Drill() Drill {
	return ScriptDrills[c.intn(len(ScriptDrills))]
}

// Topic returns a random topic prompt.
func (c *Catalog) Topic() TopicPrompt {
	return TopicPrompts[c.intn(len(TopicPrompts))]
}
