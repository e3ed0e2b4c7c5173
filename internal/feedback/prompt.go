package feedback

import (
	"strconv"
	"strings"
)

// BuildPrompt renders the single coaching instruction sent to the model. The
// JSON shape embedded here is the contract Parse validates.
func BuildPrompt(transcript string, meta Metadata) string {
	mode := meta.Mode
	if !mode.Valid() {
		mode = ModeScript
	}

	var b strings.Builder
	b.WriteString("You are a world-class speaking coach helping someone practice public speaking in stages.\n")
	b.WriteString(`The current training mode is: "` + string(mode) + "\".\n\n")

	b.WriteString(`If mode is "script", the learner was asked to read this one-sentence script out loud (if provided):` + "\n---\n")
	b.WriteString(orDefault(meta.ScriptText, "(no script provided)"))
	b.WriteString("\n---\n")
	b.WriteString(`They were also instructed to convey this specific tone/emotion: "` + orDefault(meta.ScriptTone, "neutral") + "\"\n")
	b.WriteString("You must analyze whether the tone was noticeable in their delivery and provide specific feedback on how well they conveyed the required tone.\n\n")

	b.WriteString(`If mode is "topic", the learner was asked to speak about this topic within a time limit:` + "\n")
	b.WriteString("Topic: " + orDefault(meta.TopicText, "(no topic provided)") + "\n")
	b.WriteString("Time limit (seconds): " + formatSeconds(meta.TimeLimitSeconds) + "\n")
	b.WriteString("Actual speaking time (seconds): " + formatSeconds(meta.ElapsedSeconds) + "\n\n")

	b.WriteString("Here is the full transcript of their speech:\n---\n")
	b.WriteString(transcript)
	b.WriteString("\n---\n\n")

	b.WriteString(responseShape)
	return b.String()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func formatSeconds(v *float64) string {
	if v == nil {
		return "unknown"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

const responseShape = `Analyze their performance and return JSON only with this shape:
{
  "summary": string,               // short overview of how they did
  "strengths": string[],           // bullet list
  "improvements": string[],        // concrete, actionable tips
  "scores": {
    "overall": number,             // 0-100
    "clarity": number,             // 0-10
    "pacing": number,              // 0-10
    "fillerWords": number,         // 0-10 (higher = better, fewer fillers)
    "confidence": number,          // 0-10
    "structure": number            // 0-10
  },
  "insights": {
    "fillerWordsExamples": string[],
    "strongMoments": string[],
    "weakMoments": string[]
  },
  "stage": "script" | "topic",
  "checks": {
    "script"?: {
      "scriptText"?: string,
      "matchScore": number,        // 0-100, how closely they followed the given script (only for mode="script")
      "feedback": string,
      "tone"?: {
        "requiredTone": string,    // The tone they were asked to convey
        "detectedTone": string,    // The tone you detected in their speech
        "toneScore": number,       // 0-100, how well they conveyed the required tone
        "toneNoticeable": boolean, // Whether the tone was clearly noticeable
        "toneFeedback": string     // Specific feedback on tone delivery and how to improve
      }
    },
    "topic"?: {
      "topicText"?: string,
      "relevanceScore": number,    // 0-100, how well they stayed on the requested topic (only for mode="topic")
      "feedback": string
    },
    "time"?: {
      "timeLimitSeconds"?: number,
      "actualSeconds"?: number,
      "withinTimeLimit": boolean,
      "feedback": string
    },
    "recommendedStage"?: "script" | "topic"
  }
}

Choose "stage" and "checks.recommendedStage" based on how advanced the learner seems.
Focus on specific feedback for spoken delivery, not for writing quality.
Only include "checks.script" when mode is "script" and only include "checks.topic" when mode is "topic".

IMPORTANT: For script mode, if a tone was specified, you MUST include a "tone" object in "checks.script" with:
- requiredTone: the tone they were asked to convey
- detectedTone: what tone you actually detected in their speech (be specific)
- toneScore: 0-100 rating of how well they conveyed the required tone
- toneNoticeable: true if the tone was clearly noticeable, false if it was neutral/missing
- toneFeedback: concrete advice on how to better convey the required tone (e.g., "To sound more confident, speak with a stronger voice, avoid upward inflections at the end of statements, and maintain steady pacing.")`
