package analysis

import (
	"errors"
	"fmt"
	"math"
)

// ErrMalformed reports an analysis backend payload that failed to decode.
// Callers skip the affected unit and continue.
var ErrMalformed = errors.New("malformed analysis payload")

// bodyParts are the six scored regions, in display order
var bodyParts = []string{"head", "shoulders", "arms", "torso", "hips", "legs"}

// TimestampFeedback is one coachable moment inside an analyzed video
type TimestampFeedback struct {
	Frame       int               `json:"frame"`
	Timestamp   float64           `json:"timestamp"`
	DisplayTime string            `json:"displayTime"`
	Issue       string            `json:"issue"`
	Feedback    map[string]string `json:"feedback"`
	Tags        []string          `json:"tags,omitempty"`
	Statuses    map[string]string `json:"statuses,omitempty"` // part -> pass|fix
	Cues        []string          `json:"cues,omitempty"`
	IsPositive  bool              `json:"isPositive"`
}

// Result is the structured output of a full-video analysis
type Result struct {
	OverallScore   float64             `json:"overallScore"`
	BodyPartScores map[string]float64  `json:"bodyPartScores"`
	Timestamps     []TimestampFeedback `json:"timestamps"`
	Strengths      []string            `json:"strengths,omitempty"`
	Weaknesses     []string            `json:"weaknesses,omitempty"`
	Suggestions    []string            `json:"suggestions,omitempty"`
}

// Validate checks structural invariants and fills in derivable fields.
// Missing display times are computed from the timestamp.
func (r *Result) Validate() error {
	if r.OverallScore < 0 || r.OverallScore > 100 {
		return fmt.Errorf("%w: overall score %v out of range", ErrMalformed, r.OverallScore)
	}

	for _, part := range bodyParts {
		score, ok := r.BodyPartScores[part]
		if !ok {
			return fmt.Errorf("%w: missing body part score %q", ErrMalformed, part)
		}
		if score < 0 || score > 100 {
			return fmt.Errorf("%w: %s score %v out of range", ErrMalformed, part, score)
		}
	}

	for i := range r.Timestamps {
		ts := &r.Timestamps[i]
		if ts.Timestamp < 0 {
			return fmt.Errorf("%w: negative timestamp at index %d", ErrMalformed, i)
		}
		if ts.DisplayTime == "" {
			ts.DisplayTime = FormatDisplayTime(ts.Timestamp)
		}
	}

	return nil
}

// Coordinate is one body point located on a frame, in percent coordinates
type Coordinate struct {
	Part      string  `json:"part"`
	Label     string  `json:"label"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	LabelSide string  `json:"labelSide"`
	Status    string  `json:"status"`
}

// FormatDisplayTime renders seconds as mm:ss:SSS
func FormatDisplayTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}

	totalMillis := int(math.Round(seconds * 1000))
	minutes := totalMillis / 60000
	secs := (totalMillis % 60000) / 1000
	millis := totalMillis % 1000

	return fmt.Sprintf("%02d:%02d:%03d", minutes, secs, millis)
}
