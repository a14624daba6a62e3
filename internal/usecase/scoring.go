package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	minScore = 1
	maxScore = 10
	// fallbackScore is used when the basic model output cannot be decoded.
	fallbackScore     = 5
	fallbackReasoning = "parse error"
	skippedReasoning  = "missing description or composition"
)

// flexScore accepts a JSON number or a numeric string.
type flexScore struct {
	value float64
	set   bool
}

func (f *flexScore) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("score %q is not numeric", s)
		}
		f.value, f.set = v, true
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	f.value, f.set = v, true
	return nil
}

// basicReply is the structured answer expected from the basic model.
type basicReply struct {
	Score     flexScore `json:"score"`
	Reasoning string    `json:"reasoning"`
	Details   []string  `json:"details"`
}

// ClampScore rounds v and bounds it to [1,10]. NaN maps to the fallback score.
func ClampScore(v float64) int {
	if math.IsNaN(v) {
		return fallbackScore
	}
	r := math.Round(v)
	switch {
	case r < minScore:
		return minScore
	case r > maxScore:
		return maxScore
	}
	return int(r)
}

// Summary maps a score to its human-readable bucket.
func Summary(score int) string {
	var bucket string
	switch {
	case score >= 8:
		bucket = "excellent match between description and composition"
	case score >= 6:
		bucket = "good match with minor discrepancies"
	case score >= 4:
		bucket = "average match, there are discrepancies"
	default:
		bucket = "poor match, the description does not reflect the actual composition"
	}
	return fmt.Sprintf("Score %d/10: %s", score, bucket)
}
