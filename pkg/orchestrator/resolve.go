package orchestrator

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/wayplan/wayplan/pkg/itinerary"
)

const (
	// scoreThreshold is the minimum confidence for a node to count as a
	// candidate at all.
	scoreThreshold = 0.45

	// scoreTolerance is how close the top two candidates may be before
	// the orchestrator asks the user to disambiguate.
	scoreTolerance = 0.15
)

var dayHintPattern = regexp.MustCompile(`(?i)\bday\s+(\d+)\b`)

// resolveTarget finds the node a message refers to. selectedNodeID
// short-circuits scoring entirely; otherwise candidates are scored and a
// close race between the top two triggers disambiguation.
func resolveTarget(doc *itinerary.Itinerary, req ChatRequest) (node *itinerary.Node, candidates []NodeCandidate, ambiguous bool) {
	if req.SelectedNodeID != "" {
		return doc.FindNode(req.SelectedNodeID), nil, false
	}

	dayHint := 0
	if req.Scope == itinerary.ScopeDay {
		dayHint = req.Day
	} else if m := dayHintPattern.FindStringSubmatch(req.Text); len(m) > 1 {
		dayHint, _ = strconv.Atoi(m[1])
	}

	candidates = scoreCandidates(doc, req.Text, dayHint)
	if len(candidates) == 0 {
		return nil, nil, false
	}
	if len(candidates) >= 2 && candidates[0].Confidence-candidates[1].Confidence <= scoreTolerance {
		return nil, candidates, true
	}
	return doc.FindNode(candidates[0].ID), candidates, false
}

// scoreCandidates ranks nodes by how well their titles match the message.
// Only candidates at or above the threshold are returned, best first.
func scoreCandidates(doc *itinerary.Itinerary, text string, dayHint int) []NodeCandidate {
	lower := strings.ToLower(text)
	tokens := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(lower, -1) {
		tokens[w] = true
	}

	var out []NodeCandidate
	for d := range doc.Days {
		day := &doc.Days[d]
		for n := range day.Nodes {
			node := &day.Nodes[n]
			score := scoreTitle(node.Title, lower, tokens)
			if score <= 0 {
				continue
			}
			if dayHint > 0 && day.DayNumber == dayHint {
				score += 0.2
			}
			if score < scoreThreshold {
				continue
			}
			c := NodeCandidate{
				ID:         node.ID,
				Title:      node.Title,
				Day:        day.DayNumber,
				Type:       node.Type,
				Confidence: score,
			}
			if node.Location != nil {
				c.Location = node.Location.Name
			}
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// scoreTitle measures token overlap between a node title and the message,
// with a bonus when the whole title appears verbatim.
func scoreTitle(title, lowerText string, textTokens map[string]bool) float64 {
	lowerTitle := strings.ToLower(title)
	titleTokens := wordPattern.FindAllString(lowerTitle, -1)
	if len(titleTokens) == 0 {
		return 0
	}
	matched := 0
	for _, tt := range titleTokens {
		if textTokens[tt] {
			matched++
		}
	}
	if matched == 0 {
		return 0
	}
	score := float64(matched) / float64(len(titleTokens))
	if strings.Contains(lowerText, lowerTitle) {
		score += 0.35
	}
	return score
}
