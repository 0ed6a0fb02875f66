package match

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/mrsinham/dicomhang/internal/metadata"
	"github.com/mrsinham/dicomhang/internal/protocol"
)

// SortingInfo carries the tie-break keys for candidate ordering.
type SortingInfo struct {
	Score    float64
	Study    string // StudyDate + StudyTime, lexicographic
	Series   int
	Instance int
}

// ImageCandidate is one scored image that could hang in a viewport slot.
type ImageCandidate struct {
	StudyInstanceUID      string
	SeriesInstanceUID     string
	SOPInstanceUID        string
	CurrentImageIDIndex   int
	DisplaySetInstanceUID string
	ImageID               string
	MatchingScore         float64
	MatchDetails          Details
	SortingInfo           SortingInfo
}

// PriorRequest marks a study rule referencing an unresolved relative
// prior. The matcher emits these instead of evaluating the rule against
// absent metadata; the engine dispatches them to the prior resolver.
type PriorRequest struct {
	AbstractPriorValue int
	Rule               protocol.Rule
}

// ResultSet is the outcome of matching one viewport against the loaded
// studies. An empty Candidates list means no display set is available for
// the viewport; it is a valid state, not an error.
type ResultSet struct {
	BestMatch     *ImageCandidate
	Candidates    []ImageCandidate
	PriorRequests []PriorRequest
}

// Matcher scans studies, series and instances for a viewport's rule sets.
type Matcher struct {
	eval   *Evaluator
	logger *slog.Logger
}

// NewMatcher creates a matcher. A nil logger falls back to slog.Default.
func NewMatcher(eval *Evaluator, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{eval: eval, logger: logger}
}

// MatchImages scores every instance of every loaded study against the
// viewport's three rule sets and returns the ranked candidates.
//
// The scan keeps the engine's historical watermark pruning: a study (or
// series) is only expanded when its score reaches the best score seen so
// far in this pass, the series watermark carries across studies, and a
// zero score skips the entity whenever its rule set is non-empty. This is
// a scan-order-sensitive shortcut, not a global top-k selection, and the
// ordering it produces is part of the engine's observable behavior.
func (m *Matcher) MatchImages(vp protocol.Viewport, studies []*metadata.Study) ResultSet {
	var out ResultSet
	if len(studies) == 0 {
		return out
	}

	current := studies[0]

	// The current study is prior zero; resolved priors arrive stamped
	// with their own abstractPriorValue.
	current.SetCustomAttribute(protocol.AbstractPriorAttribute, 0)

	for _, rule := range vp.StudyMatchingRules {
		if rule.Attribute != protocol.AbstractPriorAttribute {
			continue
		}
		n, ok := priorValue(rule.Constraint)
		if !ok {
			m.logger.Warn("abstract prior rule has no numeric operand", slog.String("rule", rule.ID))
			continue
		}
		if n == 0 {
			// Prior zero is the current study; nothing to resolve.
			continue
		}
		out.PriorRequests = append(out.PriorRequests, PriorRequest{AbstractPriorValue: n, Rule: rule})
	}

	highestStudyScore := 0.0
	highestSeriesScore := 0.0

	for _, study := range studies {
		studyRes := m.eval.Evaluate(vp.StudyMatchingRules, study)
		if skipLevel(vp.StudyMatchingRules, studyRes, highestStudyScore) {
			continue
		}
		highestStudyScore = studyRes.Score

		study.EachSeries(func(series *metadata.Series) {
			seriesRes := m.eval.Evaluate(vp.SeriesMatchingRules, series)
			if skipLevel(vp.SeriesMatchingRules, seriesRes, highestSeriesScore) {
				return
			}
			highestSeriesScore = seriesRes.Score

			series.EachInstance(func(inst *metadata.Instance, index int) {
				if !hasImageData(inst) {
					return
				}

				instRes := m.eval.Evaluate(vp.ImageMatchingRules, inst)
				if instRes.RequiredFailed {
					return
				}

				total := studyRes.Score + seriesRes.Score + instRes.Score

				var details Details
				details.Passed = append(details.Passed, instRes.Details.Passed...)
				details.Passed = append(details.Passed, seriesRes.Details.Passed...)
				details.Passed = append(details.Passed, studyRes.Details.Passed...)
				details.Failed = append(details.Failed, instRes.Details.Failed...)
				details.Failed = append(details.Failed, seriesRes.Details.Failed...)
				details.Failed = append(details.Failed, studyRes.Details.Failed...)

				sopInstanceUID := inst.SOPInstanceUID()
				candidate := ImageCandidate{
					StudyInstanceUID:    study.StudyInstanceUID(),
					SeriesInstanceUID:   series.SeriesInstanceUID(),
					SOPInstanceUID:      sopInstanceUID,
					CurrentImageIDIndex: index,
					MatchingScore:       total,
					MatchDetails:        details,
					SortingInfo: SortingInfo{
						Score:    total,
						Study:    stringAttr(inst, metadata.KeyStudyDate) + stringAttr(inst, metadata.KeyStudyTime),
						Series:   intAttr(inst, metadata.KeySeriesNumber),
						Instance: intAttr(inst, metadata.KeyInstanceNumber),
					},
				}

				if ds, ok := study.FindDisplaySet(sopInstanceUID); ok {
					candidate.DisplaySetInstanceUID = ds.UID()
					candidate.ImageID = inst.ImageID()
				}

				out.Candidates = append(out.Candidates, candidate)
			})
		})
	}

	sortCandidates(out.Candidates)
	if len(out.Candidates) > 0 {
		out.BestMatch = &out.Candidates[0]
	}

	m.logger.Debug("matchImages",
		slog.Int("candidates", len(out.Candidates)),
		slog.Int("priorRequests", len(out.PriorRequests)))

	return out
}

// skipLevel implements the watermark gate for the study and series scans.
func skipLevel(rules protocol.RuleSet, res Result, highest float64) bool {
	if len(rules) > 0 && (res.Score == 0 || res.RequiredFailed) {
		return true
	}
	return res.Score < highest
}

// hasImageData rejects instances with neither a recognized image SOP
// class nor pixel-rows metadata, e.g. SR documents and PDFs.
func hasImageData(inst *metadata.Instance) bool {
	if sop, ok := inst.Attribute(metadata.KeySOPClassUID); ok {
		if s, ok := sop.(string); ok && metadata.IsImageSOPClass(s) {
			return true
		}
	}
	_, hasRows := inst.Attribute(metadata.KeyRows)
	return hasRows
}

// sortCandidates orders candidates by score descending, study date+time
// descending, instance number ascending, then series number ascending.
// The sort is stable, so scan order decides what these keys cannot.
func sortCandidates(candidates []ImageCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].SortingInfo, candidates[j].SortingInfo
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Study != b.Study {
			return a.Study > b.Study
		}
		if a.Instance != b.Instance {
			return a.Instance < b.Instance
		}
		return a.Series < b.Series
	})
}

// priorValue reads the numeric prior index out of an abstract prior rule.
func priorValue(c protocol.Constraint) (int, bool) {
	n, ok := protocol.OperandNumber(c)
	if !ok {
		return 0, false
	}
	return int(n), true
}

func stringAttr(inst *metadata.Instance, key string) string {
	v, ok := inst.Attribute(key)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}

func intAttr(inst *metadata.Instance, key string) int {
	v, ok := inst.Attribute(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
