// Package engine ties the matching pipeline together: it selects the best
// protocol for the loaded studies, walks the active stage's viewport
// slots, and hands the resulting layout to the host's layout manager.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mrsinham/dicomhang/internal/match"
	"github.com/mrsinham/dicomhang/internal/metadata"
	"github.com/mrsinham/dicomhang/internal/prior"
	"github.com/mrsinham/dicomhang/internal/protocol"
)

// ViewportData is the engine's output for one viewport slot. A slot with
// an empty ImageID has no matching image; the host renders a placeholder.
type ViewportData struct {
	ViewportIndex         int
	Settings              map[string]any
	CustomSettings        []CustomSettingValue
	StudyInstanceUID      string
	SeriesInstanceUID     string
	SOPInstanceUID        string
	DisplaySetInstanceUID string
	ImageID               string
	CurrentImageIDIndex   int
}

// LayoutUpdate is a full-stage layout handed to the layout manager.
type LayoutUpdate struct {
	LayoutTemplateName string
	Rows               int
	Columns            int
	ViewportData       []ViewportData
}

// LayoutManager is the consumer of the engine's output, implemented by
// the host application's rendering layer.
type LayoutManager interface {
	// UpdateViewports repaints the whole stage.
	UpdateViewports(update LayoutUpdate)
	// RerenderViewport repaints a single slot, leaving the others alone.
	RerenderViewport(index int, data ViewportData)
}

// ProtocolMatch ranks one protocol against a study. Transient: recomputed
// on every selection pass.
type ProtocolMatch struct {
	Score    float64
	Protocol *protocol.Protocol
}

// CustomViewportSetting describes a host-registered viewport setting that
// is applied after a viewport renders.
type CustomViewportSetting struct {
	ID      string
	Name    string
	Options []string
}

// CustomSettingValue pairs a registered setting with the value a protocol
// viewport chose for it.
type CustomSettingValue struct {
	ID    string
	Value any
}

// Options configures engine construction.
type Options struct {
	Logger         *slog.Logger
	PriorCacheSize int
}

// Engine is the stage/viewport assignment engine. It owns the mutable
// session state (active protocol, stage index, loaded studies) and stays
// reactive to late-arriving prior studies.
type Engine struct {
	mu sync.Mutex

	layout   LayoutManager
	library  *protocol.Library
	studies  []*metadata.Study
	priors   map[string][]metadata.StudySummary
	resolver *prior.Resolver
	eval     *match.Evaluator
	matcher  *match.Matcher
	store    *MatchStore
	logger   *slog.Logger

	protocol     *protocol.Protocol
	stage        int
	matchDetails []match.ResultSet

	customSettings map[string]CustomViewportSetting
	inflight       map[string]bool
}

// New constructs an engine over the host's collaborators and puts it in a
// known state by selecting the best protocol for the loaded studies.
// priors maps a StudyInstanceUID to that study's available priors, most
// recent first.
func New(layout LayoutManager, library *protocol.Library, studies []*metadata.Study,
	priors map[string][]metadata.StudySummary, source metadata.Source, opts *Options) (*Engine, error) {

	if layout == nil {
		return nil, fmt.Errorf("engine: nil layout manager")
	}
	if library == nil {
		return nil, fmt.Errorf("engine: nil protocol library")
	}
	if library.Default() == nil {
		return nil, fmt.Errorf("engine: library has no default protocol")
	}

	var logger *slog.Logger
	cacheSize := 0
	if opts != nil {
		logger = opts.Logger
		cacheSize = opts.PriorCacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	resolver, err := prior.NewResolver(source, cacheSize, logger)
	if err != nil {
		return nil, err
	}
	store, err := NewMatchStore()
	if err != nil {
		return nil, err
	}
	if priors == nil {
		priors = make(map[string][]metadata.StudySummary)
	}

	eval := match.NewEvaluator()
	e := &Engine{
		layout:         layout,
		library:        library,
		studies:        studies,
		priors:         priors,
		resolver:       resolver,
		eval:           eval,
		matcher:        match.NewMatcher(eval, logger),
		store:          store,
		logger:         logger,
		customSettings: make(map[string]CustomViewportSetting),
		inflight:       make(map[string]bool),
	}
	e.Reset()
	return e, nil
}

// Evaluator exposes the evaluator so hosts can register custom attribute
// callbacks before the first matching pass.
func (e *Engine) Evaluator() *match.Evaluator { return e.eval }

// MatchStore exposes the protocol match-state store for UI layers.
func (e *Engine) MatchStore() *MatchStore { return e.store }

// RegisterViewportSetting adds a custom viewport setting the host applies
// after rendering.
func (e *Engine) RegisterViewportSetting(setting CustomViewportSetting) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.customSettings[setting.ID] = setting
}

// Reset re-runs protocol selection and hangs the best match at stage 0.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	best := e.bestProtocolLocked()
	e.setProtocolLocked(best.Protocol, best.Score)
}

// SetProtocol switches the engine to a specific protocol at stage 0 and
// marks it selected in the match store.
func (e *Engine) SetProtocol(p *protocol.Protocol) {
	e.mu.Lock()
	defer e.mu.Unlock()
	score := 1.0
	if primary := e.primaryStudyLocked(); primary != nil {
		score = e.eval.Evaluate(p.ProtocolMatchingRules, primary).Score
	}
	e.setProtocolLocked(p, score)
}

// CurrentProtocol returns the active protocol, or nil before Reset.
func (e *Engine) CurrentProtocol() *protocol.Protocol {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.protocol
}

// StageCount returns the number of stages in the active protocol.
func (e *Engine) StageCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.protocol == nil {
		return 0
	}
	return len(e.protocol.Stages)
}

// CurrentStageIndex returns the active stage index.
func (e *Engine) CurrentStageIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stage
}

// CurrentStage returns the active stage model.
func (e *Engine) CurrentStage() (*protocol.Stage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.protocol == nil || e.stage >= len(e.protocol.Stages) {
		return nil, false
	}
	return e.protocol.Stages[e.stage], true
}

// NextStage advances to the next stage. Out-of-bounds transitions are
// rejected, not clamped.
func (e *Engine) NextStage() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setStageLocked(e.stage + 1)
}

// PreviousStage steps back one stage. Out-of-bounds transitions are
// rejected, not clamped.
func (e *Engine) PreviousStage() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setStageLocked(e.stage - 1)
}

// SetStage jumps to a stage index, rejecting out-of-range values.
func (e *Engine) SetStage(index int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setStageLocked(index)
}

// UpdateAllViewports re-runs matching for every slot of the active stage.
func (e *Engine) UpdateAllViewports() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.updateViewportsLocked(-1)
}

// MatchDetails returns the match result currently displayed for a slot.
func (e *Engine) MatchDetails(index int) (match.ResultSet, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.matchDetails) {
		return match.ResultSet{}, false
	}
	return e.matchDetails[index], true
}

// AddStudy appends a loaded study (deduplicated by StudyInstanceUID) and
// reports whether it was inserted.
func (e *Engine) AddStudy(study *metadata.Study) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addStudyLocked(study)
}

// FindMatchByStudy ranks every registered protocol against one study:
// protocols requiring more priors than the study has are excluded
// outright, only usable scores above zero qualify, and ties keep
// registration order. An empty result falls back to the default protocol
// with score 1.
func (e *Engine) FindMatchByStudy(study *metadata.Study) []ProtocolMatch {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.findMatchByStudyLocked(study)
}

func (e *Engine) findMatchByStudyLocked(study *metadata.Study) []ProtocolMatch {
	var matched []ProtocolMatch

	available := 0
	if study != nil {
		available = len(e.priors[study.StudyInstanceUID()])
		study.SetCustomAttribute(protocol.NumberOfPriorsAttribute, available)
	}

	for _, p := range e.library.All() {
		if p.NumberOfPriorsReferenced > available {
			continue
		}
		if study == nil || len(p.ProtocolMatchingRules) == 0 {
			continue
		}
		res := e.eval.Evaluate(p.ProtocolMatchingRules, study)
		if res.Score > 0 && res.Usable() {
			matched = append(matched, ProtocolMatch{Score: res.Score, Protocol: p})
		}
	}

	if len(matched) == 0 {
		return []ProtocolMatch{{Score: 1, Protocol: e.library.Default()}}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Score > matched[j].Score
	})
	return matched
}

// bestProtocolLocked rebuilds the match store from every loaded study and
// returns the highest-scoring protocol across them.
func (e *Engine) bestProtocolLocked() ProtocolMatch {
	if err := e.store.Clear(); err != nil {
		e.logger.Warn("match store clear failed", slog.String("error", err.Error()))
	}

	var all []ProtocolMatch
	seen := make(map[string]bool)
	for _, study := range e.studies {
		for _, m := range e.findMatchByStudyLocked(study) {
			if seen[m.Protocol.ID] {
				continue
			}
			seen[m.Protocol.ID] = true
			all = append(all, m)
			if err := e.store.InsertMissing(MatchRow{ID: m.Protocol.ID, Score: m.Score, Protocol: m.Protocol}); err != nil {
				e.logger.Warn("match store insert failed", slog.String("error", err.Error()))
			}
		}
	}

	if len(all) == 0 {
		return ProtocolMatch{Score: 1, Protocol: e.library.Default()}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Score > all[j].Score
	})

	e.logger.Info("protocol selected",
		slog.String("protocol", all[0].Protocol.Name),
		slog.Float64("score", all[0].Score))
	return all[0]
}

func (e *Engine) setProtocolLocked(p *protocol.Protocol, score float64) {
	e.protocol = p
	e.stage = 0
	e.updateViewportsLocked(-1)
	if err := e.store.Select(p, score); err != nil {
		e.logger.Warn("match store select failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) setStageLocked(index int) bool {
	if e.protocol == nil || index < 0 || index >= len(e.protocol.Stages) {
		return false
	}
	e.stage = index
	e.updateViewportsLocked(-1)
	return true
}

func (e *Engine) primaryStudyLocked() *metadata.Study {
	if len(e.studies) == 0 {
		return nil
	}
	return e.studies[0]
}

func (e *Engine) addStudyLocked(study *metadata.Study) bool {
	uid := study.StudyInstanceUID()
	for _, s := range e.studies {
		if s.StudyInstanceUID() == uid {
			return false
		}
	}
	e.studies = append(e.studies, study)
	return true
}

// updateViewportsLocked runs the image matcher for every slot of the
// active stage and publishes the result. scoped >= 0 repaints only that
// slot; -1 repaints the whole stage. Each slot matches independently: an
// empty result for one never blocks the others.
func (e *Engine) updateViewportsLocked(scoped int) {
	if e.protocol == nil || len(e.protocol.Stages) == 0 || e.stage >= len(e.protocol.Stages) {
		return
	}
	stage := e.protocol.Stages[e.stage]
	if stage == nil || len(stage.Viewports) == 0 {
		return
	}
	templateName := stage.ViewportStructure.LayoutTemplateName
	if templateName == "" {
		return
	}

	e.matchDetails = e.matchDetails[:0]
	viewportData := make([]ViewportData, 0, len(stage.Viewports))

	for index, vp := range stage.Viewports {
		result := e.matcher.MatchImages(vp, e.studies)
		e.matchDetails = append(e.matchDetails, result)
		e.dispatchPriorRequests(index, result.PriorRequests)

		data := ViewportData{
			ViewportIndex:  index,
			Settings:       normalizeSettings(vp.ViewportSettings),
			CustomSettings: e.customSettingValuesLocked(vp.ViewportSettings),
		}

		// Walk the ranked candidates, skipping images already hung in an
		// earlier slot of this stage. An exhausted list leaves the slot
		// without image identifiers; the host renders it empty.
		var chosen *match.ImageCandidate
		for i := range result.Candidates {
			c := &result.Candidates[i]
			if c.ImageID != "" && imageIDAssigned(viewportData, c.ImageID) {
				continue
			}
			chosen = c
			break
		}
		if chosen != nil && chosen.ImageID != "" {
			data.StudyInstanceUID = chosen.StudyInstanceUID
			data.SeriesInstanceUID = chosen.SeriesInstanceUID
			data.SOPInstanceUID = chosen.SOPInstanceUID
			data.DisplaySetInstanceUID = chosen.DisplaySetInstanceUID
			data.ImageID = chosen.ImageID
			data.CurrentImageIDIndex = chosen.CurrentImageIDIndex
		}

		viewportData = append(viewportData, data)
	}

	if scoped >= 0 && scoped < len(viewportData) {
		e.layout.RerenderViewport(scoped, viewportData[scoped])
		return
	}
	e.layout.UpdateViewports(LayoutUpdate{
		LayoutTemplateName: templateName,
		Rows:               stage.ViewportStructure.Rows,
		Columns:            stage.ViewportStructure.Columns,
		ViewportData:       viewportData,
	})
}

// dispatchPriorRequests resolves abstract prior references in the
// background. Each resolution re-matches only its own viewport when it
// lands; failures are logged and the viewport keeps its assignment.
func (e *Engine) dispatchPriorRequests(viewportIndex int, requests []match.PriorRequest) {
	primary := e.primaryStudyLocked()
	if primary == nil {
		return
	}
	priors := e.priors[primary.StudyInstanceUID()]

	for _, req := range requests {
		ref, ok := prior.Pick(priors, req.AbstractPriorValue)
		if !ok {
			e.logger.Debug("no prior available for abstract value",
				slog.Int("abstractPriorValue", req.AbstractPriorValue),
				slog.Int("available", len(priors)))
			continue
		}
		if e.hasStudyLocked(ref.StudyInstanceUID) {
			continue
		}

		key := fmt.Sprintf("%s#%d", ref.StudyInstanceUID, viewportIndex)
		if e.inflight[key] {
			continue
		}
		e.inflight[key] = true

		go e.resolvePrior(viewportIndex, req.AbstractPriorValue, priors, key)
	}
}

func (e *Engine) resolvePrior(viewportIndex, abstractPriorValue int, priors []metadata.StudySummary, key string) {
	study, err := e.resolver.Resolve(context.Background(), abstractPriorValue, priors)

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, key)

	if err != nil {
		// Fail soft: the viewport keeps its previous assignment and the
		// rest of the stage is untouched.
		e.logger.Warn("prior resolution failed",
			slog.Int("viewport", viewportIndex),
			slog.String("error", err.Error()))
		return
	}

	e.addStudyLocked(study)
	e.updateViewportsLocked(viewportIndex)
}

func (e *Engine) hasStudyLocked(uid string) bool {
	for _, s := range e.studies {
		if s.StudyInstanceUID() == uid {
			return true
		}
	}
	return false
}

func (e *Engine) customSettingValuesLocked(settings map[string]any) []CustomSettingValue {
	var out []CustomSettingValue
	for id, value := range settings {
		if _, ok := e.customSettings[id]; ok {
			out = append(out, CustomSettingValue{ID: id, Value: value})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// normalizeSettings converts the rule library's YES/NO strings into
// booleans for the rendering layer.
func normalizeSettings(settings map[string]any) map[string]any {
	if len(settings) == 0 {
		return nil
	}
	out := make(map[string]any, len(settings))
	for key, value := range settings {
		switch value {
		case "YES":
			out[key] = true
		case "NO":
			out[key] = false
		default:
			out[key] = value
		}
	}
	return out
}

// imageIDAssigned reports whether an image is already hung in one of the
// accumulated slots.
func imageIDAssigned(data []ViewportData, imageID string) bool {
	for _, d := range data {
		if d.ImageID == imageID {
			return true
		}
	}
	return false
}
