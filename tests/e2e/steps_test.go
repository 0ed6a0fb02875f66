package e2e

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/mrsinham/dicomhang/internal/engine"
	"github.com/mrsinham/dicomhang/internal/metadata"
	"github.com/mrsinham/dicomhang/internal/protocol"
)

const ctImageStorage = "1.2.840.10008.5.1.4.1.1.2"

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

// recordedLayout captures engine output; rerenders are signalled so
// steps can wait for async prior matches.
type recordedLayout struct {
	mu         sync.Mutex
	update     engine.LayoutUpdate
	rerendered chan engine.ViewportData
}

func (l *recordedLayout) UpdateViewports(update engine.LayoutUpdate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.update = update
}

func (l *recordedLayout) RerenderViewport(index int, data engine.ViewportData) {
	l.mu.Lock()
	if index < len(l.update.ViewportData) {
		l.update.ViewportData[index] = data
	}
	l.mu.Unlock()
	l.rerendered <- data
}

func (l *recordedLayout) viewport(index int) (engine.ViewportData, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index >= len(l.update.ViewportData) {
		return engine.ViewportData{}, fmt.Errorf("viewport %d not rendered (%d slots)", index, len(l.update.ViewportData))
	}
	return l.update.ViewportData[index], nil
}

// memorySource serves prior studies registered by the scenario.
type memorySource struct {
	studies map[string]*metadata.Study
}

func (s *memorySource) LoadStudy(ctx context.Context, ref metadata.StudySummary) (*metadata.Study, error) {
	study, ok := s.studies[ref.StudyInstanceUID]
	if !ok {
		return nil, fmt.Errorf("study %s not found", ref.StudyInstanceUID)
	}
	return study, nil
}

// testContext holds state for a single scenario.
type testContext struct {
	library *protocol.Library
	layout  *recordedLayout
	source  *memorySource
	eng     *engine.Engine

	studies      []*metadata.Study
	priors       []metadata.StudySummary
	nextUID      int
	seriesByDesc map[string]string
}

func (tc *testContext) reset() {
	tc.library = protocol.NewLibrary()
	tc.layout = &recordedLayout{rerendered: make(chan engine.ViewportData, 8)}
	tc.source = &memorySource{studies: make(map[string]*metadata.Study)}
	tc.eng = nil
	tc.studies = nil
	tc.priors = nil
	tc.nextUID = 0
	tc.seriesByDesc = make(map[string]string)
}

func (tc *testContext) buildStudy(uid, date, studyDesc, seriesDesc string, images int) *metadata.Study {
	study := metadata.NewStudy()
	series := metadata.NewSeries()
	seriesUID := uid + ".1"
	tc.seriesByDesc[seriesDesc] = seriesUID
	for n := 1; n <= images; n++ {
		sop := fmt.Sprintf("%s.%d", seriesUID, n)
		inst := metadata.NewInstance(metadata.Attributes{
			metadata.KeyStudyInstanceUID:  uid,
			metadata.KeyStudyDate:         date,
			metadata.KeyStudyDescription:  studyDesc,
			metadata.KeySeriesInstanceUID: seriesUID,
			metadata.KeySeriesNumber:      1,
			metadata.KeySeriesDescription: seriesDesc,
			metadata.KeySOPInstanceUID:    sop,
			metadata.KeySOPClassUID:       ctImageStorage,
			metadata.KeyInstanceNumber:    n,
		})
		inst.SetImageID("wadors:" + sop)
		series.AddInstance(inst)
	}
	study.AddSeries(series)
	study.BuildDisplaySets()
	return study
}

func (tc *testContext) aStudyWithSeries(studyDesc, seriesDesc string, images int) error {
	tc.nextUID++
	uid := fmt.Sprintf("1.2.%d", tc.nextUID)
	tc.studies = append(tc.studies, tc.buildStudy(uid, "20260115", studyDesc, seriesDesc, images))
	return nil
}

func (tc *testContext) aPriorStudyWithSeries(studyDesc, seriesDesc string, images int) error {
	tc.nextUID++
	uid := fmt.Sprintf("1.9.%d", tc.nextUID)
	date := fmt.Sprintf("2025010%d", tc.nextUID%10)
	study := tc.buildStudy(uid, date, studyDesc, seriesDesc, images)
	tc.source.studies[uid] = study
	tc.priors = append(tc.priors, metadata.StudySummary{
		StudyInstanceUID: uid,
		StudyDate:        date,
		Description:      studyDesc,
	})
	return nil
}

func (tc *testContext) aProtocolMatching(name, fragment string, weight int) error {
	p := protocol.New(name)
	p.AddProtocolMatchingRule(protocol.NewRule(
		metadata.KeyStudyDescription, protocol.Contains(fragment), false, float64(weight)))
	stage := protocol.NewStage("primary", protocol.ViewportStructure{
		LayoutTemplateName: "gridLayout", Rows: 1, Columns: 1,
	})
	stage.Viewports = []protocol.Viewport{{}}
	p.AddStage(stage)
	return tc.library.Register(p)
}

func (tc *testContext) protocolHangsSeries(name, fragment string) error {
	p, err := tc.findProtocol(name)
	if err != nil {
		return err
	}
	stage := p.Stages[0]
	stage.Viewports[0].SeriesMatchingRules = protocol.RuleSet{
		protocol.NewRule(metadata.KeySeriesDescription, protocol.Contains(fragment), false, 1),
	}
	return nil
}

func (tc *testContext) protocolHasComparisonViewport(name string, back int) error {
	p, err := tc.findProtocol(name)
	if err != nil {
		return err
	}
	stage := p.Stages[0]
	stage.ViewportStructure.Columns++
	stage.Viewports = append(stage.Viewports, protocol.Viewport{
		StudyMatchingRules: protocol.RuleSet{
			protocol.NewRule(protocol.AbstractPriorAttribute, protocol.Equals(back), false, 1),
		},
	})
	p.UpdateNumberOfPriorsReferenced()
	return nil
}

func (tc *testContext) protocolHasAnotherStage(name string, rows, columns int) error {
	p, err := tc.findProtocol(name)
	if err != nil {
		return err
	}
	stage := protocol.NewStage(fmt.Sprintf("stage %d", len(p.Stages)+1), protocol.ViewportStructure{
		LayoutTemplateName: "gridLayout", Rows: rows, Columns: columns,
	})
	for i := 0; i < rows*columns; i++ {
		stage.Viewports = append(stage.Viewports, protocol.Viewport{})
	}
	p.AddStage(stage)
	return nil
}

func (tc *testContext) findProtocol(name string) (*protocol.Protocol, error) {
	for _, p := range tc.library.All() {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("protocol %q not registered", name)
}

func (tc *testContext) theEngineStarts() error {
	priors := make(map[string][]metadata.StudySummary)
	if len(tc.studies) > 0 {
		priors[tc.studies[0].StudyInstanceUID()] = tc.priors
	}
	eng, err := engine.New(tc.layout, tc.library, tc.studies, priors, tc.source, nil)
	if err != nil {
		return err
	}
	tc.eng = eng
	return nil
}

func (tc *testContext) theSelectedProtocolIs(name string) error {
	got := tc.eng.CurrentProtocol().Name
	if got != name {
		return fmt.Errorf("selected protocol is %q, want %q", got, name)
	}
	return nil
}

func (tc *testContext) theDefaultProtocolIsSelected() error {
	if got := tc.eng.CurrentProtocol().ID; got != protocol.DefaultProtocolID {
		return fmt.Errorf("selected protocol is %q, want the default", got)
	}
	return nil
}

func (tc *testContext) viewportShowsSeries(index int, seriesDesc string) error {
	data, err := tc.layout.viewport(index)
	if err != nil {
		return err
	}
	want, ok := tc.seriesByDesc[seriesDesc]
	if !ok {
		return fmt.Errorf("no series described as %q was built", seriesDesc)
	}
	if data.SeriesInstanceUID != want {
		return fmt.Errorf("viewport %d shows series %q, want %q (%s)",
			index, data.SeriesInstanceUID, want, seriesDesc)
	}
	return nil
}

func (tc *testContext) viewportIsEmpty(index int) error {
	data, err := tc.layout.viewport(index)
	if err != nil {
		return err
	}
	if data.ImageID != "" {
		return fmt.Errorf("viewport %d shows %q, want empty", index, data.ImageID)
	}
	return nil
}

func (tc *testContext) viewportEventuallyShowsAPrior(index int) error {
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-tc.layout.rerendered:
			if data.ViewportIndex != index {
				continue
			}
			for _, prior := range tc.priors {
				if data.StudyInstanceUID == prior.StudyInstanceUID {
					return nil
				}
			}
			return fmt.Errorf("viewport %d rerendered with study %q, not a prior", index, data.StudyInstanceUID)
		case <-deadline:
			return fmt.Errorf("viewport %d never showed a prior study", index)
		}
	}
}

func (tc *testContext) viewportsShowDifferentImages(a, b int) error {
	da, err := tc.layout.viewport(a)
	if err != nil {
		return err
	}
	db, err := tc.layout.viewport(b)
	if err != nil {
		return err
	}
	if da.ImageID == "" || db.ImageID == "" {
		return fmt.Errorf("viewports %d/%d should both hang images (%q, %q)", a, b, da.ImageID, db.ImageID)
	}
	if da.ImageID == db.ImageID {
		return fmt.Errorf("viewports %d and %d both hang %q", a, b, da.ImageID)
	}
	return nil
}

func (tc *testContext) iAdvanceToTheNextStage() error {
	tc.eng.NextStage()
	return nil
}

func (tc *testContext) advancingPastTheLastStageIsRejected() error {
	before := tc.eng.CurrentStageIndex()
	if tc.eng.NextStage() {
		return fmt.Errorf("NextStage past the last stage succeeded")
	}
	if got := tc.eng.CurrentStageIndex(); got != before {
		return fmt.Errorf("stage index moved from %d to %d", before, got)
	}
	return nil
}

func (tc *testContext) theStageIndexIs(index int) error {
	if got := tc.eng.CurrentStageIndex(); got != index {
		return fmt.Errorf("stage index is %d, want %d", got, index)
	}
	return nil
}

func (tc *testContext) theStageLayoutIs(rows, columns int) error {
	tc.layout.mu.Lock()
	defer tc.layout.mu.Unlock()
	u := tc.layout.update
	if u.Rows != rows || u.Columns != columns {
		return fmt.Errorf("layout is %dx%d, want %dx%d", u.Rows, u.Columns, rows, columns)
	}
	return nil
}

func InitializeScenario(sc *godog.ScenarioContext) {
	tc := &testContext{}

	sc.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	sc.Step(`^a study described as "([^"]*)" with a series "([^"]*)" of (\d+) images$`, tc.aStudyWithSeries)
	sc.Step(`^a prior study described as "([^"]*)" with a series "([^"]*)" of (\d+) images$`, tc.aPriorStudyWithSeries)
	sc.Step(`^a protocol "([^"]*)" matching study descriptions containing "([^"]*)" with weight (\d+)$`, tc.aProtocolMatching)
	sc.Step(`^protocol "([^"]*)" hangs series containing "([^"]*)"$`, tc.protocolHangsSeries)
	sc.Step(`^protocol "([^"]*)" has a comparison viewport hanging (\d+) study back$`, tc.protocolHasComparisonViewport)
	sc.Step(`^protocol "([^"]*)" has another stage of (\d+)x(\d+)$`, tc.protocolHasAnotherStage)
	sc.Step(`^the engine starts$`, tc.theEngineStarts)
	sc.Step(`^the selected protocol is "([^"]*)"$`, tc.theSelectedProtocolIs)
	sc.Step(`^the default protocol is selected$`, tc.theDefaultProtocolIsSelected)
	sc.Step(`^viewport (\d+) shows series "([^"]*)"$`, tc.viewportShowsSeries)
	sc.Step(`^viewport (\d+) is empty$`, tc.viewportIsEmpty)
	sc.Step(`^viewport (\d+) eventually shows a prior study$`, tc.viewportEventuallyShowsAPrior)
	sc.Step(`^viewports (\d+) and (\d+) show different images$`, tc.viewportsShowDifferentImages)
	sc.Step(`^I advance to the next stage$`, tc.iAdvanceToTheNextStage)
	sc.Step(`^advancing past the last stage is rejected$`, tc.advancingPastTheLastStageIsRejected)
	sc.Step(`^the stage index is (\d+)$`, tc.theStageIndexIs)
	sc.Step(`^the stage layout is (\d+)x(\d+)$`, tc.theStageLayoutIs)
}
