package metadata

import (
	"fmt"
	"sort"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// AttributesFromDataset flattens a parsed DICOM dataset into an attribute
// map keyed by xGGGGEEEE names. Single-valued elements are unwrapped so
// rules compare against scalars; multi-valued elements stay as slices.
func AttributesFromDataset(ds dicom.Dataset) Attributes {
	attrs := make(Attributes, len(ds.Elements))
	for _, el := range ds.Elements {
		if el == nil || el.Value == nil {
			continue
		}
		if el.Tag == tag.PixelData {
			continue
		}
		attrs[AttributeKey(el.Tag)] = unwrapValue(el.Value.GetValue())
	}
	return attrs
}

func unwrapValue(v any) any {
	switch vv := v.(type) {
	case []string:
		if len(vv) == 1 {
			return vv[0]
		}
		return vv
	case []int:
		if len(vv) == 1 {
			return vv[0]
		}
		return vv
	case []float64:
		if len(vv) == 1 {
			return vv[0]
		}
		return vv
	default:
		return v
	}
}

// Builder accumulates parsed DICOM datasets into studies, grouping by
// Study and Series Instance UID.
type Builder struct {
	studies []*Study
	byStudy map[string]*Study
	bySer   map[string]*Series
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		byStudy: make(map[string]*Study),
		bySer:   make(map[string]*Series),
	}
}

// AddDataset files one parsed dataset into its study and series. imageID
// identifies the renderable image for the instance (e.g. the file path).
func (b *Builder) AddDataset(ds dicom.Dataset, imageID string) error {
	attrs := AttributesFromDataset(ds)
	inst := NewInstance(attrs)
	inst.SetImageID(imageID)

	studyUID, ok := attrs[KeyStudyInstanceUID].(string)
	if !ok || studyUID == "" {
		return fmt.Errorf("dataset has no StudyInstanceUID")
	}
	seriesUID, ok := attrs[KeySeriesInstanceUID].(string)
	if !ok || seriesUID == "" {
		return fmt.Errorf("dataset has no SeriesInstanceUID")
	}

	study, ok := b.byStudy[studyUID]
	if !ok {
		study = NewStudy()
		b.byStudy[studyUID] = study
		b.studies = append(b.studies, study)
	}

	series, ok := b.bySer[seriesUID]
	if !ok {
		series = NewSeries()
		b.bySer[seriesUID] = series
		study.AddSeries(series)
	}
	series.AddInstance(inst)
	return nil
}

// Studies finalizes and returns the accumulated studies: series sorted by
// number, instances sorted by number, display sets built, studies ordered
// most recent first.
func (b *Builder) Studies() []*Study {
	for _, study := range b.studies {
		study.EachSeries(func(sr *Series) {
			sr.sortInstances()
		})
		sort.SliceStable(study.series, func(i, j int) bool {
			return study.series[i].SeriesNumber() < study.series[j].SeriesNumber()
		})
		study.BuildDisplaySets()
	}
	sort.SliceStable(b.studies, func(i, j int) bool {
		return studyDateTime(b.studies[i]) > studyDateTime(b.studies[j])
	})
	return b.studies
}

// Summaries returns lightweight references for the accumulated studies in
// the same order as Studies.
func (b *Builder) Summaries() []StudySummary {
	studies := b.Studies()
	out := make([]StudySummary, 0, len(studies))
	for _, s := range studies {
		out = append(out, Summarize(s))
	}
	return out
}

// Summarize builds a StudySummary from full study metadata.
func Summarize(s *Study) StudySummary {
	sum := StudySummary{StudyInstanceUID: s.StudyInstanceUID()}
	if first := s.FirstInstance(); first != nil {
		sum.StudyDate = first.stringAttr(KeyStudyDate)
		sum.StudyTime = first.stringAttr(KeyStudyTime)
		sum.Description = first.stringAttr(KeyStudyDescription)
	}
	return sum
}

func studyDateTime(s *Study) string {
	first := s.FirstInstance()
	if first == nil {
		return ""
	}
	return first.stringAttr(KeyStudyDate) + first.stringAttr(KeyStudyTime)
}
