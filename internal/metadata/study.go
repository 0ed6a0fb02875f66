package metadata

import (
	"context"
	"sort"
	"strconv"

	"github.com/google/uuid"
)

// Instance is one image-level object with its attributes.
type Instance struct {
	attrs   Attributes
	custom  map[string]any
	imageID string
}

// NewInstance wraps an attribute map as an instance.
func NewInstance(attrs Attributes) *Instance {
	return &Instance{attrs: attrs, custom: make(map[string]any)}
}

// Attribute returns the raw value for an attribute key.
func (i *Instance) Attribute(name string) (any, bool) {
	v, ok := i.attrs[name]
	return v, ok
}

// CustomAttribute returns a stamped custom attribute.
func (i *Instance) CustomAttribute(name string) (any, bool) {
	v, ok := i.custom[name]
	return v, ok
}

// SetCustomAttribute stamps a custom attribute onto the instance.
func (i *Instance) SetCustomAttribute(name string, value any) {
	i.custom[name] = value
}

// SOPInstanceUID returns the instance's SOP Instance UID.
func (i *Instance) SOPInstanceUID() string {
	return i.stringAttr(KeySOPInstanceUID)
}

// InstanceNumber returns the parsed Instance Number, or 0.
func (i *Instance) InstanceNumber() int {
	n, _ := strconv.Atoi(i.stringAttr(KeyInstanceNumber))
	return n
}

// ImageID identifies the renderable image for this instance. Assigned by
// the metadata provider; empty when the instance has no display path.
func (i *Instance) ImageID() string { return i.imageID }

// SetImageID assigns the renderable image identifier.
func (i *Instance) SetImageID(id string) { i.imageID = id }

func (i *Instance) stringAttr(name string) string {
	v, ok := i.attrs[name]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case int:
		return strconv.Itoa(s)
	default:
		return ""
	}
}

// Series is an ordered collection of instances sharing a Series Instance UID.
type Series struct {
	instances []*Instance
	custom    map[string]any
}

// NewSeries creates an empty series.
func NewSeries() *Series {
	return &Series{custom: make(map[string]any)}
}

// AddInstance appends an instance to the series.
func (s *Series) AddInstance(inst *Instance) {
	s.instances = append(s.instances, inst)
}

// FirstInstance returns the series' representative instance, or nil.
func (s *Series) FirstInstance() *Instance {
	if len(s.instances) == 0 {
		return nil
	}
	return s.instances[0]
}

// EachInstance calls fn for every instance in order with its index.
func (s *Series) EachInstance(fn func(inst *Instance, index int)) {
	for i, inst := range s.instances {
		fn(inst, i)
	}
}

// InstanceCount returns the number of instances in the series.
func (s *Series) InstanceCount() int { return len(s.instances) }

// SeriesInstanceUID returns the series UID from the representative instance.
func (s *Series) SeriesInstanceUID() string {
	if first := s.FirstInstance(); first != nil {
		return first.stringAttr(KeySeriesInstanceUID)
	}
	return ""
}

// SeriesNumber returns the parsed Series Number, or 0.
func (s *Series) SeriesNumber() int {
	if first := s.FirstInstance(); first != nil {
		n, _ := strconv.Atoi(first.stringAttr(KeySeriesNumber))
		return n
	}
	return 0
}

// Attribute returns the raw value from the series' representative instance.
func (s *Series) Attribute(name string) (any, bool) {
	if first := s.FirstInstance(); first != nil {
		return first.Attribute(name)
	}
	return nil, false
}

// CustomAttribute returns a stamped custom attribute.
func (s *Series) CustomAttribute(name string) (any, bool) {
	v, ok := s.custom[name]
	return v, ok
}

// SetCustomAttribute stamps a custom attribute onto the series.
func (s *Series) SetCustomAttribute(name string, value any) {
	s.custom[name] = value
}

// sortInstances orders the series by Instance Number.
func (s *Series) sortInstances() {
	sort.SliceStable(s.instances, func(i, j int) bool {
		return s.instances[i].InstanceNumber() < s.instances[j].InstanceNumber()
	})
}

// DisplaySet groups instances that hang together in one viewport,
// typically the images of one series.
type DisplaySet struct {
	uid    string
	images []*Instance
}

// NewDisplaySet creates a display set over the given images.
func NewDisplaySet(images []*Instance) *DisplaySet {
	return &DisplaySet{uid: uuid.NewString(), images: images}
}

// UID returns the display set's identity.
func (d *DisplaySet) UID() string { return d.uid }

// Images returns the display set's images in order.
func (d *DisplaySet) Images() []*Instance { return d.images }

// contains reports whether the display set holds the given SOP instance.
func (d *DisplaySet) contains(sopInstanceUID string) bool {
	for _, img := range d.images {
		if img.SOPInstanceUID() == sopInstanceUID {
			return true
		}
	}
	return false
}

// Study is a loaded study: its series, display sets and custom attributes.
type Study struct {
	series      []*Series
	displaySets []*DisplaySet
	custom      map[string]any
}

// NewStudy creates an empty study.
func NewStudy() *Study {
	return &Study{custom: make(map[string]any)}
}

// AddSeries appends a series to the study.
func (s *Study) AddSeries(series *Series) {
	s.series = append(s.series, series)
}

// EachSeries calls fn for every series in order.
func (s *Study) EachSeries(fn func(series *Series)) {
	for _, sr := range s.series {
		fn(sr)
	}
}

// SeriesCount returns the number of series in the study.
func (s *Study) SeriesCount() int { return len(s.series) }

// FirstInstance returns the study's representative instance, or nil.
func (s *Study) FirstInstance() *Instance {
	for _, sr := range s.series {
		if first := sr.FirstInstance(); first != nil {
			return first
		}
	}
	return nil
}

// StudyInstanceUID returns the study UID from the representative instance.
func (s *Study) StudyInstanceUID() string {
	if first := s.FirstInstance(); first != nil {
		return first.stringAttr(KeyStudyInstanceUID)
	}
	return ""
}

// Attribute returns the raw value from the study's representative instance.
func (s *Study) Attribute(name string) (any, bool) {
	if first := s.FirstInstance(); first != nil {
		return first.Attribute(name)
	}
	return nil, false
}

// CustomAttribute returns a stamped custom attribute.
func (s *Study) CustomAttribute(name string) (any, bool) {
	v, ok := s.custom[name]
	return v, ok
}

// SetCustomAttribute stamps a custom attribute onto the study.
func (s *Study) SetCustomAttribute(name string, value any) {
	s.custom[name] = value
}

// BuildDisplaySets rebuilds the study's display sets, one per series.
func (s *Study) BuildDisplaySets() {
	s.displaySets = s.displaySets[:0]
	for _, sr := range s.series {
		if sr.InstanceCount() == 0 {
			continue
		}
		images := make([]*Instance, 0, sr.InstanceCount())
		sr.EachInstance(func(inst *Instance, _ int) {
			images = append(images, inst)
		})
		s.displaySets = append(s.displaySets, NewDisplaySet(images))
	}
}

// DisplaySets returns the study's display sets.
func (s *Study) DisplaySets() []*DisplaySet { return s.displaySets }

// FindDisplaySet returns the display set containing the given SOP
// instance, if any.
func (s *Study) FindDisplaySet(sopInstanceUID string) (*DisplaySet, bool) {
	for _, ds := range s.displaySets {
		if ds.contains(sopInstanceUID) {
			return ds, true
		}
	}
	return nil, false
}

// StudySummary is the lightweight reference a prior-study list carries
// before the full study metadata has been fetched.
type StudySummary struct {
	StudyInstanceUID string
	StudyDate        string
	StudyTime        string
	Description      string
}

// Source fetches full study metadata for a prior-study reference,
// typically over the network. Implementations are provided by the host.
type Source interface {
	LoadStudy(ctx context.Context, ref StudySummary) (*Study, error)
}
