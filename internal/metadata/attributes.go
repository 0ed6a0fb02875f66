// Package metadata provides attribute access to loaded studies, series and
// instances, the shape the matching engine evaluates rules against. A
// DICOM-backed implementation built on parsed datasets lives alongside a
// plain map-backed one for hosts with their own metadata plumbing.
package metadata

import (
	"fmt"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// Attributes maps attribute keys to raw values. Keys use the xGGGGEEEE
// form, e.g. "x00081030" for Study Description.
type Attributes map[string]any

// Entity is the view of a study, series or instance that rule evaluation
// needs: raw attribute lookup plus a mutable custom-attribute bag.
type Entity interface {
	// Attribute returns the raw value for an attribute key, read from the
	// entity's representative instance.
	Attribute(name string) (any, bool)
	// CustomAttribute returns a previously stamped custom attribute.
	CustomAttribute(name string) (any, bool)
	// SetCustomAttribute stamps a custom attribute onto the entity.
	SetCustomAttribute(name string, value any)
}

// AttributeKey converts a DICOM tag into its attribute key.
func AttributeKey(t tag.Tag) string {
	return fmt.Sprintf("x%04x%04x", t.Group, t.Element)
}

// Attribute keys referenced by the engine itself.
var (
	KeySOPClassUID       = AttributeKey(tag.SOPClassUID)       // x00080016
	KeySOPInstanceUID    = AttributeKey(tag.SOPInstanceUID)    // x00080018
	KeyStudyDate         = AttributeKey(tag.StudyDate)         // x00080020
	KeyStudyTime         = AttributeKey(tag.StudyTime)         // x00080030
	KeyModality          = AttributeKey(tag.Modality)          // x00080060
	KeyStudyDescription  = AttributeKey(tag.StudyDescription)  // x00081030
	KeySeriesDescription = AttributeKey(tag.SeriesDescription) // x0008103e
	KeyStudyInstanceUID  = AttributeKey(tag.StudyInstanceUID)  // x0020000d
	KeySeriesInstanceUID = AttributeKey(tag.SeriesInstanceUID) // x0020000e
	KeySeriesNumber      = AttributeKey(tag.SeriesNumber)      // x00200011
	KeyInstanceNumber    = AttributeKey(tag.InstanceNumber)    // x00200013
	KeyRows              = AttributeKey(tag.Rows)              // x00280010
	KeyPatientID         = AttributeKey(tag.PatientID)         // x00100020
)
