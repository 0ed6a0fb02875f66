package metadata

import (
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// tagNames maps lowercase DICOM keywords to their tags, for protocol
// authors who prefer "SeriesDescription" over "x0008103e". Covers the
// attributes hanging protocols commonly match on.
var tagNames = map[string]tag.Tag{
	// Patient level
	"patientname":      tag.PatientName,
	"patientid":        tag.PatientID,
	"patientbirthdate": tag.PatientBirthDate,
	"patientsex":       tag.PatientSex,

	// Study level
	"studyinstanceuid":            tag.StudyInstanceUID,
	"studydate":                   tag.StudyDate,
	"studytime":                   tag.StudyTime,
	"studydescription":            tag.StudyDescription,
	"accessionnumber":             tag.AccessionNumber,
	"institutionname":             tag.InstitutionName,
	"institutionaldepartmentname": tag.InstitutionalDepartmentName,
	"referringphysicianname":      tag.ReferringPhysicianName,

	// Series level
	"seriesinstanceuid": tag.SeriesInstanceUID,
	"seriesnumber":      tag.SeriesNumber,
	"seriesdescription": tag.SeriesDescription,
	"modality":          tag.Modality,
	"protocolname":      tag.ProtocolName,
	"bodypartexamined":  tag.BodyPartExamined,
	"manufacturer":      tag.Manufacturer,
	"sequencename":      tag.SequenceName,

	// Image level
	"sopinstanceuid":            tag.SOPInstanceUID,
	"sopclassuid":               tag.SOPClassUID,
	"instancenumber":            tag.InstanceNumber,
	"rows":                      tag.Rows,
	"columns":                   tag.Columns,
	"slicethickness":            tag.SliceThickness,
	"slicelocation":             tag.SliceLocation,
	"imagetype":                 tag.ImageType,
	"photometricinterpretation": tag.PhotometricInterpretation,
	"windowcenter":              tag.WindowCenter,
	"windowwidth":               tag.WindowWidth,
}

// ResolveAttributeKey turns a rule's attribute name into the key used for
// lookup. Keys already in xGGGGEEEE form and reserved abstract names pass
// through untouched; DICOM keywords resolve case-insensitively, with a
// closest-match suggestion on typos.
func ResolveAttributeKey(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("empty attribute name")
	}
	if strings.HasPrefix(trimmed, "x") && len(trimmed) == 9 {
		return strings.ToLower(trimmed), nil
	}

	normalized := strings.ToLower(trimmed)
	if t, ok := tagNames[normalized]; ok {
		return AttributeKey(t), nil
	}

	// Names without a known keyword are kept verbatim: they may be custom
	// attributes registered by the host.
	if suggestion := closestTagName(normalized); suggestion != "" {
		return trimmed, fmt.Errorf("unknown attribute %q, did you mean %q?", name, suggestion)
	}
	return trimmed, nil
}

// closestTagName finds the nearest keyword by Levenshtein distance.
// Returns empty when nothing is within distance 3.
func closestTagName(input string) string {
	const maxDistance = 3
	bestDistance := maxDistance + 1
	var bestMatch string

	for key := range tagNames {
		distance := levenshteinDistance(input, key)
		if distance < bestDistance {
			bestDistance = distance
			bestMatch = key
		}
	}

	if bestDistance <= maxDistance {
		return bestMatch
	}
	return ""
}

// levenshteinDistance calculates the minimum number of single-character
// edits required to change one string into the other.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
	}
	for i := 0; i <= len(a); i++ {
		matrix[i][0] = i
	}
	for j := 0; j <= len(b); j++ {
		matrix[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			matrix[i][j] = min(
				matrix[i-1][j]+1,
				matrix[i][j-1]+1,
				matrix[i-1][j-1]+cost,
			)
		}
	}

	return matrix[len(a)][len(b)]
}
