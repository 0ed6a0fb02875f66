package main

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/suyashkumar/dicom"

	"github.com/mrsinham/dicomhang/internal/metadata"
)

// loadDICOMDir parses every DICOM file under dir into the metadata
// builder. Files that fail to parse are skipped; a directory with no
// parseable file at all is an error.
func loadDICOMDir(dir string) (*metadata.Builder, int, error) {
	builder := metadata.NewBuilder()
	count := 0

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.EqualFold(d.Name(), "DICOMDIR") {
			return nil
		}
		ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
		if err != nil {
			return nil
		}
		if err := builder.AddDataset(ds, "file:"+path); err != nil {
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	if count == 0 {
		return nil, 0, fmt.Errorf("no DICOM files under %s", dir)
	}
	return builder, count, nil
}

// studySource serves already-parsed studies by StudyInstanceUID. It backs
// the prior resolver when every study came from the same local directory.
type studySource struct {
	byUID map[string]*metadata.Study
}

func newStudySource(studies []*metadata.Study) *studySource {
	s := &studySource{byUID: make(map[string]*metadata.Study, len(studies))}
	for _, study := range studies {
		s.byUID[study.StudyInstanceUID()] = study
	}
	return s
}

func (s *studySource) LoadStudy(ctx context.Context, ref metadata.StudySummary) (*metadata.Study, error) {
	study, ok := s.byUID[ref.StudyInstanceUID]
	if !ok {
		return nil, fmt.Errorf("study %s not loaded", ref.StudyInstanceUID)
	}
	return study, nil
}
