package protocol

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/mrsinham/dicomhang/internal/metadata"
)

// reservedAttributes are abstract names the engine interprets itself.
var reservedAttributes = map[string]bool{
	AbstractPriorAttribute:  true,
	NumberOfPriorsAttribute: true,
}

// Decode reads one protocol from YAML (or JSON, which YAML subsumes),
// validates it, fills in missing IDs and resolves friendly attribute
// names to their xGGGGEEEE keys.
func Decode(r io.Reader) (*Protocol, error) {
	var p Protocol
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode protocol: %w", err)
	}
	if err := normalize(&p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.UpdateNumberOfPriorsReferenced()
	return &p, nil
}

// LoadFile reads one protocol from a YAML file.
func LoadFile(path string) (*Protocol, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	p, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// LoadDir loads every .yaml/.yml file under dir into protocols, sorted by
// file name so registration order is stable.
func LoadDir(dir string) ([]*Protocol, error) {
	var protocols []*Protocol
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		p, err := LoadFile(path)
		if err != nil {
			return err
		}
		protocols = append(protocols, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return protocols, nil
}

func normalize(p *Protocol) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := normalizeRules(p.ProtocolMatchingRules); err != nil {
		return fmt.Errorf("protocol %q: %w", p.Name, err)
	}
	for _, stage := range p.Stages {
		if stage.ID == "" {
			stage.ID = uuid.NewString()
		}
		if stage.ViewportStructure.LayoutTemplateName == "" {
			stage.ViewportStructure.LayoutTemplateName = "gridLayout"
		}
		for i := range stage.Viewports {
			vp := &stage.Viewports[i]
			for _, rs := range []RuleSet{vp.StudyMatchingRules, vp.SeriesMatchingRules, vp.ImageMatchingRules} {
				if err := normalizeRules(rs); err != nil {
					return fmt.Errorf("protocol %q stage %q: %w", p.Name, stage.Name, err)
				}
			}
		}
	}
	return nil
}

func normalizeRules(rules RuleSet) error {
	for i := range rules {
		r := &rules[i]
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.Weight == 0 {
			r.Weight = 1
		}
		if reservedAttributes[r.Attribute] {
			continue
		}
		key, err := metadata.ResolveAttributeKey(r.Attribute)
		if err != nil {
			return err
		}
		r.Attribute = key
	}
	return nil
}
