package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/quill/pkg/access"
	"github.com/platinummonkey/quill/pkg/store"
)

// seedFile is the on-disk layout of a plan seed file:
//
//	plans:
//	  - name: FREE
//	    description: Free plan - basic features only
type seedFile struct {
	Plans []store.PlanSeed `yaml:"plans"`
}

// loadPlanSeeds reads the seed file at path. An empty path yields the
// built-in tiers.
func loadPlanSeeds(path string) ([]store.PlanSeed, error) {
	if path == "" {
		return store.DefaultPlanSeeds, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return parsePlanSeeds(data)
}

func parsePlanSeeds(data []byte) ([]store.PlanSeed, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if len(f.Plans) == 0 {
		return nil, fmt.Errorf("seed file lists no plans")
	}

	seen := make(map[access.Plan]bool, len(f.Plans))
	for i, p := range f.Plans {
		plan, err := access.ParsePlan(string(p.Name))
		if err != nil {
			return nil, fmt.Errorf("plan %d: %w", i+1, err)
		}
		if seen[plan] {
			return nil, fmt.Errorf("plan %s listed twice", plan)
		}
		seen[plan] = true
		f.Plans[i].Name = plan
	}
	return f.Plans, nil
}
