package profile

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Load reads and validates a profile from a YAML file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a profile from YAML bytes. Structural
// validation (struct tags) runs first, then the cross-reference invariants
// that tags cannot express.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if p.Version == 0 {
		p.Version = 1
	}
	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("validate profile: %w", err)
	}
	if err := checkInvariants(&p); err != nil {
		return nil, err
	}

	slog.Default().With("component", "profile-loader").Debug("profile loaded",
		"profile_id", p.Meta.ProfileID,
		"version", p.Version,
		"levels", len(p.Levels),
		"tables", len(p.AllTables()),
	)
	return &p, nil
}

// checkInvariants enforces the profile invariants that struct tags cannot:
// unique (level, table) pairs, compiling regex patterns, strategy-specific
// field presence, and cross-references from outputs, aggregations, and
// joins back to declared levels and tables.
func checkInvariants(p *Profile) error {
	seenTables := map[string]bool{}
	tableIDs := map[string]bool{}
	for _, lt := range p.AllTables() {
		key := lt.Level + "/" + lt.Table.ID
		if seenTables[key] {
			return fmt.Errorf("duplicate table id %q in level %q", lt.Table.ID, lt.Level)
		}
		seenTables[key] = true
		tableIDs[lt.Table.ID] = true

		if err := checkSelect(&lt.Table.Select); err != nil {
			return fmt.Errorf("table %q: %w", lt.Table.ID, err)
		}
		for _, vc := range lt.Table.ValidationConstraints {
			if vc.Type == "regex" {
				if _, err := regexp.Compile(vc.Pattern); err != nil {
					return fmt.Errorf("table %q: constraint pattern %q: %w", lt.Table.ID, vc.Pattern, err)
				}
			}
		}
	}

	if p.ContextDefault != nil {
		for _, rp := range p.ContextDefault.RegexPatterns {
			if _, err := regexp.Compile(rp.Pattern); err != nil {
				return fmt.Errorf("regex pattern for %q: %w", rp.Field, err)
			}
		}
	}

	levels := map[string]bool{}
	for _, l := range p.Levels {
		levels[l.Name] = true
	}
	for _, out := range append(append([]Output{}, p.Outputs.Defaults...), p.Outputs.Optional...) {
		if !levels[out.FromLevel] {
			return fmt.Errorf("output %q references unknown level %q", out.ID, out.FromLevel)
		}
		for _, tid := range out.FromTables {
			if !tableIDs[tid] {
				return fmt.Errorf("output %q references unknown table %q", out.ID, tid)
			}
		}
	}
	for _, agg := range p.Outputs.Aggregations {
		if !tableIDs[agg.FromTable] {
			return fmt.Errorf("aggregation %q references unknown table %q", agg.ID, agg.FromTable)
		}
	}
	for _, j := range p.Outputs.Joins {
		if !tableIDs[j.LeftTable] {
			return fmt.Errorf("join %q references unknown table %q", j.ID, j.LeftTable)
		}
		if !tableIDs[j.RightTable] {
			return fmt.Errorf("join %q references unknown table %q", j.ID, j.RightTable)
		}
	}

	if err := checkFilter(p.Datasource.Filter); err != nil {
		return fmt.Errorf("datasource filter: %w", err)
	}
	return nil
}

// checkSelect enforces the strategy-specific field requirements at load
// time so extract time never sees a half-formed contract.
func checkSelect(s *Select) error {
	switch s.Strategy {
	case "flat_object", "array_of_objects":
		if s.Path == "" {
			return fmt.Errorf("%s strategy requires path", s.Strategy)
		}
	case "headers_data":
		if s.Path == "" {
			return fmt.Errorf("headers_data strategy requires path")
		}
		if s.HeadersKey == "" && !s.InferHeaders && len(s.DefaultHeaders) == 0 {
			return fmt.Errorf("headers_data strategy requires headers_key, infer_headers, or default_headers")
		}
		if s.DataKey == "" {
			return fmt.Errorf("headers_data strategy requires data_key")
		}
	case "unpivot":
		if s.Path == "" {
			return fmt.Errorf("unpivot strategy requires path")
		}
		if len(s.ValueVars) == 0 {
			return fmt.Errorf("unpivot strategy requires value_vars")
		}
	case "join":
		if s.Left == nil || s.Left.Path == "" || s.Left.Key == "" {
			return fmt.Errorf("join strategy requires left.path and left.key")
		}
		if s.Right == nil || s.Right.Path == "" || s.Right.Key == "" {
			return fmt.Errorf("join strategy requires right.path and right.key")
		}
	case "repeat_over":
		if s.RepeatOver == nil {
			return fmt.Errorf("repeat_over strategy requires a repeat_over block")
		}
	}
	if s.RepeatOver != nil {
		if s.RepeatOver.Path == "" || s.RepeatOver.AsVar == "" {
			return fmt.Errorf("repeat_over requires path and as")
		}
	}
	return nil
}

// checkFilter validates every matches-operator regex in the predicate tree
// compiles.
func checkFilter(node *FilterNode) error {
	if node == nil {
		return nil
	}
	if node.IsGroup() {
		for _, child := range node.Children {
			if err := checkFilter(child); err != nil {
				return err
			}
		}
		return nil
	}
	if node.Op == "matches" {
		pattern, _ := node.Value.(string)
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("predicate pattern %q: %w", pattern, err)
		}
	}
	return nil
}
