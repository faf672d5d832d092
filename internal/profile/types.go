// Package profile defines the declarative extraction profile: the single
// source of truth for what to extract, how to partition and transform it,
// and which governance rules apply. Profiles are loaded from YAML, validated
// once, and never mutated by the engine.
package profile

// Profile is the complete in-memory extraction profile.
type Profile struct {
	// SchemaVersion identifies the profile dialect.
	SchemaVersion string `yaml:"schema_version" validate:"required"`

	// Version increases monotonically with every profile revision.
	Version int `yaml:"version" validate:"gte=1"`

	Meta           Meta             `yaml:"meta" validate:"required"`
	Datasource     Datasource       `yaml:"datasource"`
	Population     Population       `yaml:"population"`
	ContextDefault *ContextDefaults `yaml:"context_defaults"`
	Contexts       []ContextConfig  `yaml:"contexts"`
	Levels         []Level          `yaml:"levels" validate:"dive"`
	Normalization  Normalization    `yaml:"normalization"`

	ColumnRenames     map[string]string  `yaml:"column_renames"`
	CalculatedColumns []CalculatedColumn `yaml:"calculated_columns"`
	TypeCoercions     []TypeCoercion     `yaml:"type_coercion"`
	RowFilters        []RowFilter        `yaml:"row_filters"`

	Outputs Outputs `yaml:"outputs"`

	SchemaRules    *SchemaRules    `yaml:"schema_rules"`
	RowRules       []RowRule       `yaml:"row_rules"`
	AggregateRules []AggregateRule `yaml:"aggregate_rules"`

	// OnValidationFail selects what the caller should do with a failing
	// extraction: continue, stop, or quarantine rows.
	OnValidationFail string `yaml:"on_validation_fail" validate:"omitempty,oneof=continue stop quarantine"`
	QuarantineTable  string `yaml:"quarantine_table"`

	Governance *Governance `yaml:"governance"`
	UI         *UIHints    `yaml:"ui"`
	FileNaming FileNaming  `yaml:"file_naming"`
}

// Meta carries profile identity and provenance.
type Meta struct {
	ProfileID      string   `yaml:"profile_id" validate:"required"`
	Title          string   `yaml:"title" validate:"required"`
	Description    string   `yaml:"description"`
	CreatedBy      string   `yaml:"created_by"`
	Owner          string   `yaml:"owner"`
	Domain         string   `yaml:"domain"`
	Revision       int      `yaml:"revision"`
	Classification string   `yaml:"classification" validate:"omitempty,oneof=public internal confidential"`
	Tags           []string `yaml:"tags"`
}

// Datasource describes where candidate files come from and how they are
// read and pre-filtered.
type Datasource struct {
	ID     string `yaml:"id"`
	Label  string `yaml:"label"`
	Format string `yaml:"format" validate:"omitempty,oneof=csv json excel parquet"`

	// Filter is the predicate tree applied to candidate files. Nil passes
	// every file.
	Filter *FilterNode `yaml:"filters"`

	// Options carries format-specific read options.
	Options DatasourceOptions `yaml:"options"`
}

// DatasourceOptions are format-specific read options.
type DatasourceOptions struct {
	CSV     CSVOptions   `yaml:"csv"`
	Excel   ExcelOptions `yaml:"excel"`
	JSONRow string       `yaml:"json_row_path"`
}

// CSVOptions shape CSV reads declared by the datasource.
type CSVOptions struct {
	Delimiter string   `yaml:"delimiter"`
	SkipRows  int      `yaml:"skip_rows"`
	NullList  []string `yaml:"null_values"`
}

// ExcelOptions shape Excel reads declared by the datasource.
type ExcelOptions struct {
	SheetName  string `yaml:"sheet_name"`
	SheetIndex *int   `yaml:"sheet_index"`
}

// FilterNode is one node of the file filter predicate tree: either a leaf
// predicate or a group combining children with AND/OR/NOT.
type FilterNode struct {
	// Type distinguishes "predicate" (default) from "group".
	Type string `yaml:"type"`

	// Predicate fields.
	Field  string `yaml:"field"`
	Op     string `yaml:"op"`
	Value  any    `yaml:"value"`
	Values []any  `yaml:"values"`
	Case   string `yaml:"case"`

	// Group fields. Op is reused as the logical operator for groups.
	Children []*FilterNode `yaml:"children"`
}

// Population selects which rows survive after extraction and
// normalization.
type Population struct {
	DefaultStrategy string                    `yaml:"default_strategy"`
	Include         []string                  `yaml:"include_populations"`
	Strategies      map[string]StrategyParams `yaml:"strategies"`
}

// StrategyParams parameterizes one population strategy.
type StrategyParams struct {
	ExcludeRules []ExcludeRule `yaml:"exclude_rules"`
	Method       string        `yaml:"method"`
	Threshold    float64       `yaml:"threshold"`
	ApplyTo      []string      `yaml:"apply_to"`
	Size         int           `yaml:"size"`
	Seed         int64         `yaml:"seed"`
	StratifyBy   string        `yaml:"stratify_by"`
}

// ExcludeRule drops rows matching a condition for the valid_only strategy.
type ExcludeRule struct {
	Column    string `yaml:"column"`
	Condition string `yaml:"condition" validate:"omitempty,oneof=equals not_equals is_null contains"`
	Value     any    `yaml:"value"`
}

// ContextDefaults configures the 4-level priority context resolution.
type ContextDefaults struct {
	// Defaults is the lowest-priority static key/value block.
	Defaults map[string]any `yaml:"defaults"`

	// RegexPatterns extract values from file names and paths.
	RegexPatterns []RegexPattern `yaml:"regex_patterns"`

	// ContentPatterns extract values from parsed file content.
	ContentPatterns []ContentPattern `yaml:"content_patterns"`

	// AllowUserOverride lists the fields a caller may override.
	AllowUserOverride []string `yaml:"allow_user_override"`
}

// RegexPattern extracts one context field from a filename or path via a
// named capture group matching the field name.
type RegexPattern struct {
	Field         string         `yaml:"field" validate:"required"`
	Pattern       string         `yaml:"pattern" validate:"required"`
	Scope         string         `yaml:"scope" validate:"omitempty,oneof=filename path full_path"`
	Required      bool           `yaml:"required"`
	OnFail        string         `yaml:"on_fail" validate:"omitempty,oneof=warn error skip_file"`
	Transform     string         `yaml:"transform" validate:"omitempty,oneof=parse_date uppercase lowercase strip"`
	TransformArgs map[string]any `yaml:"transform_args"`
	Description   string         `yaml:"description"`
	Example       string         `yaml:"example"`
}

// ContentPattern extracts one context field from parsed content via
// JSONPath.
type ContentPattern struct {
	Field       string `yaml:"field" validate:"required"`
	Path        string `yaml:"path" validate:"required"`
	Required    bool   `yaml:"required"`
	Default     any    `yaml:"default"`
	OnFail      string `yaml:"on_fail" validate:"omitempty,oneof=warn error skip_file"`
	Description string `yaml:"description"`
}

// ContextConfig binds a named context to a level with key mappings and
// primary keys.
type ContextConfig struct {
	Name        string            `yaml:"name" validate:"required"`
	Level       string            `yaml:"level" validate:"required"`
	Paths       []string          `yaml:"paths"`
	KeyMap      map[string]string `yaml:"key_map"`
	PrimaryKeys []string          `yaml:"primary_keys"`
}

// Level groups tables that share a context tier (e.g. "run", "image").
type Level struct {
	Name         string  `yaml:"name" validate:"required"`
	ApplyContext string  `yaml:"apply_context"`
	Tables       []Table `yaml:"tables" validate:"dive"`
}

// Table declares one logical table to extract.
type Table struct {
	ID          string `yaml:"id" validate:"required"`
	Label       string `yaml:"label"`
	Description string `yaml:"description"`

	Select Select `yaml:"select" validate:"required"`

	// StableColumns is the set of columns the table must contain.
	StableColumns []string `yaml:"stable_columns"`

	// StableColumnsMode selects the severity of stable-column findings.
	StableColumnsMode string `yaml:"stable_columns_mode" validate:"omitempty,oneof=warn error ignore"`

	// StableColumnsSubset permits extra columns beyond the stable list.
	StableColumnsSubset *bool `yaml:"stable_columns_subset"`

	ValidationConstraints []ValueConstraint `yaml:"validation_constraints"`
	ColumnTransforms      []ColumnTransform `yaml:"column_transforms"`
}

// SubsetAllowed resolves the stable_columns_subset default (true).
func (t *Table) SubsetAllowed() bool {
	if t.StableColumnsSubset == nil {
		return true
	}
	return *t.StableColumnsSubset
}

// Mode resolves the stable_columns_mode default (warn).
func (t *Table) Mode() string {
	if t.StableColumnsMode == "" {
		return "warn"
	}
	return t.StableColumnsMode
}

// Select is the strategy-tagged extraction contract for one table.
type Select struct {
	Strategy string `yaml:"strategy" validate:"required,oneof=flat_object headers_data array_of_objects repeat_over unpivot join"`
	Path     string `yaml:"path"`

	// headers_data fields.
	HeadersKey     string   `yaml:"headers_key"`
	DataKey        string   `yaml:"data_key"`
	InferHeaders   bool     `yaml:"infer_headers"`
	DefaultHeaders []string `yaml:"default_headers"`

	// flat_object / array_of_objects fields.
	Fields           []string `yaml:"fields"`
	FlattenNested    bool     `yaml:"flatten_nested"`
	FlattenSeparator string   `yaml:"flatten_separator"`

	// unpivot fields.
	IDVars    []string `yaml:"id_vars"`
	ValueVars []string `yaml:"value_vars"`
	VarName   string   `yaml:"var_name"`
	ValueName string   `yaml:"value_name"`

	// join fields.
	Left  *JoinSide `yaml:"left"`
	Right *JoinSide `yaml:"right"`
	How   string    `yaml:"how" validate:"omitempty,oneof=left right inner outer"`

	// RepeatOver composes any base strategy over an array.
	RepeatOver *RepeatOver `yaml:"repeat_over"`
}

// JoinSide names one side of a strategy-level join.
type JoinSide struct {
	Path string `yaml:"path" validate:"required"`
	Key  string `yaml:"key" validate:"required"`
}

// RepeatOver iterates a base strategy over an array, substituting the
// element index into the base path and injecting parent fields.
type RepeatOver struct {
	Path         string            `yaml:"path" validate:"required"`
	AsVar        string            `yaml:"as" validate:"required"`
	InjectFields map[string]string `yaml:"inject_fields"`
}

// ValueConstraint is a per-table value rule checked by the validation
// engine.
type ValueConstraint struct {
	Column  string   `yaml:"column" validate:"required"`
	Type    string   `yaml:"type" validate:"required,oneof=range not_null regex"`
	Min     *float64 `yaml:"min"`
	Max     *float64 `yaml:"max"`
	Pattern string   `yaml:"pattern"`
}

// ColumnTransform is a named per-table transform applied at extraction
// time.
type ColumnTransform struct {
	Source    string         `yaml:"source" validate:"required"`
	Target    string         `yaml:"target"`
	Transform string         `yaml:"transform" validate:"required,oneof=rename unit_convert uppercase lowercase strip round"`
	Args      map[string]any `yaml:"args"`
}

// Normalization holds the profile-level normalization rules.
type Normalization struct {
	NaNValues       []string                `yaml:"nan_values"`
	UnitsPolicy     string                  `yaml:"units_policy" validate:"omitempty,oneof=preserve normalize strip"`
	UnitMappings    map[string]UnitMapping  `yaml:"unit_mappings"`
	ColumnUnits     map[string]string       `yaml:"column_units"`
	NumericCoercion *bool                   `yaml:"numeric_coercion"`
}

// CoercionEnabled resolves the numeric_coercion default (true).
func (n *Normalization) CoercionEnabled() bool {
	if n.NumericCoercion == nil {
		return true
	}
	return *n.NumericCoercion
}

// UnitMapping maps a unit symbol onto a canonical unit and conversion
// factor.
type UnitMapping struct {
	Canonical string  `yaml:"canonical"`
	Factor    float64 `yaml:"factor"`
}

// CalculatedColumn adds a column computed from a restricted arithmetic
// expression over existing columns and literals.
type CalculatedColumn struct {
	Name       string `yaml:"name" validate:"required"`
	Expression string `yaml:"expression" validate:"required"`
	RoundTo    *int   `yaml:"round_to"`
}

// TypeCoercion casts one column to an explicit type.
type TypeCoercion struct {
	Column    string `yaml:"column" validate:"required"`
	ToType    string `yaml:"to_type" validate:"required,oneof=datetime date string float int bool"`
	Format    string `yaml:"format"`
	Strip     bool   `yaml:"strip"`
	Uppercase bool   `yaml:"uppercase"`
	Lowercase bool   `yaml:"lowercase"`
}

// RowFilter keeps rows matching a comparison.
type RowFilter struct {
	Column string   `yaml:"column" validate:"required"`
	Op     string   `yaml:"op" validate:"required,oneof=equals not_equals gt gte lt lte between in not_in is_null is_not_null contains startswith endswith"`
	Value  any      `yaml:"value"`
	Values []any    `yaml:"values"`
	Min    *float64 `yaml:"min"`
	Max    *float64 `yaml:"max"`
}

// Outputs declares how extracted tables combine into named outputs.
type Outputs struct {
	Defaults     []Output      `yaml:"defaults"`
	Optional     []Output      `yaml:"optional_outputs"`
	Aggregations []Aggregation `yaml:"aggregations"`
	Joins        []JoinOutput  `yaml:"joins"`
}

// Output combines one or more tables of a level into a named artifact.
type Output struct {
	ID         string   `yaml:"id" validate:"required"`
	FromLevel  string   `yaml:"from_level" validate:"required"`
	FromTables []string `yaml:"from_tables" validate:"min=1"`
	Format     string   `yaml:"format" validate:"omitempty,oneof=parquet csv xlsx"`
}

// Aggregation groups a source table and computes per-column functions.
type Aggregation struct {
	ID          string            `yaml:"id" validate:"required"`
	FromTable   string            `yaml:"from_table" validate:"required"`
	GroupBy     []string          `yaml:"group_by" validate:"min=1"`
	Functions   map[string]string `yaml:"aggregations" validate:"min=1"`
	OutputTable string            `yaml:"output_table"`
}

// JoinOutput joins two extracted tables into a named output.
type JoinOutput struct {
	ID         string   `yaml:"id" validate:"required"`
	LeftTable  string   `yaml:"left_table" validate:"required"`
	RightTable string   `yaml:"right_table" validate:"required"`
	On         []string `yaml:"on" validate:"min=1"`
	How        string   `yaml:"how" validate:"omitempty,oneof=left right inner outer"`
}

// SchemaRules are profile-level structural expectations.
type SchemaRules struct {
	RequiredColumns []string          `yaml:"required_columns"`
	ColumnTypes     map[string]string `yaml:"column_types"`
	UniqueColumns   []string          `yaml:"unique_columns"`
}

// RowRule validates each row against a restricted boolean expression.
type RowRule struct {
	Name       string `yaml:"name" validate:"required"`
	Expression string `yaml:"expression" validate:"required"`
	OnFail     string `yaml:"on_fail" validate:"omitempty,oneof=warn error"`
	Message    string `yaml:"message"`
}

// AggregateRule validates whole-table statistics.
type AggregateRule struct {
	Name    string   `yaml:"name" validate:"required"`
	Type    string   `yaml:"type" validate:"required,oneof=row_count unique_count null_ratio"`
	Column  string   `yaml:"column"`
	Min     *float64 `yaml:"min"`
	Max     *float64 `yaml:"max"`
	OnFail  string   `yaml:"on_fail" validate:"omitempty,oneof=warn error"`
	Message string   `yaml:"message"`
}

// Governance gates extraction with limits, access control, audit, and
// compliance settings.
type Governance struct {
	Access     *Access     `yaml:"access"`
	Audit      *Audit      `yaml:"audit"`
	Compliance *Compliance `yaml:"compliance"`
	Limits     *Limits     `yaml:"limits"`
}

// Access lists the roles allowed per action. An absent block means open
// read.
type Access struct {
	Read   []string `yaml:"read"`
	Modify []string `yaml:"modify"`
	Delete []string `yaml:"delete"`
}

// Audit controls structured audit events.
type Audit struct {
	LogAccess        bool `yaml:"log_access"`
	LogModifications bool `yaml:"log_modifications"`
	RetentionDays    int  `yaml:"retention_days"`
}

// Compliance carries data classification and PII handling.
type Compliance struct {
	DataClassification string   `yaml:"data_classification" validate:"omitempty,oneof=public internal confidential"`
	PIIColumns         []string `yaml:"pii_columns"`
	MaskInPreview      []string `yaml:"mask_in_preview"`
	MaskChar           string   `yaml:"mask_char"`
	PreserveLength     *bool    `yaml:"preserve_length"`
}

// Limits bound extraction resource usage. Zero values fall back to the
// documented defaults.
type Limits struct {
	MaxFilesPerRun        int `yaml:"max_files_per_run"`
	MaxFileSizeMB         int `yaml:"max_file_size_mb"`
	MaxTotalSizeGB        int `yaml:"max_total_size_gb"`
	MaxRowsOutput         int `yaml:"max_rows_output"`
	MaxTablesPerLevel     int `yaml:"max_tables_per_level"`
	MaxColumnsPerTable    int `yaml:"max_columns_per_table"`
	ParseTimeoutSeconds   int `yaml:"parse_timeout_seconds"`
	PreviewTimeoutSeconds int `yaml:"preview_timeout_seconds"`
}

// UIHints are presentation hints the engine carries but never interprets.
type UIHints struct {
	ShowFilePreview     bool     `yaml:"show_file_preview"`
	MaxPreviewFiles     int      `yaml:"max_preview_files"`
	EditableFields      []string `yaml:"editable_fields"`
	ReadonlyFields      []string `yaml:"readonly_fields"`
	DefaultNameTemplate string   `yaml:"default_name_template"`
	Formats             []string `yaml:"formats"`
}

// FileNaming configures output filename templating.
type FileNaming struct {
	Template        string `yaml:"template"`
	TimestampFormat string `yaml:"timestamp_format"`
	Sanitize        *bool  `yaml:"sanitize"`
}

// SanitizeEnabled resolves the sanitize default (true).
func (f *FileNaming) SanitizeEnabled() bool {
	if f.Sanitize == nil {
		return true
	}
	return *f.Sanitize
}

// GetLevel returns the named level, or nil.
func (p *Profile) GetLevel(name string) *Level {
	for i := range p.Levels {
		if p.Levels[i].Name == name {
			return &p.Levels[i]
		}
	}
	return nil
}

// GetTable returns the table declared under (level, id), or nil.
func (p *Profile) GetTable(levelName, tableID string) *Table {
	level := p.GetLevel(levelName)
	if level == nil {
		return nil
	}
	for i := range level.Tables {
		if level.Tables[i].ID == tableID {
			return &level.Tables[i]
		}
	}
	return nil
}

// LevelTable pairs a table with its enclosing level name.
type LevelTable struct {
	Level string
	Table *Table
}

// AllTables returns every table across all levels in declaration order.
func (p *Profile) AllTables() []LevelTable {
	var out []LevelTable
	for li := range p.Levels {
		for ti := range p.Levels[li].Tables {
			out = append(out, LevelTable{Level: p.Levels[li].Name, Table: &p.Levels[li].Tables[ti]})
		}
	}
	return out
}

// ContextFor returns the context configuration bound to a level, or nil.
func (p *Profile) ContextFor(levelName string) *ContextConfig {
	for i := range p.Contexts {
		if p.Contexts[i].Level == levelName {
			return &p.Contexts[i]
		}
	}
	return nil
}

// Governance limit defaults.
const (
	DefaultMaxFilesPerRun        = 1000
	DefaultMaxFileSizeMB         = 500
	DefaultMaxTotalSizeGB        = 10
	DefaultMaxTablesPerLevel     = 50
	DefaultParseTimeoutSeconds   = 3600
	DefaultPreviewTimeoutSeconds = 30
)

// Effective returns the limits with zero values replaced by defaults.
func (l *Limits) Effective() Limits {
	out := Limits{}
	if l != nil {
		out = *l
	}
	if out.MaxFilesPerRun <= 0 {
		out.MaxFilesPerRun = DefaultMaxFilesPerRun
	}
	if out.MaxFileSizeMB <= 0 {
		out.MaxFileSizeMB = DefaultMaxFileSizeMB
	}
	if out.MaxTotalSizeGB <= 0 {
		out.MaxTotalSizeGB = DefaultMaxTotalSizeGB
	}
	if out.MaxTablesPerLevel <= 0 {
		out.MaxTablesPerLevel = DefaultMaxTablesPerLevel
	}
	if out.ParseTimeoutSeconds <= 0 {
		out.ParseTimeoutSeconds = DefaultParseTimeoutSeconds
	}
	if out.PreviewTimeoutSeconds <= 0 {
		out.PreviewTimeoutSeconds = DefaultPreviewTimeoutSeconds
	}
	return out
}
