package migration

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	appErrors "dataguard/internal/errors"
	"dataguard/internal/store"
)

// Step is one unit of a migration. Down is never run automatically; a
// failed or regretted migration is undone by restoring its backup.
type Step interface {
	Name() string
	Up(ctx context.Context) error
	Down(ctx context.Context) error
}

// FuncStep adapts plain functions to Step.
type FuncStep struct {
	StepName string
	UpFunc   func(ctx context.Context) error
	DownFunc func(ctx context.Context) error
}

func (s FuncStep) Name() string { return s.StepName }

func (s FuncStep) Up(ctx context.Context) error {
	if s.UpFunc == nil {
		return nil
	}
	return s.UpFunc(ctx)
}

func (s FuncStep) Down(ctx context.Context) error {
	if s.DownFunc == nil {
		return fmt.Errorf("step %s has no down migration", s.StepName)
	}
	return s.DownFunc(ctx)
}

// SQLStep runs raw statements through a store that can execute them.
type SQLStep struct {
	def  StepDefinition
	exec store.Execer
}

// NewSQLStep binds a definition to exec.
func NewSQLStep(def StepDefinition, exec store.Execer) *SQLStep {
	return &SQLStep{def: def, exec: exec}
}

func (s *SQLStep) Name() string { return s.def.Name }

func (s *SQLStep) Up(ctx context.Context) error {
	return s.exec.ExecStatements(ctx, s.def.Up)
}

func (s *SQLStep) Down(ctx context.Context) error {
	if len(s.def.Down) == 0 {
		return fmt.Errorf("step %s has no down statements", s.def.Name)
	}
	return s.exec.ExecStatements(ctx, s.def.Down)
}

// StepDefinition is a SQL step as written in a migration file or request.
type StepDefinition struct {
	Name string   `yaml:"name" json:"name" validate:"required"`
	Up   []string `yaml:"up" json:"up" validate:"required,min=1,dive,required"`
	Down []string `yaml:"down,omitempty" json:"down,omitempty"`
}

// Validate checks that the step has a name and at least one statement.
func (d StepDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("step name cannot be empty")
	}
	if len(d.Up) == 0 {
		return fmt.Errorf("step %s has no up statements", d.Name)
	}
	for i, stmt := range d.Up {
		if strings.TrimSpace(stmt) == "" {
			return fmt.Errorf("step %s: up statement %d is empty", d.Name, i)
		}
	}
	return nil
}

// Destructive lists the up statements that drop or remove data.
func (d StepDefinition) Destructive() []string {
	var out []string
	for _, stmt := range d.Up {
		if ClassifyStatement(stmt).IsDestructive() {
			out = append(out, stmt)
		}
	}
	return out
}

// File is a migration file. Files may also be a bare list of steps.
type File struct {
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []StepDefinition `yaml:"steps" json:"steps"`
}

// Validate checks every step and rejects duplicate names.
func (f *File) Validate() error {
	if len(f.Steps) == 0 {
		return fmt.Errorf("migration has no steps")
	}
	seen := make(map[string]bool, len(f.Steps))
	for i, s := range f.Steps {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("invalid step at index %d: %w", i, err)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate step name %s", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// Destructive lists the destructive statements of every step.
func (f *File) Destructive() []string {
	var out []string
	for _, s := range f.Steps {
		out = append(out, s.Destructive()...)
	}
	return out
}

// Bind turns the definitions into executable steps.
func (f *File) Bind(exec store.Execer) []Step {
	steps := make([]Step, len(f.Steps))
	for i, def := range f.Steps {
		steps[i] = NewSQLStep(def, exec)
	}
	return steps
}

// ParseFile decodes and validates a YAML migration document.
func ParseFile(data []byte) (*File, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, appErrors.NewValidationError("migration file is not valid YAML", err)
	}

	f := &File{}
	if len(root.Content) > 0 && root.Content[0].Kind == yaml.SequenceNode {
		if err := root.Content[0].Decode(&f.Steps); err != nil {
			return nil, appErrors.NewValidationError("failed to decode migration steps", err)
		}
	} else if err := root.Decode(f); err != nil {
		return nil, appErrors.NewValidationError("failed to decode migration file", err)
	}

	if err := f.Validate(); err != nil {
		return nil, appErrors.NewValidationError("invalid migration file", err)
	}
	return f, nil
}

// LoadFile reads and parses a migration file from disk.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, appErrors.NewValidationError(fmt.Sprintf("failed to read migration file %s", path), err)
	}
	return ParseFile(data)
}

// LoadSteps reads a migration file and binds its steps to exec.
func LoadSteps(path string, exec store.Execer) ([]Step, error) {
	f, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return f.Bind(exec), nil
}

// StatementType is the coarse kind of a SQL statement.
type StatementType string

const (
	StatementTypeCreateTable StatementType = "CREATE_TABLE"
	StatementTypeDropTable   StatementType = "DROP_TABLE"
	StatementTypeAlterTable  StatementType = "ALTER_TABLE"
	StatementTypeDropColumn  StatementType = "DROP_COLUMN"
	StatementTypeCreateIndex StatementType = "CREATE_INDEX"
	StatementTypeDropIndex   StatementType = "DROP_INDEX"
	StatementTypeTruncate    StatementType = "TRUNCATE"
	StatementTypeDelete      StatementType = "DELETE"
	StatementTypeData        StatementType = "DATA"
	StatementTypeOther       StatementType = "OTHER"
)

// IsDestructive returns true if the statement type can lose data
func (st StatementType) IsDestructive() bool {
	switch st {
	case StatementTypeDropTable, StatementTypeDropColumn, StatementTypeDropIndex,
		StatementTypeTruncate, StatementTypeDelete:
		return true
	}
	return false
}

// ClassifyStatement inspects the leading keywords of stmt.
func ClassifyStatement(stmt string) StatementType {
	fields := strings.Fields(strings.ToUpper(stmt))
	if len(fields) == 0 {
		return StatementTypeOther
	}
	second := ""
	if len(fields) > 1 {
		second = fields[1]
	}

	switch fields[0] {
	case "CREATE":
		switch second {
		case "TABLE":
			return StatementTypeCreateTable
		case "INDEX", "UNIQUE":
			return StatementTypeCreateIndex
		}
	case "DROP":
		switch second {
		case "TABLE":
			return StatementTypeDropTable
		case "INDEX":
			return StatementTypeDropIndex
		}
	case "ALTER":
		if second == "TABLE" {
			for i := 2; i < len(fields)-1; i++ {
				if fields[i] == "DROP" && fields[i+1] != "CONSTRAINT" && fields[i+1] != "DEFAULT" && fields[i+1] != "INDEX" {
					return StatementTypeDropColumn
				}
			}
			return StatementTypeAlterTable
		}
	case "TRUNCATE":
		return StatementTypeTruncate
	case "DELETE":
		return StatementTypeDelete
	case "INSERT", "UPDATE", "REPLACE":
		return StatementTypeData
	}
	return StatementTypeOther
}
