package io

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/slok/stepflow/internal/goal"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/tool/safety"
)

//go:embed schemas/*.json
var schemasFS embed.FS

const schemasBaseURL = "https://stepflow.local/schemas/"

// Schemas are the compiled document schemas.
type Schemas struct {
	task   *jsonschema.Schema
	goal   *jsonschema.Schema
	policy *jsonschema.Schema
}

// NewSchemas compiles the embedded document schemas.
func NewSchemas() (*Schemas, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	c.AssertFormat = true

	entries, err := fs.ReadDir(schemasFS, "schemas")
	if err != nil {
		return nil, fmt.Errorf("could not read schemas: %w", err)
	}
	for _, e := range entries {
		data, err := schemasFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("could not read schema %s: %w", e.Name(), err)
		}
		if err := c.AddResource(schemasBaseURL+e.Name(), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("could not add schema %s: %w", e.Name(), err)
		}
	}

	s := &Schemas{}
	for name, dst := range map[string]**jsonschema.Schema{"task.json": &s.task, "goal.json": &s.goal, "policy.json": &s.policy} {
		schema, err := c.Compile(schemasBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("could not compile schema %s: %w", name, err)
		}
		*dst = schema
	}

	return s, nil
}

// Submission is a loaded document, exactly one of Task or Goal is set.
type Submission struct {
	Task *model.Task
	Goal *model.Goal
}

// SubmissionRepository loads task and goal documents from YAML or JSON files.
type SubmissionRepository struct {
	fs      fs.FS
	schemas *Schemas
}

// NewSubmissionRepository creates a new submission repository.
func NewSubmissionRepository(filesystem fs.FS) (*SubmissionRepository, error) {
	schemas, err := NewSchemas()
	if err != nil {
		return nil, err
	}
	return &SubmissionRepository{fs: filesystem, schemas: schemas}, nil
}

// GetSubmission loads a submission document and returns a validated domain model.
func (r *SubmissionRepository) GetSubmission(ctx context.Context, path string) (*Submission, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading submission file: %w", err)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return r.schemas.ParseSubmission(data)
}

// ParseSubmission parses a YAML or JSON submission document. Documents with a
// `goalId` are goals, the rest are tasks.
func (s *Schemas) ParseSubmission(data []byte) (*Submission, error) {
	doc, err := decode(data)
	if err != nil {
		return nil, err
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("submission must be an object: %w", model.ErrNotValid)
	}

	if _, isGoal := obj["goalId"]; isGoal {
		g, err := s.parseGoal(doc)
		if err != nil {
			return nil, err
		}
		return &Submission{Goal: g}, nil
	}

	t, err := s.parseTask(doc)
	if err != nil {
		return nil, err
	}
	return &Submission{Task: t}, nil
}

// taskDocument is the document of an ad-hoc batch.
type taskDocument struct {
	ID        string            `json:"id"`
	Steps     []model.Step      `json:"steps"`
	Options   model.TaskOptions `json:"options"`
	Variables map[string]any    `json:"variables"`
}

func (s *Schemas) parseTask(doc any) (*model.Task, error) {
	if err := validate(s.task, doc); err != nil {
		return nil, err
	}

	var td taskDocument
	if err := remarshal(doc, &td); err != nil {
		return nil, err
	}
	if err := validateSteps(td.Steps); err != nil {
		return nil, err
	}
	if _, err := td.Options.TaskTimeout(); err != nil {
		return nil, err
	}

	return &model.Task{
		ID:        td.ID,
		Steps:     td.Steps,
		Options:   td.Options,
		Variables: td.Variables,
	}, nil
}

func (s *Schemas) parseGoal(doc any) (*model.Goal, error) {
	if err := validate(s.goal, doc); err != nil {
		return nil, err
	}

	var g model.Goal
	if err := remarshal(doc, &g); err != nil {
		return nil, err
	}
	if err := validateSteps(g.Plan); err != nil {
		return nil, err
	}
	for _, c := range g.SuccessCriteria {
		if err := goal.ValidateCriterion(c); err != nil {
			return nil, fmt.Errorf("invalid success criteria: %w", err)
		}
	}
	if _, err := g.Options.TaskTimeout(); err != nil {
		return nil, err
	}

	return &g, nil
}

// PolicyRepository loads safety policies from YAML or JSON files.
type PolicyRepository struct {
	fs      fs.FS
	schemas *Schemas
}

// NewPolicyRepository creates a new policy repository.
func NewPolicyRepository(filesystem fs.FS) (*PolicyRepository, error) {
	schemas, err := NewSchemas()
	if err != nil {
		return nil, err
	}
	return &PolicyRepository{fs: filesystem, schemas: schemas}, nil
}

// GetPolicy loads a safety policy.
func (r *PolicyRepository) GetPolicy(ctx context.Context, path string) (safety.Policy, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return safety.Policy{}, fmt.Errorf("reading policy file: %w", err)
	}

	if ctx.Err() != nil {
		return safety.Policy{}, ctx.Err()
	}

	doc, err := decode(data)
	if err != nil {
		return safety.Policy{}, err
	}
	if doc == nil {
		return safety.Policy{}, nil
	}
	if err := validate(r.schemas.policy, doc); err != nil {
		return safety.Policy{}, err
	}

	var p safety.Policy
	if err := remarshal(doc, &p); err != nil {
		return safety.Policy{}, err
	}
	return p, nil
}

// decode parses YAML (a superset of JSON) into JSON compatible values.
func decode(data []byte) (any, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %s: %w", err, model.ErrNotValid)
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("document is not JSON compatible: %s: %w", err, model.ErrNotValid)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("document is not JSON compatible: %w", err)
	}
	return doc, nil
}

func validate(schema *jsonschema.Schema, doc any) error {
	err := schema.Validate(doc)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		return fmt.Errorf("invalid document: %s: %w", flattenValidation(verr), model.ErrNotValid)
	}
	return fmt.Errorf("invalid document: %s: %w", err, model.ErrNotValid)
}

// flattenValidation returns the leaf causes of a validation error.
func flattenValidation(err *jsonschema.ValidationError) string {
	if len(err.Causes) == 0 {
		loc := err.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return fmt.Sprintf("%s: %s", loc, err.Message)
	}

	msgs := make([]string, 0, len(err.Causes))
	for _, c := range err.Causes {
		msgs = append(msgs, flattenValidation(c))
	}
	return strings.Join(msgs, "; ")
}

func remarshal(doc any, dst any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("could not encode document: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("could not decode document: %s: %w", err, model.ErrNotValid)
	}
	return nil
}

func validateSteps(steps []model.Step) error {
	for i, s := range steps {
		if _, err := s.StepTimeout(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}
