package model

import "fmt"

// FieldType enumerates the response types a task field can collect.
type FieldType string

const (
	FieldTypeText           FieldType = "TEXT"
	FieldTypeNumber         FieldType = "NUMBER"
	FieldTypeDate           FieldType = "DATE"
	FieldTypeTime           FieldType = "TIME"
	FieldTypeMultipleChoice FieldType = "MULTIPLE_CHOICE"
)

// Cardinality controls how many options a multiple-choice field accepts.
type Cardinality string

const (
	CardinalitySelectOne      Cardinality = "SELECT_ONE"
	CardinalitySelectMultiple Cardinality = "SELECT_MULTIPLE"
)

// Option is one selectable choice of a multiple-choice field.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Field defines one data point collected by a task.
type Field struct {
	ID          string      `json:"id"`
	Label       string      `json:"label"`
	Type        FieldType   `json:"type"`
	Required    bool        `json:"required,omitempty"`
	Cardinality Cardinality `json:"cardinality,omitempty"` // multiple-choice only
	Options     []Option    `json:"options,omitempty"`     // multiple-choice only
}

// Task is a form: an ordered set of fields collected for one submission.
type Task struct {
	ID     string  `json:"id"`
	Fields []Field `json:"fields"`
}

// FieldByID returns the field definition for the given id, if present.
func (t Task) FieldByID(id string) (Field, bool) {
	for _, f := range t.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// Job groups the locations of interest of one map layer and the tasks
// collected against them.
type Job struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Tasks []Task `json:"tasks,omitempty"`
}

// TaskByID returns the task definition for the given id, if present.
func (j Job) TaskByID(id string) (Task, bool) {
	for _, t := range j.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// Survey is the top-level container for jobs.
type Survey struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Jobs        []Job  `json:"jobs"`
}

// JobByID returns the job definition for the given id, if present.
func (s Survey) JobByID(id string) (Job, bool) {
	for _, j := range s.Jobs {
		if j.ID == id {
			return j, true
		}
	}
	return Job{}, false
}

// CheckResponse verifies that a response value agrees with the field's
// declared type and, for multiple-choice fields, its options and
// cardinality.
func (f Field) CheckResponse(r Response) error {
	switch f.Type {
	case FieldTypeText:
		if _, ok := r.(TextResponse); !ok {
			return fmt.Errorf("field %s wants text, got %T", f.ID, r)
		}
	case FieldTypeNumber:
		if _, ok := r.(NumberResponse); !ok {
			return fmt.Errorf("field %s wants number, got %T", f.ID, r)
		}
	case FieldTypeDate:
		if _, ok := r.(DateResponse); !ok {
			return fmt.Errorf("field %s wants date, got %T", f.ID, r)
		}
	case FieldTypeTime:
		if _, ok := r.(TimeResponse); !ok {
			return fmt.Errorf("field %s wants time, got %T", f.ID, r)
		}
	case FieldTypeMultipleChoice:
		mc, ok := r.(MultipleChoiceResponse)
		if !ok {
			return fmt.Errorf("field %s wants multiple choice, got %T", f.ID, r)
		}
		if f.Cardinality == CardinalitySelectOne && len(mc.SelectedOptionIDs) > 1 {
			return fmt.Errorf("field %s allows a single selection, got %d", f.ID, len(mc.SelectedOptionIDs))
		}
		for _, sel := range mc.SelectedOptionIDs {
			if !f.hasOption(sel) {
				return fmt.Errorf("field %s has no option %q", f.ID, sel)
			}
		}
	default:
		return fmt.Errorf("field %s has unknown type %q", f.ID, f.Type)
	}
	return r.Validate()
}

func (f Field) hasOption(id string) bool {
	for _, o := range f.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}
