package services

import (
	"fmt"
	"strings"
)

// AssigneeKind tells how a step's assignee is determined.
type AssigneeKind string

const (
	AssigneeNone  AssigneeKind = ""
	AssigneeUser  AssigneeKind = "user"
	AssigneeRole  AssigneeKind = "role"
	AssigneeField AssigneeKind = "field"
)

// AssigneeRule is a parsed assignee_rule.
//
//	user:<id>             fixed user, resolved at instantiation
//	role:<name>           left to the external assignment service
//	field:<step>.<field>  value of another step's field, resolved when the step becomes ready
type AssigneeRule struct {
	Kind     AssigneeKind
	Value    string
	StepKey  string
	FieldKey string
}

// ParseAssigneeRule parses the rule grammar. An empty rule means unassigned.
func ParseAssigneeRule(rule string) (AssigneeRule, error) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return AssigneeRule{}, nil
	}

	kind, value, found := strings.Cut(rule, ":")
	if !found || value == "" {
		return AssigneeRule{}, fmt.Errorf("%w: assignee rule %q must look like kind:value", ErrInvalidDefinition, rule)
	}

	switch AssigneeKind(kind) {
	case AssigneeUser, AssigneeRole:
		return AssigneeRule{Kind: AssigneeKind(kind), Value: value}, nil
	case AssigneeField:
		stepKey, fieldKey, found := strings.Cut(value, ".")
		if !found || stepKey == "" || fieldKey == "" {
			return AssigneeRule{}, fmt.Errorf("%w: field assignee rule %q must look like field:<step>.<field>", ErrInvalidDefinition, rule)
		}

		return AssigneeRule{Kind: AssigneeField, Value: value, StepKey: stepKey, FieldKey: fieldKey}, nil
	default:
		return AssigneeRule{}, fmt.Errorf("%w: unknown assignee kind %q", ErrInvalidDefinition, kind)
	}
}
