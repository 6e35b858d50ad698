package dependency

import "github.com/dukex/worktemplate/pkg/models"

// FromTemplateSteps builds resolver nodes from a version's steps.
func FromTemplateSteps(steps []*models.WorkTemplateStep) []Node {
	nodes := make([]Node, 0, len(steps))
	for _, step := range steps {
		nodes = append(nodes, Node{Key: step.StepKey, Order: step.StepOrder, DependsOn: step.DependsOn})
	}

	return nodes
}

// FromInstanceSteps builds resolver nodes from an instance's steps.
func FromInstanceSteps(steps []*models.WorkInstanceStep) []Node {
	nodes := make([]Node, 0, len(steps))
	for _, step := range steps {
		nodes = append(nodes, Node{Key: step.StepKey, Order: step.StepOrder, DependsOn: step.DependsOn})
	}

	return nodes
}
