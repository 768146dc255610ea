package domain

import "time"

// WorkflowDefinition is a stored workflow graph. Definition is the graph JSON
// (nodes, edges, triggers, start node); at most one definition per owner
// should be active at a time.
type WorkflowDefinition struct {
	ID         int64
	OwnerID    string
	Name       string
	Active     bool
	Definition string
	Created    time.Time
	Updated    time.Time
}
