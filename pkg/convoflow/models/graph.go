package models

// NodeType tags a graph node. Nodes are a tagged union: one type plus a
// NodeData payload, dispatched in a single switch inside the executor.
type NodeType string

const (
	NodeStart        NodeType = "START"
	NodeMessage      NodeType = "MESSAGE"
	NodeOffer        NodeType = "OFFER"
	NodeCollectInfo  NodeType = "COLLECT_INFO"
	NodeCondition    NodeType = "CONDITION"
	NodeIntentRouter NodeType = "INTENT_ROUTER"
	NodeWaitResponse NodeType = "WAIT_RESPONSE"
	NodeAssignTag    NodeType = "ASSIGN_TAG"
	NodeHandoff      NodeType = "HANDOFF"
	NodeEnd          NodeType = "END"
)

// Graph is the immutable workflow definition loaded per execution.
type Graph struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	StartNodeID string    `json:"startNodeId"`
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	Triggers    []Trigger `json:"triggers,omitempty"`
}

// Node is one step of a workflow graph.
type Node struct {
	ID   string   `json:"id"`
	Type NodeType `json:"type"`
	Data NodeData `json:"data"`
}

// NodeData carries the type-specific payload. Only the fields relevant to the
// node's type are populated.
type NodeData struct {
	Message         string         `json:"message,omitempty"`         // MESSAGE body, END closing, HANDOFF farewell
	Prompt          string         `json:"prompt,omitempty"`          // COLLECT_INFO question
	Variable        string         `json:"variable,omitempty"`        // COLLECT_INFO / WAIT_RESPONSE storage key
	TimeoutSeconds  int            `json:"timeoutSeconds,omitempty"`  // WAIT_RESPONSE timer
	TimeoutNodeID   string         `json:"timeoutNodeId,omitempty"`   // WAIT_RESPONSE forced-resume target
	ConditionKind   string         `json:"conditionKind,omitempty"`   // CONDITION evaluator kind
	ConditionSpec   string         `json:"conditionSpec,omitempty"`   // CONDITION evaluator spec
	Intents         []IntentOption `json:"intents,omitempty"`         // INTENT_ROUTER catalog
	Offer           *OfferSpec     `json:"offer,omitempty"`           // OFFER selection rule
	Tag             string         `json:"tag,omitempty"`             // ASSIGN_TAG
	TagAction       string         `json:"tagAction,omitempty"`       // "add" (default) or "remove"
	Target          string         `json:"target,omitempty"`          // HANDOFF: "human" or a handler name
	Reason          string         `json:"reason,omitempty"`          // HANDOFF takeover reason
	FallbackHandler string         `json:"fallbackHandler,omitempty"` // CONDITION dead-end handler
}

// OfferSpec selects the item an OFFER node presents. Exactly one of ProductID,
// Predicate or Category is expected; Predicate is an expression evaluated
// against each catalog item.
type OfferSpec struct {
	ProductID       string `json:"productId,omitempty"`
	Predicate       string `json:"predicate,omitempty"`
	Category        string `json:"category,omitempty"`
	Template        string `json:"template,omitempty"`
	FollowupHandler string `json:"followupHandler,omitempty"`
}

// IntentOption is one entry of an INTENT_ROUTER catalog.
type IntentOption struct {
	ID          string   `json:"id"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Default     bool     `json:"default,omitempty"`
}

// Edge connects two nodes. Outcome labels the branch taken out of CONDITION
// and INTENT_ROUTER nodes.
type Edge struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Outcome   string `json:"outcome,omitempty"`
	IsDefault bool   `json:"isDefault,omitempty"`
}

type TriggerType string

const (
	TriggerGreeting TriggerType = "greeting"
	TriggerKeyword  TriggerType = "keyword"
	TriggerAlways   TriggerType = "always"
)

// Trigger decides whether an inbound message starts a new run on an idle
// conversation. Conditions holds keywords for the keyword type.
type Trigger struct {
	Type       TriggerType `json:"type"`
	Conditions []string    `json:"conditions,omitempty"`
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// EdgesFrom returns the edges leaving the given node in declaration order.
func (g *Graph) EdgesFrom(nodeID string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}
