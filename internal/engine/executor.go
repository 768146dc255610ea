package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/expr-lang/expr"

	"github.com/chatforge/convoflow/pkg/convoflow/core"
	"github.com/chatforge/convoflow/pkg/convoflow/domain"
	"github.com/chatforge/convoflow/pkg/convoflow/models"
)

// maxSteps bounds one interpreter walk so cyclic graphs without suspend
// points terminate. Exceeding it is a graph-authoring bug, not a transient fault.
const maxSteps = 20

// ErrNoWorkflow signals that no active graph exists or no trigger matched, so
// the caller should route the turn to its default handler.
var ErrNoWorkflow = errors.New("no workflow applies to this conversation")

// Executor interprets a workflow graph against one user turn.
type Executor struct {
	definitions DefinitionRepo
	products    ProductRepo
	tags        TagRepo
	evaluator   Evaluator
	clock       core.Clock
}

func NewExecutor(definitions DefinitionRepo, products ProductRepo, tags TagRepo, evaluator Evaluator, clock core.Clock) *Executor {
	return &Executor{
		definitions: definitions,
		products:    products,
		tags:        tags,
		evaluator:   evaluator,
		clock:       clock,
	}
}

// Execute runs one user turn. With no existing state a run only starts when a
// trigger matches; otherwise ErrNoWorkflow is returned. With existing state
// the user text is treated as the reply to the checkpoint node.
func (e *Executor) Execute(ctx context.Context, ownerID string, phone string, userText string, isNewConversation bool, state *models.ExecutionState) (*models.ExecutionResult, error) {
	graph, err := e.loadGraph(ownerID)
	if err != nil {
		return nil, err
	}
	if graph == nil {
		return nil, ErrNoWorkflow
	}

	resuming := state != nil
	if state == nil {
		if !triggerMatches(graph, userText, isNewConversation) {
			return nil, ErrNoWorkflow
		}
		now := e.clock.Now()
		state = &models.ExecutionState{
			WorkflowID:    graph.ID,
			CurrentNodeID: graph.StartNodeID,
			Status:        models.StatusRunning,
			Variables:     map[string]any{},
			StartedAt:     now,
			UpdatedAt:     now,
		}
	}
	if state.Variables == nil {
		state.Variables = map[string]any{}
	}
	state.Variables[models.VarUserMessage] = userText

	return e.walk(ctx, graph, state, ownerID, phone, userText, resuming), nil
}

// ExecuteFromNode re-enters the graph at the state's current node without
// treating the turn as a reply. Used by the task engine when a workflow timer
// forces the checkpoint to a timeout node.
func (e *Executor) ExecuteFromNode(ctx context.Context, ownerID string, phone string, state *models.ExecutionState) (*models.ExecutionResult, error) {
	graph, err := e.loadGraph(ownerID)
	if err != nil {
		return nil, err
	}
	if graph == nil {
		return nil, ErrNoWorkflow
	}
	if state.Variables == nil {
		state.Variables = map[string]any{}
	}
	return e.walk(ctx, graph, state, ownerID, phone, "", false), nil
}

func (e *Executor) loadGraph(ownerID string) (*models.Graph, error) {
	def, err := e.definitions.FindActiveByOwner(ownerID)
	if err != nil {
		return nil, fmt.Errorf("load active workflow: %w", err)
	}
	if def == nil {
		return nil, nil
	}
	var graph models.Graph
	if err := json.Unmarshal([]byte(def.Definition), &graph); err != nil {
		return nil, fmt.Errorf("parse workflow definition %d: %w", def.ID, err)
	}
	if graph.ID == "" {
		graph.ID = fmt.Sprintf("%d", def.ID)
	}
	return &graph, nil
}

// walk is the interpreter loop: a single switch over the node tagged union.
func (e *Executor) walk(ctx context.Context, graph *models.Graph, state *models.ExecutionState, ownerID string, phone string, userText string, resuming bool) *models.ExecutionResult {
	res := &models.ExecutionResult{
		Status:          models.StatusRunning,
		Variables:       state.Variables,
		CollectedFields: map[string]string{},
	}

	for step := 0; ; step++ {
		if step >= maxSteps {
			slog.ErrorContext(ctx, "Workflow exceeded step budget", "workflow_id", state.WorkflowID, "node_id", state.CurrentNodeID, "steps", step)
			state.Status = models.StatusError
			res.Status = models.StatusError
			return res
		}

		node := graph.Node(state.CurrentNodeID)
		if node == nil {
			slog.ErrorContext(ctx, "Workflow node not found", "workflow_id", state.WorkflowID, "node_id", state.CurrentNodeID)
			state.Status = models.StatusError
			res.Status = models.StatusError
			return res
		}

		switch node.Type {
		case models.NodeStart:
			if !e.advance(ctx, graph, state, node.ID, "") {
				return e.complete(res, state)
			}

		case models.NodeMessage:
			res.Messages = append(res.Messages, renderTemplate(node.Data.Message, state.Variables))
			if !e.advance(ctx, graph, state, node.ID, "") {
				return e.complete(res, state)
			}

		case models.NodeOffer:
			e.applyOffer(ctx, ownerID, node, state, res)
			if !e.advance(ctx, graph, state, node.ID, "") {
				if node.Data.Offer != nil {
					res.FallbackHandler = node.Data.Offer.FollowupHandler
				}
				return e.complete(res, state)
			}

		case models.NodeCollectInfo:
			if resuming {
				resuming = false
				storeReply(node, state, userText, res)
				if !e.advance(ctx, graph, state, node.ID, "") {
					return e.complete(res, state)
				}
				continue
			}
			if node.Data.Prompt != "" {
				res.Messages = append(res.Messages, renderTemplate(node.Data.Prompt, state.Variables))
			}
			return e.suspend(res, state, node)

		case models.NodeCondition:
			outcome := e.evaluator.EvaluateCondition(ctx, node.Data.ConditionKind, node.Data.ConditionSpec, userText, state.Variables)
			label := conditionLabel(graph, node.ID, outcome)
			if !e.advance(ctx, graph, state, node.ID, label) {
				res.FallbackHandler = node.Data.FallbackHandler
				return e.complete(res, state)
			}

		case models.NodeIntentRouter:
			intentID := e.evaluator.EvaluateIntent(ctx, userText, node.Data.Intents, state.Variables)
			state.Variables["detected_intent"] = intentID
			if !e.advance(ctx, graph, state, node.ID, intentID) {
				res.FallbackHandler = "default"
				return e.complete(res, state)
			}

		case models.NodeWaitResponse:
			if resuming {
				resuming = false
				storeReply(node, state, userText, res)
				if !e.advance(ctx, graph, state, node.ID, "") {
					return e.complete(res, state)
				}
				continue
			}
			if node.Data.Message != "" {
				res.Messages = append(res.Messages, renderTemplate(node.Data.Message, state.Variables))
			}
			if node.Data.TimeoutSeconds > 0 {
				res.Timer = &models.TimerRequest{
					WorkflowID:    state.WorkflowID,
					NodeID:        node.ID,
					TimeoutNodeID: node.Data.TimeoutNodeID,
					Delay:         time.Duration(node.Data.TimeoutSeconds) * time.Second,
				}
			}
			return e.suspend(res, state, node)

		case models.NodeAssignTag:
			e.applyTag(ctx, node, phone, res)
			if !e.advance(ctx, graph, state, node.ID, "") {
				return e.complete(res, state)
			}

		case models.NodeHandoff:
			if node.Data.Message != "" {
				res.Messages = append(res.Messages, renderTemplate(node.Data.Message, state.Variables))
			}
			if node.Data.Target == "" || strings.EqualFold(node.Data.Target, "human") {
				res.Handoff = &models.HandoffRequest{Reason: node.Data.Reason}
				res.Status = models.StatusHandoff
				state.Status = models.StatusHandoff
				return res
			}
			res.FallbackHandler = node.Data.Target
			return e.complete(res, state)

		case models.NodeEnd:
			if node.Data.Message != "" {
				res.Messages = append(res.Messages, renderTemplate(node.Data.Message, state.Variables))
			}
			return e.complete(res, state)

		default:
			slog.WarnContext(ctx, "Unknown node type, advancing via default edge", "workflow_id", state.WorkflowID, "node_id", node.ID, "type", node.Type)
			if !e.advance(ctx, graph, state, node.ID, "") {
				res.Status = models.StatusError
				return res
			}
		}
	}
}

// advance moves the checkpoint along the resolved edge. Returns false when no
// edge leaves the node, meaning the walk has dead-ended.
func (e *Executor) advance(ctx context.Context, graph *models.Graph, state *models.ExecutionState, nodeID string, outcomeLabel string) bool {
	edge, resolution := resolveEdge(graph, nodeID, outcomeLabel)
	if edge == nil {
		return false
	}
	if resolution == resolutionLastResort {
		// behavior kept for compatibility with malformed graphs; the warning
		// lets operators find them
		slog.WarnContext(ctx, "Edge resolution fell back to last resort",
			"workflow_id", state.WorkflowID, "node_id", nodeID, "outcome", outcomeLabel, "target", edge.Target)
	}
	state.CurrentNodeID = edge.Target
	return true
}

type edgeResolution int

const (
	resolutionLabel edgeResolution = iota
	resolutionDefault
	resolutionLastResort
)

// resolveEdge picks an outgoing edge: (a) by outcome label, (b) unlabelled or
// default edges, (c) rule (b) when (a) found nothing, (d) the first edge in
// declaration order as a last resort.
func resolveEdge(graph *models.Graph, nodeID string, outcomeLabel string) (*models.Edge, edgeResolution) {
	edges := graph.EdgesFrom(nodeID)
	if len(edges) == 0 {
		return nil, resolutionLastResort
	}

	if outcomeLabel != "" {
		for i := range edges {
			if strings.EqualFold(edges[i].Outcome, outcomeLabel) {
				return &edges[i], resolutionLabel
			}
		}
	}
	for i := range edges {
		if edges[i].Outcome == "" || edges[i].IsDefault {
			return &edges[i], resolutionDefault
		}
	}
	return &edges[0], resolutionLastResort
}

// conditionLabel maps a boolean outcome onto the node's labelled edges. Edges
// labelled true/false win; otherwise the first labelled edge stands for true
// and the second for false.
func conditionLabel(graph *models.Graph, nodeID string, outcome bool) string {
	edges := graph.EdgesFrom(nodeID)
	want := "false"
	if outcome {
		want = "true"
	}
	for _, edge := range edges {
		if strings.EqualFold(edge.Outcome, want) {
			return edge.Outcome
		}
	}

	var labelled []string
	for _, edge := range edges {
		if edge.Outcome != "" && !edge.IsDefault {
			labelled = append(labelled, edge.Outcome)
		}
	}
	if outcome && len(labelled) > 0 {
		return labelled[0]
	}
	if !outcome && len(labelled) > 1 {
		return labelled[1]
	}
	return want
}

func (e *Executor) applyOffer(ctx context.Context, ownerID string, node *models.Node, state *models.ExecutionState, res *models.ExecutionResult) {
	spec := node.Data.Offer
	if spec == nil {
		slog.WarnContext(ctx, "OFFER node without selection rule", "workflow_id", state.WorkflowID, "node_id", node.ID)
		return
	}
	product, err := e.selectProduct(ctx, ownerID, spec)
	if err != nil {
		slog.ErrorContext(ctx, "Offer selection failed", "workflow_id", state.WorkflowID, "node_id", node.ID, "error", err)
		return
	}
	if product == nil {
		slog.WarnContext(ctx, "Offer selection matched no product", "workflow_id", state.WorkflowID, "node_id", node.ID)
		return
	}

	state.Variables[models.VarOfferedProductID] = product.ID
	state.Variables[models.VarOfferedProductName] = product.Name
	state.Variables[models.VarOfferedProductPrice] = product.Price
	res.ProductsOffered = append(res.ProductsOffered, product.ID)

	template := spec.Template
	if template == "" {
		template = "We have {{offered_product_name}} available for {{offered_product_price}}. Interested?"
	}
	res.Messages = append(res.Messages, renderTemplate(template, state.Variables))
}

func (e *Executor) selectProduct(ctx context.Context, ownerID string, spec *models.OfferSpec) (*domain.Product, error) {
	switch {
	case spec.ProductID != "":
		return e.products.FindByID(spec.ProductID)
	case spec.Predicate != "":
		return e.firstMatchingProduct(ctx, ownerID, spec.Predicate)
	case spec.Category != "":
		return e.products.FindByCategory(ownerID, spec.Category)
	}
	return nil, fmt.Errorf("offer spec selects nothing")
}

// firstMatchingProduct evaluates the predicate expression against each active
// catalog item and returns the first match.
func (e *Executor) firstMatchingProduct(ctx context.Context, ownerID string, predicate string) (*domain.Product, error) {
	prg, err := expr.Compile(predicate, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("offer predicate %q does not compile: %w", predicate, err)
	}
	products, err := e.products.FindAllActive(ownerID)
	if err != nil {
		return nil, err
	}
	for i := range products {
		p := products[i]
		env := map[string]any{
			"id":          p.ID,
			"name":        p.Name,
			"description": p.Description,
			"category":    p.Category,
			"price":       p.Price,
		}
		out, err := expr.Run(prg, env)
		if err != nil {
			slog.WarnContext(ctx, "Offer predicate failed for product", "product_id", p.ID, "error", err)
			continue
		}
		if matched, ok := out.(bool); ok && matched {
			return &p, nil
		}
	}
	return nil, nil
}

func (e *Executor) applyTag(ctx context.Context, node *models.Node, phone string, res *models.ExecutionResult) {
	if node.Data.Tag == "" {
		return
	}
	var err error
	if strings.EqualFold(node.Data.TagAction, "remove") {
		err = e.tags.RemoveTag(phone, node.Data.Tag)
	} else {
		err = e.tags.AddTag(phone, node.Data.Tag)
		res.TagsAssigned = append(res.TagsAssigned, node.Data.Tag)
	}
	if err != nil {
		// tag mutation is at-least-once; a failed write must not kill the turn
		slog.ErrorContext(ctx, "Tag mutation failed", "phone", phone, "tag", node.Data.Tag, "error", err)
	}
}

func storeReply(node *models.Node, state *models.ExecutionState, userText string, res *models.ExecutionResult) {
	name := node.Data.Variable
	if name == "" {
		name = node.ID
	}
	state.Variables[name] = userText
	res.CollectedFields[name] = userText
}

func (e *Executor) suspend(res *models.ExecutionResult, state *models.ExecutionState, node *models.Node) *models.ExecutionResult {
	state.CurrentNodeID = node.ID
	state.Status = models.StatusWaiting
	state.UpdatedAt = e.clock.Now()
	res.Status = models.StatusWaiting
	res.Checkpoint = state
	return res
}

func (e *Executor) complete(res *models.ExecutionResult, state *models.ExecutionState) *models.ExecutionResult {
	state.Status = models.StatusCompleted
	state.UpdatedAt = e.clock.Now()
	res.Status = models.StatusCompleted
	return res
}

// triggerMatches decides whether an idle conversation should start a run.
// A new conversation counts as a greeting; keyword triggers match substrings
// case-insensitively; always matches everything.
func triggerMatches(graph *models.Graph, userText string, isNewConversation bool) bool {
	for _, trigger := range graph.Triggers {
		switch trigger.Type {
		case models.TriggerAlways:
			return true
		case models.TriggerGreeting:
			if isNewConversation {
				return true
			}
		case models.TriggerKeyword:
			if containsAnyKeyword(userText, trigger.Conditions) {
				return true
			}
		}
	}
	return false
}

var templateVarPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// renderTemplate substitutes {{name}} placeholders from the variable map.
// Unknown placeholders are left intact so broken templates stay visible.
func renderTemplate(template string, variables map[string]any) string {
	return templateVarPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := templateVarPattern.FindStringSubmatch(match)[1]
		if value, ok := variables[name]; ok {
			return fmt.Sprintf("%v", value)
		}
		return match
	})
}
