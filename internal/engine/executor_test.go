package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/chatforge/convoflow/pkg/convoflow/domain"
	"github.com/chatforge/convoflow/pkg/convoflow/models"
)

func definitionRepoFor(t *testing.T, graph *models.Graph) *MockDefinitionRepo {
	t.Helper()
	raw, err := json.Marshal(graph)
	if err != nil {
		t.Fatalf("marshal graph: %v", err)
	}
	return &MockDefinitionRepo{
		FindActiveByOwnerFunc: func(ownerID string) (*domain.WorkflowDefinition, error) {
			return &domain.WorkflowDefinition{ID: 1, OwnerID: ownerID, Name: graph.Name, Active: true, Definition: string(raw)}, nil
		},
	}
}

func newTestExecutor(defs DefinitionRepo, products ProductRepo, tags TagRepo) *Executor {
	clock := NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewExecutor(defs, products, tags, NewRuleEvaluator(nil), clock)
}

func salesGraph() *models.Graph {
	return &models.Graph{
		ID:          "wf-sales",
		Name:        "sales",
		StartNodeID: "start",
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeStart},
			{ID: "greet", Type: models.NodeMessage, Data: models.NodeData{Message: "Welcome!"}},
			{ID: "ask", Type: models.NodeWaitResponse, Data: models.NodeData{Message: "Interested in our deals?", TimeoutSeconds: 3600}},
			{ID: "decide", Type: models.NodeCondition, Data: models.NodeData{ConditionKind: ConditionAffirmative}},
			{ID: "offer", Type: models.NodeOffer, Data: models.NodeData{Offer: &models.OfferSpec{ProductID: "p1", Template: "Try {{offered_product_name}} for {{offered_product_price}}!"}}},
			{ID: "end", Type: models.NodeEnd, Data: models.NodeData{Message: "Bye!"}},
		},
		Edges: []models.Edge{
			{Source: "start", Target: "greet"},
			{Source: "greet", Target: "ask"},
			{Source: "ask", Target: "decide"},
			{Source: "decide", Target: "offer", Outcome: "true"},
			{Source: "decide", Target: "end", Outcome: "false"},
			{Source: "offer", Target: "end"},
		},
		Triggers: []models.Trigger{{Type: models.TriggerGreeting}},
	}
}

func widgetProducts() *MockProductRepo {
	return &MockProductRepo{
		FindByIDFunc: func(id string) (*domain.Product, error) {
			if id == "p1" {
				return &domain.Product{ID: "p1", OwnerID: "acme", Name: "Widget", Price: 9.99, Active: true}, nil
			}
			return nil, nil
		},
	}
}

func TestExecuteStartsOnGreetingTriggerAndSuspends(t *testing.T) {
	ex := newTestExecutor(definitionRepoFor(t, salesGraph()), widgetProducts(), &MockTagRepo{})

	res, err := ex.Execute(context.Background(), "acme", "555", "hi", true, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != models.StatusWaiting {
		t.Fatalf("expected waiting, got %s", res.Status)
	}
	if len(res.Messages) != 2 || res.Messages[0] != "Welcome!" || res.Messages[1] != "Interested in our deals?" {
		t.Fatalf("unexpected messages: %v", res.Messages)
	}
	if res.Checkpoint == nil || res.Checkpoint.CurrentNodeID != "ask" {
		t.Fatalf("expected checkpoint at ask, got %+v", res.Checkpoint)
	}
	if res.Timer == nil || res.Timer.NodeID != "ask" || res.Timer.Delay != time.Hour {
		t.Fatalf("expected one hour timer at ask, got %+v", res.Timer)
	}
}

func TestExecuteNoTriggerMatchReturnsErrNoWorkflow(t *testing.T) {
	ex := newTestExecutor(definitionRepoFor(t, salesGraph()), widgetProducts(), &MockTagRepo{})

	_, err := ex.Execute(context.Background(), "acme", "555", "what are your hours", false, nil)
	if !errors.Is(err, ErrNoWorkflow) {
		t.Fatalf("expected ErrNoWorkflow, got %v", err)
	}
}

func TestExecuteKeywordTriggerMatchesSubstring(t *testing.T) {
	graph := salesGraph()
	graph.Triggers = []models.Trigger{{Type: models.TriggerKeyword, Conditions: []string{"deal", "promo"}}}
	ex := newTestExecutor(definitionRepoFor(t, graph), widgetProducts(), &MockTagRepo{})

	res, err := ex.Execute(context.Background(), "acme", "555", "any DEALS today?", false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != models.StatusWaiting {
		t.Fatalf("expected waiting, got %s", res.Status)
	}
}

func TestResumeAffirmativeRunsOfferBranch(t *testing.T) {
	ex := newTestExecutor(definitionRepoFor(t, salesGraph()), widgetProducts(), &MockTagRepo{})
	ctx := context.Background()

	first, err := ex.Execute(ctx, "acme", "555", "hi", true, nil)
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}

	res, err := ex.Execute(ctx, "acme", "555", "yes please", false, first.Checkpoint)
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if res.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	if len(res.Messages) != 2 || res.Messages[0] != "Try Widget for 9.99!" || res.Messages[1] != "Bye!" {
		t.Fatalf("unexpected messages: %v", res.Messages)
	}
	if len(res.ProductsOffered) != 1 || res.ProductsOffered[0] != "p1" {
		t.Fatalf("expected offered p1, got %v", res.ProductsOffered)
	}
	if res.Checkpoint != nil {
		t.Fatalf("completed run must not leave a checkpoint")
	}
}

func TestResumeSameCheckpointTwiceGivesSameResult(t *testing.T) {
	ex := newTestExecutor(definitionRepoFor(t, salesGraph()), widgetProducts(), &MockTagRepo{})
	ctx := context.Background()

	first, err := ex.Execute(ctx, "acme", "555", "hi", true, nil)
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}

	// Two independent loads of the same durable checkpoint, as two engine
	// nodes racing on the same reply would see it.
	raw, err := json.Marshal(first.Checkpoint)
	if err != nil {
		t.Fatalf("marshal checkpoint: %v", err)
	}
	var copyA, copyB models.ExecutionState
	if err := json.Unmarshal(raw, &copyA); err != nil {
		t.Fatalf("unmarshal checkpoint: %v", err)
	}
	if err := json.Unmarshal(raw, &copyB); err != nil {
		t.Fatalf("unmarshal checkpoint: %v", err)
	}

	resA, err := ex.Execute(ctx, "acme", "555", "yes please", false, &copyA)
	if err != nil {
		t.Fatalf("first resume: %v", err)
	}
	resB, err := ex.Execute(ctx, "acme", "555", "yes please", false, &copyB)
	if err != nil {
		t.Fatalf("second resume: %v", err)
	}

	if resA.Status != resB.Status || resA.Status != models.StatusCompleted {
		t.Fatalf("statuses diverged: %s vs %s", resA.Status, resB.Status)
	}
	jsonA, _ := json.Marshal(resA.Messages)
	jsonB, _ := json.Marshal(resB.Messages)
	if string(jsonA) != string(jsonB) {
		t.Fatalf("messages diverged: %s vs %s", jsonA, jsonB)
	}
	jsonA, _ = json.Marshal(resA.ProductsOffered)
	jsonB, _ = json.Marshal(resB.ProductsOffered)
	if string(jsonA) != string(jsonB) {
		t.Fatalf("offers diverged: %s vs %s", jsonA, jsonB)
	}
	jsonA, _ = json.Marshal(resA.Variables)
	jsonB, _ = json.Marshal(resB.Variables)
	if string(jsonA) != string(jsonB) {
		t.Fatalf("variables diverged: %s vs %s", jsonA, jsonB)
	}
	if resA.Checkpoint != nil || resB.Checkpoint != nil {
		t.Fatal("a completed resume must not leave a checkpoint")
	}
}

func TestResumeNegativeSkipsOffer(t *testing.T) {
	ex := newTestExecutor(definitionRepoFor(t, salesGraph()), widgetProducts(), &MockTagRepo{})
	ctx := context.Background()

	first, err := ex.Execute(ctx, "acme", "555", "hi", true, nil)
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}

	res, err := ex.Execute(ctx, "acme", "555", "no thanks", false, first.Checkpoint)
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if res.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	if len(res.Messages) != 1 || res.Messages[0] != "Bye!" {
		t.Fatalf("unexpected messages: %v", res.Messages)
	}
	if len(res.ProductsOffered) != 0 {
		t.Fatalf("offer must not fire on the negative branch")
	}
}

func TestCollectInfoPromptsAndStoresReply(t *testing.T) {
	graph := &models.Graph{
		ID:          "wf-intake",
		StartNodeID: "start",
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeStart},
			{ID: "name", Type: models.NodeCollectInfo, Data: models.NodeData{Prompt: "What is your name?", Variable: "customer_name"}},
			{ID: "hello", Type: models.NodeMessage, Data: models.NodeData{Message: "Hello {{customer_name}}!"}},
			{ID: "end", Type: models.NodeEnd},
		},
		Edges: []models.Edge{
			{Source: "start", Target: "name"},
			{Source: "name", Target: "hello"},
			{Source: "hello", Target: "end"},
		},
		Triggers: []models.Trigger{{Type: models.TriggerAlways}},
	}
	ex := newTestExecutor(definitionRepoFor(t, graph), &MockProductRepo{}, &MockTagRepo{})
	ctx := context.Background()

	first, err := ex.Execute(ctx, "acme", "555", "hola", false, nil)
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if first.Status != models.StatusWaiting || first.Messages[0] != "What is your name?" {
		t.Fatalf("expected prompt and suspend, got %+v", first)
	}

	res, err := ex.Execute(ctx, "acme", "555", "Maria", false, first.Checkpoint)
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if res.CollectedFields["customer_name"] != "Maria" {
		t.Fatalf("expected collected customer_name, got %v", res.CollectedFields)
	}
	if len(res.Messages) != 1 || res.Messages[0] != "Hello Maria!" {
		t.Fatalf("unexpected messages: %v", res.Messages)
	}
}

func TestIntentRouterRoutesByKeyword(t *testing.T) {
	graph := &models.Graph{
		ID:          "wf-router",
		StartNodeID: "start",
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeStart},
			{ID: "route", Type: models.NodeIntentRouter, Data: models.NodeData{Intents: []models.IntentOption{
				{ID: "buy", Keywords: []string{"buy", "price"}},
				{ID: "support", Keywords: []string{"broken", "help"}, Default: true},
			}}},
			{ID: "sales_end", Type: models.NodeEnd, Data: models.NodeData{Message: "Sales here"}},
			{ID: "support_end", Type: models.NodeEnd, Data: models.NodeData{Message: "Support here"}},
		},
		Edges: []models.Edge{
			{Source: "start", Target: "route"},
			{Source: "route", Target: "sales_end", Outcome: "buy"},
			{Source: "route", Target: "support_end", Outcome: "support"},
		},
		Triggers: []models.Trigger{{Type: models.TriggerAlways}},
	}
	ex := newTestExecutor(definitionRepoFor(t, graph), &MockProductRepo{}, &MockTagRepo{})

	res, err := ex.Execute(context.Background(), "acme", "555", "what is the price?", false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Messages) != 1 || res.Messages[0] != "Sales here" {
		t.Fatalf("expected the buy branch, got %v", res.Messages)
	}
	if res.Variables["detected_intent"] != "buy" {
		t.Fatalf("expected detected_intent=buy, got %v", res.Variables["detected_intent"])
	}
}

func TestHandoffStopsRunWithReason(t *testing.T) {
	graph := &models.Graph{
		ID:          "wf-handoff",
		StartNodeID: "start",
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeStart},
			{ID: "human", Type: models.NodeHandoff, Data: models.NodeData{Message: "Connecting you now", Target: "human", Reason: "complex request"}},
		},
		Edges:    []models.Edge{{Source: "start", Target: "human"}},
		Triggers: []models.Trigger{{Type: models.TriggerAlways}},
	}
	ex := newTestExecutor(definitionRepoFor(t, graph), &MockProductRepo{}, &MockTagRepo{})

	res, err := ex.Execute(context.Background(), "acme", "555", "agent please", false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != models.StatusHandoff {
		t.Fatalf("expected handoff, got %s", res.Status)
	}
	if res.Handoff == nil || res.Handoff.Reason != "complex request" {
		t.Fatalf("expected handoff reason, got %+v", res.Handoff)
	}
	if res.Messages[0] != "Connecting you now" {
		t.Fatalf("unexpected messages: %v", res.Messages)
	}
}

func TestAssignTagAddsAndRemoves(t *testing.T) {
	var added, removed []string
	tags := &MockTagRepo{
		AddTagFunc:    func(phone string, tag string) error { added = append(added, tag); return nil },
		RemoveTagFunc: func(phone string, tag string) error { removed = append(removed, tag); return nil },
	}
	graph := &models.Graph{
		ID:          "wf-tags",
		StartNodeID: "start",
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeStart},
			{ID: "mark", Type: models.NodeAssignTag, Data: models.NodeData{Tag: "hot-lead"}},
			{ID: "unmark", Type: models.NodeAssignTag, Data: models.NodeData{Tag: "cold", TagAction: "remove"}},
			{ID: "end", Type: models.NodeEnd},
		},
		Edges: []models.Edge{
			{Source: "start", Target: "mark"},
			{Source: "mark", Target: "unmark"},
			{Source: "unmark", Target: "end"},
		},
		Triggers: []models.Trigger{{Type: models.TriggerAlways}},
	}
	ex := newTestExecutor(definitionRepoFor(t, graph), &MockProductRepo{}, tags)

	res, err := ex.Execute(context.Background(), "acme", "555", "hi", false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(added) != 1 || added[0] != "hot-lead" {
		t.Fatalf("expected hot-lead added, got %v", added)
	}
	if len(removed) != 1 || removed[0] != "cold" {
		t.Fatalf("expected cold removed, got %v", removed)
	}
	if len(res.TagsAssigned) != 1 || res.TagsAssigned[0] != "hot-lead" {
		t.Fatalf("removals must not count as assigned, got %v", res.TagsAssigned)
	}
}

func TestCyclicGraphHitsStepBudget(t *testing.T) {
	graph := &models.Graph{
		ID:          "wf-loop",
		StartNodeID: "a",
		Nodes: []models.Node{
			{ID: "a", Type: models.NodeMessage, Data: models.NodeData{Message: "ping"}},
			{ID: "b", Type: models.NodeMessage, Data: models.NodeData{Message: "pong"}},
		},
		Edges: []models.Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a"},
		},
		Triggers: []models.Trigger{{Type: models.TriggerAlways}},
	}
	ex := newTestExecutor(definitionRepoFor(t, graph), &MockProductRepo{}, &MockTagRepo{})

	res, err := ex.Execute(context.Background(), "acme", "555", "go", false, nil)
	if err != nil {
		t.Fatalf("a cyclic graph must terminate with a result, got error %v", err)
	}
	if res.Status != models.StatusError {
		t.Fatalf("expected error status, got %s", res.Status)
	}
	if len(res.Messages) != maxSteps {
		t.Fatalf("expected exactly %d messages before the cap, got %d", maxSteps, len(res.Messages))
	}
}

func TestEdgeResolutionFallsBackToFirstEdge(t *testing.T) {
	// only a "true" edge exists, so a false outcome has nowhere labelled to go
	graph := &models.Graph{
		ID:          "wf-malformed",
		StartNodeID: "start",
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeStart},
			{ID: "decide", Type: models.NodeCondition, Data: models.NodeData{ConditionKind: ConditionAffirmative}},
			{ID: "end", Type: models.NodeEnd, Data: models.NodeData{Message: "done"}},
		},
		Edges: []models.Edge{
			{Source: "start", Target: "decide"},
			{Source: "decide", Target: "end", Outcome: "true"},
		},
		Triggers: []models.Trigger{{Type: models.TriggerAlways}},
	}
	ex := newTestExecutor(definitionRepoFor(t, graph), &MockProductRepo{}, &MockTagRepo{})

	res, err := ex.Execute(context.Background(), "acme", "555", "nope", false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != models.StatusCompleted || len(res.Messages) != 1 || res.Messages[0] != "done" {
		t.Fatalf("expected fallback to the only edge, got %+v", res)
	}
}

func TestConditionDeadEndReportsFallbackHandler(t *testing.T) {
	graph := &models.Graph{
		ID:          "wf-deadend",
		StartNodeID: "start",
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeStart},
			{ID: "decide", Type: models.NodeCondition, Data: models.NodeData{ConditionKind: ConditionAffirmative, FallbackHandler: "faq"}},
		},
		Edges:    []models.Edge{{Source: "start", Target: "decide"}},
		Triggers: []models.Trigger{{Type: models.TriggerAlways}},
	}
	ex := newTestExecutor(definitionRepoFor(t, graph), &MockProductRepo{}, &MockTagRepo{})

	res, err := ex.Execute(context.Background(), "acme", "555", "yes", false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != models.StatusCompleted || res.FallbackHandler != "faq" {
		t.Fatalf("expected completion with fallback handler, got %+v", res)
	}
}

func TestOfferByPredicatePicksFirstMatch(t *testing.T) {
	products := &MockProductRepo{
		FindAllActiveFunc: func(ownerID string) ([]domain.Product, error) {
			return []domain.Product{
				{ID: "p1", Name: "Basic", Category: "plans", Price: 5},
				{ID: "p2", Name: "Pro", Category: "plans", Price: 20},
			}, nil
		},
	}
	graph := &models.Graph{
		ID:          "wf-predicate",
		StartNodeID: "start",
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeStart},
			{ID: "offer", Type: models.NodeOffer, Data: models.NodeData{Offer: &models.OfferSpec{Predicate: `price > 10 && category == "plans"`}}},
			{ID: "end", Type: models.NodeEnd},
		},
		Edges: []models.Edge{
			{Source: "start", Target: "offer"},
			{Source: "offer", Target: "end"},
		},
		Triggers: []models.Trigger{{Type: models.TriggerAlways}},
	}
	ex := newTestExecutor(definitionRepoFor(t, graph), products, &MockTagRepo{})

	res, err := ex.Execute(context.Background(), "acme", "555", "hi", false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.ProductsOffered) != 1 || res.ProductsOffered[0] != "p2" {
		t.Fatalf("expected p2 offered, got %v", res.ProductsOffered)
	}
	if res.Variables[models.VarOfferedProductName] != "Pro" {
		t.Fatalf("expected offered_product_name=Pro, got %v", res.Variables[models.VarOfferedProductName])
	}
}

func TestExecuteFromNodeDoesNotConsumeText(t *testing.T) {
	graph := salesGraph()
	ex := newTestExecutor(definitionRepoFor(t, graph), widgetProducts(), &MockTagRepo{})
	ctx := context.Background()

	first, err := ex.Execute(ctx, "acme", "555", "hi", true, nil)
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}

	// force the checkpoint onto the decide node, as the timer path does
	state := first.Checkpoint
	state.CurrentNodeID = "decide"
	state.Status = models.StatusRunning

	res, err := ex.ExecuteFromNode(ctx, "acme", "555", state)
	if err != nil {
		t.Fatalf("forced resume: %v", err)
	}
	// empty text is not affirmative, so the false branch ends the run
	if res.Status != models.StatusCompleted || len(res.Messages) != 1 || res.Messages[0] != "Bye!" {
		t.Fatalf("expected the false branch, got %+v", res)
	}
}
