//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

package chain

import (
	"time"

	"github.com/google/uuid"
)

// NodeKind classifies a call node.
type NodeKind string

const (
	// NodeKindLLM is a model call.
	NodeKindLLM NodeKind = "llm"
	// NodeKindTool is a tool call.
	NodeKindTool NodeKind = "tool"
	// NodeKindSystem is an engine-internal node.
	NodeKindSystem NodeKind = "system"
)

// NodeState is the node lifecycle position. A node is created, moves to
// running, then reaches exactly one terminal state and never mutates
// again.
type NodeState string

const (
	// NodeStateCreated is the initial state.
	NodeStateCreated NodeState = "created"
	// NodeStateRunning means the callback is in flight.
	NodeStateRunning NodeState = "running"
	// NodeStateSuccess is terminal: the callback returned cleanly.
	NodeStateSuccess NodeState = "success"
	// NodeStateFail is terminal: the callback returned an error.
	NodeStateFail NodeState = "fail"
	// NodeStateHalt is terminal: admission rejected the call.
	NodeStateHalt NodeState = "halt"
)

// Node is one entry in the execution ledger.
type Node struct {
	// ID is the unique node identifier.
	ID string `json:"id"`
	// Kind is the call classification.
	Kind NodeKind `json:"kind"`
	// Name is the operation name.
	Name string `json:"name"`
	// ParentID links to the parent node; empty for roots.
	ParentID string `json:"parent_id,omitempty"`
	// State is the lifecycle position.
	State NodeState `json:"state"`
	// CostUSD is the committed cost of this node.
	CostUSD float64 `json:"cost_usd"`
	// TokensIn and TokensOut are the node's token counts.
	TokensIn  int64 `json:"tokens_in"`
	TokensOut int64 `json:"tokens_out"`
	// StopReason is set on halt and fail nodes.
	StopReason string `json:"stop_reason,omitempty"`
	// Retried marks nodes admitted as retries of their lineage.
	Retried bool `json:"retried,omitempty"`
	// Depth is the distance from a root node.
	Depth int `json:"depth"`
	// CreatedAt is when the node entered the ledger.
	CreatedAt time.Time `json:"created_at"`
	// EndedAt is when the node reached a terminal state.
	EndedAt time.Time `json:"ended_at,omitempty"`
}

func (n *Node) terminal() bool {
	switch n.State {
	case NodeStateSuccess, NodeStateFail, NodeStateHalt:
		return true
	}
	return false
}

// Graph is the append-only node ledger with incrementally maintained
// aggregates. It is chain-local and protected only by the owning
// context's lock; it deliberately carries no lock of its own.
type Graph struct {
	nodes  []*Node
	byID   map[string]*Node
	maxLen int

	// Incrementally derived aggregates.
	totalCost  float64
	llmCalls   int
	toolCalls  int
	retries    int
	rootCalls  int
	maxDepth   int
	truncated  bool
	rejections int
}

func newGraph(maxNodes int) *Graph {
	return &Graph{
		byID:   make(map[string]*Node),
		maxLen: maxNodes,
	}
}

// add appends a node, deriving its depth from the parent. Returns false
// when the ledger is at capacity; the entry is rejected and prior
// contents are retained (the truncated flag reports the cut).
func (g *Graph) add(n *Node) bool {
	if len(g.nodes) >= g.maxLen {
		g.truncated = true
		g.rejections++
		return false
	}
	if parent, ok := g.byID[n.ParentID]; ok && n.ParentID != "" {
		n.Depth = parent.Depth + 1
	} else {
		n.ParentID = ""
		g.rootCalls++
	}
	g.nodes = append(g.nodes, n)
	g.byID[n.ID] = n

	switch n.Kind {
	case NodeKindLLM:
		g.llmCalls++
	case NodeKindTool:
		g.toolCalls++
	}
	if n.Retried {
		g.retries++
	}
	if n.Depth > g.maxDepth {
		g.maxDepth = n.Depth
	}
	return true
}

// finish moves a node to a terminal state and folds its cost into the
// aggregates. Terminal nodes are immutable: a second call is a no-op.
func (g *Graph) finish(n *Node, state NodeState, stopReason string, costUSD float64, tokensIn, tokensOut int64, at time.Time) {
	if n.terminal() {
		return
	}
	n.State = state
	n.StopReason = stopReason
	n.CostUSD = costUSD
	n.TokensIn = tokensIn
	n.TokensOut = tokensOut
	n.EndedAt = at
	g.totalCost += costUSD
}

func newNode(kind NodeKind, name, parentID string, retried bool, at time.Time) *Node {
	return &Node{
		ID:        uuid.New().String(),
		Kind:      kind,
		Name:      name,
		ParentID:  parentID,
		State:     NodeStateCreated,
		Retried:   retried,
		CreatedAt: at,
	}
}

// GraphSnapshot is an immutable, serializable copy of the ledger.
// Mutating a snapshot never affects the live graph.
type GraphSnapshot struct {
	Nodes []Node `json:"nodes"`

	TotalCostUSD float64 `json:"total_cost_usd"`
	LLMCalls     int     `json:"llm_calls"`
	ToolCalls    int     `json:"tool_calls"`
	Retries      int     `json:"retries"`
	RootCalls    int     `json:"root_calls"`
	MaxDepth     int     `json:"max_depth"`

	// LLMCallsPerRoot and ToolCallsPerRoot are amplification ratios:
	// descendant calls per root call.
	LLMCallsPerRoot  float64 `json:"llm_calls_per_root"`
	ToolCallsPerRoot float64 `json:"tool_calls_per_root"`

	// Truncated reports that the ledger hit its cap and Rejections
	// entries were not recorded.
	Truncated  bool `json:"truncated,omitempty"`
	Rejections int  `json:"rejections,omitempty"`
}

// snapshot deep-copies the ledger. Caller holds the context lock.
func (g *Graph) snapshot() GraphSnapshot {
	s := GraphSnapshot{
		Nodes:        make([]Node, len(g.nodes)),
		TotalCostUSD: g.totalCost,
		LLMCalls:     g.llmCalls,
		ToolCalls:    g.toolCalls,
		Retries:      g.retries,
		RootCalls:    g.rootCalls,
		MaxDepth:     g.maxDepth,
		Truncated:    g.truncated,
		Rejections:   g.rejections,
	}
	for i, n := range g.nodes {
		s.Nodes[i] = *n
	}
	if g.rootCalls > 0 {
		s.LLMCallsPerRoot = float64(g.llmCalls) / float64(g.rootCalls)
		s.ToolCallsPerRoot = float64(g.toolCalls) / float64(g.rootCalls)
	}
	return s
}
