package engine

import (
	"context"
	"fmt"

	gaoconfig "github.com/JaimeStill/go-agents-orchestration/pkg/config"
	"github.com/JaimeStill/go-agents-orchestration/pkg/state"
)

// State keys for the lane analysis graph.
const (
	keyCollection = "collection"
	keyPrompt     = "prompt"
	keyContext    = "context"
	keyAnalysis   = "analysis"
)

// runGraph executes a lane analysis as a two-node state graph: gather pulls
// the collection's reference documents, analyze sends the assembled prompt
// to the provider. The final state carries the produced analysis.
func (e *Engine) runGraph(ctx context.Context, collection, prompt string) (string, error) {
	graph, err := e.buildGraph()
	if err != nil {
		return "", fmt.Errorf("build graph: %w", err)
	}

	initial := state.New(nil)
	initial = initial.Set(keyCollection, collection)
	initial = initial.Set(keyPrompt, prompt)

	final, err := graph.Execute(ctx, initial)
	if err != nil {
		return "", err
	}

	val, ok := final.Get(keyAnalysis)
	if !ok {
		return "", fmt.Errorf("missing %s in final state", keyAnalysis)
	}

	analysis, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("%s is not string", keyAnalysis)
	}

	return analysis, nil
}

func (e *Engine) buildGraph() (state.StateGraph, error) {
	cfg := gaoconfig.DefaultGraphConfig("lane-analysis")
	cfg.Observer = "noop"

	graph, err := state.NewGraph(cfg)
	if err != nil {
		return nil, err
	}

	if err := graph.AddNode("gather", e.gatherNode()); err != nil {
		return nil, err
	}

	if err := graph.AddNode("analyze", e.analyzeNode()); err != nil {
		return nil, err
	}

	if err := graph.AddEdge("gather", "analyze", nil); err != nil {
		return nil, err
	}

	if err := graph.SetEntryPoint("gather"); err != nil {
		return nil, err
	}

	if err := graph.SetExitPoint("analyze"); err != nil {
		return nil, err
	}

	return graph, nil
}

func (e *Engine) gatherNode() state.StateNode {
	return state.NewFunctionNode(func(ctx context.Context, s state.State) (state.State, error) {
		collection, err := stringKey(s, keyCollection)
		if err != nil {
			return s, fmt.Errorf("gather: %w", err)
		}

		material, err := e.source.Context(ctx, collection)
		if err != nil {
			return s, fmt.Errorf("gather: %w", err)
		}

		s = s.Set(keyContext, material)
		return s, nil
	})
}

func (e *Engine) analyzeNode() state.StateNode {
	return state.NewFunctionNode(func(ctx context.Context, s state.State) (state.State, error) {
		prompt, err := stringKey(s, keyPrompt)
		if err != nil {
			return s, fmt.Errorf("analyze: %w", err)
		}

		material, err := stringKey(s, keyContext)
		if err != nil {
			return s, fmt.Errorf("analyze: %w", err)
		}

		full := fmt.Sprintf("Reference material:\n\n%s\n\n%s", material, prompt)

		analysis, err := e.provider.Generate(ctx, full)
		if err != nil {
			return s, fmt.Errorf("analyze: %w", err)
		}

		s = s.Set(keyAnalysis, analysis)
		return s, nil
	})
}

func stringKey(s state.State, key string) (string, error) {
	val, ok := s.Get(key)
	if !ok {
		return "", fmt.Errorf("missing %s in state", key)
	}

	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("%s is not string", key)
	}

	return str, nil
}
