package payg

import (
	"unicode"

	"github.com/subquery/indexer-query-gateway/internal/model"
)

// scale mirrors the upstream AI metering constant: each query-unit is
// SCALE input tokens (SCALE=1, so unit==token count).
const scale = 1

// TokenCounter estimates the number of input tokens in an AI query
// body. It is a narrow interface so a real subword tokenizer can be
// substituted later without touching any billing logic.
type TokenCounter interface {
	Count(body []byte) uint64
}

// HeuristicTokenCounter approximates token count by counting
// whitespace-delimited runs, the same order-of-magnitude estimate a
// real BPE tokenizer gives for natural-language text without requiring
// a model vocabulary.
type HeuristicTokenCounter struct{}

func (HeuristicTokenCounter) Count(body []byte) uint64 {
	var count uint64
	inRun := false
	for _, r := range string(body) {
		if unicode.IsSpace(r) {
			inRun = false
			continue
		}
		if !inRun {
			count++
			inRun = true
		}
	}
	return count
}

// unitsForTokens converts a raw token/message count into billable
// query units: SCALE tokens per unit, minimum 1 unit for any nonzero
// count.
func unitsForTokens(count uint64) uint64 {
	if count == 0 {
		return 0
	}
	if count > scale {
		return count / scale
	}
	return 1
}

// ComputeQueryUnits returns the billable unit count and the conflict-
// accounting overflow weight for one request body against deployment.
// Non-AI deployments always bill exactly 1 unit with overflow weight 1
// (spec's flat per-request metering); AI deployments count input
// tokens via counter.
func ComputeQueryUnits(kind model.DeploymentKind, body []byte, counter TokenCounter) (units uint64, overflow uint64) {
	if kind != model.KindAI {
		return 1, 1
	}
	if counter == nil {
		counter = HeuristicTokenCounter{}
	}
	tokens := counter.Count(body)
	units = unitsForTokens(tokens)
	if units == 0 {
		units = 1
	}
	return units, 1
}
