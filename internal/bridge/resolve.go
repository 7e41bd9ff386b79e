package bridge

import (
	"context"
	"log/slog"

	"github.com/ashita-ai/cstpd/internal/model"
)

// Mode selects which extraction strategy Resolve uses.
type Mode string

const (
	ModeRule Mode = "rule"
	ModeLLM  Mode = "llm"
	ModeBoth Mode = "both"
)

// Extractor generates a bridge via an external (typically LLM) service.
type Extractor interface {
	Extract(ctx context.Context, a Abstractable) (*model.Bridge, error)
}

// Resolver derives bridges for decisions that don't already carry one,
// per the configured mode, with rule-based as the one failure mode that
// never errors.
type Resolver struct {
	mode      Mode
	extractor Extractor
	logger    *slog.Logger
}

// NewResolver builds a Resolver. extractor may be nil (e.g. no Gemini API
// key configured); Resolve then behaves as if mode were "rule" regardless
// of the configured setting.
func NewResolver(mode Mode, extractor Extractor, logger *slog.Logger) *Resolver {
	switch mode {
	case ModeRule, ModeLLM, ModeBoth:
	default:
		mode = ModeRule
	}
	return &Resolver{mode: mode, extractor: extractor, logger: logger}
}

// Resolve derives a bridge for a, trying the configured strategy and
// falling back to rule-based (then none) on LLM failure or absence, per
// the original system's degraded-mode guarantee. Never returns an error —
// bridge extraction is always best-effort.
func (r *Resolver) Resolve(ctx context.Context, a Abstractable) *model.Bridge {
	switch r.mode {
	case ModeLLM:
		if b := r.tryLLM(ctx, a); b != nil {
			return b
		}
		return RuleBased(a)
	case ModeBoth:
		llmResult := r.tryLLM(ctx, a)
		ruleResult := RuleBased(a)
		if llmResult != nil {
			if ruleResult != nil {
				r.logger.Debug("bridge comparison", "llm_structure", llmResult.Structure, "rule_structure", ruleResult.Structure)
			}
			llmResult.Method = model.BridgeMethodBoth
			return llmResult
		}
		return ruleResult
	default:
		return RuleBased(a)
	}
}

func (r *Resolver) tryLLM(ctx context.Context, a Abstractable) *model.Bridge {
	if r.extractor == nil {
		return nil
	}
	b, err := r.extractor.Extract(ctx, a)
	if err != nil {
		r.logger.Debug("bridge: llm extraction failed", "error", err)
		return nil
	}
	return b
}
