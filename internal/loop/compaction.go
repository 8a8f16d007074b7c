package loop

import (
	"context"
	"math"

	"github.com/agentmesh/turnloop/internal/event"
	"github.com/agentmesh/turnloop/internal/message"
)

// compactionThresholdRatio is the fraction of available context tokens
// that triggers pre-turn compaction.
const compactionThresholdRatio = 0.8

// maybeCompactPreTurn implements CompactionCoordinator's pre-turn path
// (spec §4.5). It returns the possibly-replaced messages slice, whether a
// compaction happened, and the events it produced.
func maybeCompactPreTurn(
	ctx context.Context,
	svc CompactionService,
	chatCfg ChatServiceConfig,
	messages []message.Message,
	lastPromptTokens int,
	haveLastPromptTokens bool,
	emit func(event.Event),
) ([]message.Message, bool) {
	if svc == nil || !haveLastPromptTokens {
		return messages, false
	}

	available := chatCfg.MaxContextTokens - chatCfg.MaxOutputTokens
	if available <= 0 {
		return messages, false
	}
	threshold := int(math.Floor(float64(available) * compactionThresholdRatio))
	if lastPromptTokens < threshold {
		return messages, false
	}

	emit(event.Event{Type: event.Compacting, IsCompacting: true})
	result, err := svc.Compact(ctx, messages, CompactOptions{
		Trigger:          "auto",
		ModelName:        chatCfg.Model,
		MaxContextTokens: chatCfg.MaxContextTokens,
		ActualPreTokens:  lastPromptTokens,
	})
	emit(event.Event{Type: event.Compacting, IsCompacting: false})

	if err != nil || !result.Success {
		return messages, false
	}

	return result.CompactedMessages, true
}
