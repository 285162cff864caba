package agentloop

import (
	"context"
	"fmt"
	"time"

	"github.com/aethersystems/aether/internal/llmprovider"
)

// waitApproval blocks for a decision on pid's pending approval, defaulting
// to rejection on timeout or context cancellation (spec §4.3 step 7).
func (l *Loop) waitApproval(ctx context.Context, pid int64) bool {
	approved := l.bus.Subscribe("agent.approved")
	rejected := l.bus.Subscribe("agent.rejected")
	defer l.bus.Unsubscribe(approved)
	defer l.bus.Unsubscribe(rejected)

	timeout := time.NewTimer(l.approvalTimeout)
	defer timeout.Stop()

	for {
		select {
		case evt := <-approved.Events():
			if d, ok := evt.Payload.(ApprovalDecisionEvent); ok && d.PID == pid {
				return true
			}
		case evt := <-rejected.Events():
			if d, ok := evt.Payload.(ApprovalDecisionEvent); ok && d.PID == pid {
				return false
			}
		case <-timeout.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// waitContinuation blocks for an agent.continued decision on pid, returning
// (0, false) on timeout or cancellation (spec §4.3: CONTINUATION_TIMEOUT).
func (l *Loop) waitContinuation(ctx context.Context, pid int64) (int, bool) {
	continued := l.bus.Subscribe("agent.continued")
	defer l.bus.Unsubscribe(continued)

	timeout := time.NewTimer(l.continuationTimeout)
	defer timeout.Stop()

	for {
		select {
		case evt := <-continued.Events():
			if d, ok := evt.Payload.(ContinuedEvent); ok && d.PID == pid {
				return d.ExtraSteps, true
			}
		case <-timeout.C:
			return 0, false
		case <-ctx.Done():
			return 0, false
		}
	}
}

// estimateTokens applies spec §4.3.1's chars/4 approximation.
func estimateTokens(history []llmprovider.Message) int {
	chars := 0
	for _, m := range history {
		chars += len(m.Content)
	}
	return chars / 4
}

// maybeCompact summarizes older history once step or token thresholds are
// crossed (spec §4.3.1). It always preserves the system prompt (index 0)
// and the most recent CompactionKeepRecent messages bit-identical; everything
// between is replaced by one summary message. If summarization itself fails
// (the cheap provider, when one is set, and then the primary provider both
// return errors), history is returned unchanged rather than dropped.
func (l *Loop) maybeCompact(ctx context.Context, pid int64, step int, history []llmprovider.Message) []llmprovider.Message {
	tokens := estimateTokens(history)
	triggered := (step > 0 && step%CompactionStepInterval == 0) || tokens >= CompactionTokenThreshold
	if !triggered || len(history) <= CompactionKeepRecent+1 {
		return history
	}

	system := history[0]
	cutoff := len(history) - CompactionKeepRecent
	older := history[1:cutoff]
	recent := history[cutoff:]

	summary, err := l.summarize(ctx, older)
	if err != nil {
		return history
	}

	compacted := make([]llmprovider.Message, 0, 2+len(recent))
	compacted = append(compacted, system)
	compacted = append(compacted, llmprovider.Message{Role: "system", Content: "Summary of earlier steps: " + summary})
	compacted = append(compacted, recent...)
	return compacted
}

// summarize tries the cheap provider first, then the primary, per spec
// §4.3.1's fallback chain.
func (l *Loop) summarize(ctx context.Context, messages []llmprovider.Message) (string, error) {
	req := llmprovider.ChatRequest{
		System:  "Summarize the following agent transcript concisely, preserving key facts and decisions.",
		History: messages,
		Cheap:   true,
	}
	if l.cheapProvider != nil {
		if resp, err := l.cheapProvider.Chat(ctx, req); err == nil {
			return resp.Text, nil
		}
	}
	resp, err := l.provider.Chat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("agentloop: summarize: %w", err)
	}
	return resp.Text, nil
}
