package agentloop

// AgentThoughtEvent is published on "agent.thought" once per completed
// think phase.
type AgentThoughtEvent struct {
	PID     int64
	Thought string
}

// AgentActionEvent is published on "agent.action" when a tool call is
// dispatched.
type AgentActionEvent struct {
	PID  int64
	Tool string
	Args map[string]any
}

// AgentObservationEvent is published on "agent.observation" once a tool's
// result has been recorded.
type AgentObservationEvent struct {
	PID     int64
	Tool    string
	Output  string
	Success bool
}

// AgentProgressEvent is published on "agent.progress" after each completed
// step.
type AgentProgressEvent struct {
	PID  int64
	Step int
}

// AgentCompletedEvent is published on "agent.completed" exactly once per
// Process, with Outcome one of "success", "timeout", "llm_error", or
// "killed".
type AgentCompletedEvent struct {
	PID     int64
	Outcome string
	Steps   int
	Summary string
}

// AgentStepLimitReachedEvent is published on "agent.stepLimitReached" when a
// Process exhausts its step budget and is parked awaiting continuation.
type AgentStepLimitReachedEvent struct {
	PID int64
}

// AgentInjectionBlockedEvent is published on "agent.injectionBlocked" when
// the prompt-injection guard rejects a proposed tool call.
type AgentInjectionBlockedEvent struct {
	PID    int64
	Reason string
}

// ApprovalDecisionEvent is published by a client gateway on "agent.approved"
// or "agent.rejected" in response to a process.approval_required event.
type ApprovalDecisionEvent struct {
	PID      int64
	ToolName string
}

// ContinuedEvent is published on "agent.continued" by an operator granting a
// stopped Process additional steps.
type ContinuedEvent struct {
	PID        int64
	ExtraSteps int
}
