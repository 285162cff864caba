package gateway

import (
	"context"
	"encoding/json"

	"github.com/aethersystems/aether/internal/agentloop"
	"github.com/aethersystems/aether/internal/eventbus"
	"github.com/aethersystems/aether/internal/process"
	"github.com/aethersystems/aether/internal/types"
)

// memoryLayer maps a client-supplied layer string onto a types.MemoryLayer,
// defaulting to the episodic layer for an empty or unrecognized value.
func memoryLayer(s string) types.MemoryLayer {
	switch types.MemoryLayer(s) {
	case types.LayerSemantic, types.LayerProcedural, types.LayerSocial:
		return types.MemoryLayer(s)
	default:
		return types.LayerEpisodic
	}
}

// subscribableTopics are the event topics a session may subscribe to (spec
// §6's event list). The EventBus matches on prefix, so a session subscribes
// to the whole "process.*" / "agent.*" / "memory.*" families at once.
var subscribableTopics = []string{"process", "agent", "memory"}

func decodeParams(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}

func (sess *session) handleSubscribe(raw []byte) (any, error) {
	var params struct {
		Topics []string `json:"topics"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, NewProtocolError(CodeInvalidArgument, "malformed subscribe params")
	}
	topics := params.Topics
	if len(topics) == 0 {
		topics = subscribableTopics
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	for _, topic := range topics {
		if _, already := sess.subs[topic]; already {
			continue
		}
		sub := sess.server.bus.Subscribe(topic)
		sess.subs[topic] = sub
		sess.group.Go(func() error {
			sess.forward(topic, sub)
			return nil
		})
	}
	return map[string]any{"subscribed": topics}, nil
}

func (sess *session) handleUnsubscribe(raw []byte) (any, error) {
	var params struct {
		Topics []string `json:"topics"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, NewProtocolError(CodeInvalidArgument, "malformed unsubscribe params")
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for _, topic := range params.Topics {
		if sub, ok := sess.subs[topic]; ok {
			sess.server.bus.Unsubscribe(sub)
			delete(sess.subs, topic)
		}
	}
	return map[string]any{"unsubscribed": params.Topics}, nil
}

// forward drains sub and fans events out to the session, dropping any event
// tied to a process the session isn't authorized to see (spec §6's
// admin-sees-all / user-sees-own rule). It also watches sess.ctx so the
// session's errgroup can join this goroutine as soon as the session closes,
// without waiting on an explicit Unsubscribe.
func (sess *session) forward(topic string, sub *eventbus.Subscription) {
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if !sess.authorizedFor(evt.Payload) {
				continue
			}
			sess.enqueue(eventFrame(evt.Topic, evt.Payload))
		case <-sess.ctx.Done():
			return
		}
	}
}

// authorizedFor reports whether the session may see an event carrying the
// given payload, by checking for a PID field and comparing ownership.
func (sess *session) authorizedFor(payload any) bool {
	if sess.isAdmin() {
		return true
	}
	pid, ok := pidOf(payload)
	if !ok {
		return true
	}
	proc, err := sess.server.manager.Get(pid)
	if err != nil {
		return false
	}
	return proc.OwnerUID == sess.identity.UID
}

func pidOf(payload any) (int64, bool) {
	switch v := payload.(type) {
	case process.ProcessSpawnedEvent:
		return v.PID, true
	case process.ProcessStateChangeEvent:
		return v.PID, true
	case process.ProcessExitEvent:
		return v.PID, true
	case process.ProcessApprovalRequiredEvent:
		return v.PID, true
	case agentloop.AgentThoughtEvent:
		return v.PID, true
	case agentloop.AgentActionEvent:
		return v.PID, true
	case agentloop.AgentObservationEvent:
		return v.PID, true
	case agentloop.AgentProgressEvent:
		return v.PID, true
	case agentloop.AgentCompletedEvent:
		return v.PID, true
	case agentloop.AgentStepLimitReachedEvent:
		return v.PID, true
	case agentloop.AgentInjectionBlockedEvent:
		return v.PID, true
	default:
		return 0, false
	}
}

func (sess *session) handleProcessSpawn(raw []byte) (any, error) {
	var params struct {
		Role     string `json:"role"`
		Goal     string `json:"goal"`
		MaxSteps int    `json:"maxSteps"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, NewProtocolError(CodeInvalidArgument, "malformed spawn params")
	}
	if params.Goal == "" {
		return nil, NewProtocolError(CodeInvalidArgument, "goal is required")
	}
	pid, err := sess.server.manager.Spawn(sess.ctx, process.Config{
		OwnerUID: sess.identity.UID,
		Role:     params.Role,
		Goal:     params.Goal,
		MaxSteps: params.MaxSteps,
	})
	if err != nil {
		return nil, NewProtocolError(CodeQuotaExceeded, err.Error())
	}
	return map[string]any{"pid": pid}, nil
}

func (sess *session) handleProcessKill(raw []byte) (any, error) {
	pid, err := sess.requirePID(raw)
	if err != nil {
		return nil, err
	}
	if err := sess.authorizeProcess(pid); err != nil {
		return nil, err
	}
	if err := sess.server.manager.Kill(pid); err != nil {
		return nil, NewProtocolError(CodeInternal, err.Error())
	}
	return map[string]any{"ok": true}, nil
}

func (sess *session) handleProcessPause(raw []byte) (any, error) {
	pid, err := sess.requirePID(raw)
	if err != nil {
		return nil, err
	}
	if err := sess.authorizeProcess(pid); err != nil {
		return nil, err
	}
	if err := sess.server.manager.Pause(pid); err != nil {
		return nil, NewProtocolError(CodeInternal, err.Error())
	}
	return map[string]any{"ok": true}, nil
}

func (sess *session) handleProcessResume(raw []byte) (any, error) {
	pid, err := sess.requirePID(raw)
	if err != nil {
		return nil, err
	}
	if err := sess.authorizeProcess(pid); err != nil {
		return nil, err
	}
	if err := sess.server.manager.Resume(pid); err != nil {
		return nil, NewProtocolError(CodeInternal, err.Error())
	}
	return map[string]any{"ok": true}, nil
}

func (sess *session) handleProcessList() (any, error) {
	filter := process.Filter{OwnerUID: sess.identity.UID, IncludeAll: sess.isAdmin()}
	return sess.server.manager.ListProcesses(filter), nil
}

func (sess *session) handleProcessGet(raw []byte) (any, error) {
	pid, err := sess.requirePID(raw)
	if err != nil {
		return nil, err
	}
	if err := sess.authorizeProcess(pid); err != nil {
		return nil, err
	}
	proc, err := sess.server.manager.Get(pid)
	if err != nil {
		return nil, NewProtocolError(CodeNotFound, err.Error())
	}
	return proc, nil
}

func (sess *session) handleProcessLogs(raw []byte) (any, error) {
	pid, err := sess.requirePID(raw)
	if err != nil {
		return nil, err
	}
	if err := sess.authorizeProcess(pid); err != nil {
		return nil, err
	}
	logs, err := sess.server.manager.Logs(pid)
	if err != nil {
		return nil, NewProtocolError(CodeNotFound, err.Error())
	}
	return logs, nil
}

func (sess *session) handleProcessSendMessage(raw []byte) (any, error) {
	var params struct {
		PID  int64  `json:"pid"`
		Text string `json:"text"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, NewProtocolError(CodeInvalidArgument, "malformed sendMessage params")
	}
	if err := sess.authorizeProcess(params.PID); err != nil {
		return nil, err
	}
	if err := sess.server.manager.SendUserMessage(params.PID, params.Text); err != nil {
		return nil, NewProtocolError(CodeInternal, err.Error())
	}
	return map[string]any{"ok": true}, nil
}

func (sess *session) handleProcessApprove(raw []byte, approved bool) (any, error) {
	pid, err := sess.requirePID(raw)
	if err != nil {
		return nil, err
	}
	if err := sess.authorizeProcess(pid); err != nil {
		return nil, err
	}
	topic := "agent.rejected"
	if approved {
		topic = "agent.approved"
	}
	sess.server.bus.Publish(topic, agentloop.ApprovalDecisionEvent{PID: pid})
	return map[string]any{"ok": true}, nil
}

func (sess *session) handleProcessContinue(raw []byte) (any, error) {
	var params struct {
		PID        int64 `json:"pid"`
		ExtraSteps int   `json:"extraSteps"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, NewProtocolError(CodeInvalidArgument, "malformed continue params")
	}
	if err := sess.authorizeProcess(params.PID); err != nil {
		return nil, err
	}
	sess.server.bus.Publish("agent.continued", agentloop.ContinuedEvent{PID: params.PID, ExtraSteps: params.ExtraSteps})
	return map[string]any{"ok": true}, nil
}

func (sess *session) handleMemoryRecall(raw []byte) (any, error) {
	var params struct {
		AgentUID string `json:"agentUid"`
		Query    string `json:"query"`
		Limit    int    `json:"limit"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, NewProtocolError(CodeInvalidArgument, "malformed recall params")
	}
	if err := sess.authorizeAgentUID(params.AgentUID); err != nil {
		return nil, err
	}
	records, err := sess.server.memory.Recall(context.Background(), params.AgentUID, params.Query, params.Limit)
	if err != nil {
		return nil, NewProtocolError(CodeInternal, err.Error())
	}
	return records, nil
}

func (sess *session) handleMemoryRemember(raw []byte) (any, error) {
	var params struct {
		AgentUID   string   `json:"agentUid"`
		Layer      string   `json:"layer"`
		Content    string   `json:"content"`
		Tags       []string `json:"tags"`
		Importance float64  `json:"importance"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, NewProtocolError(CodeInvalidArgument, "malformed remember params")
	}
	if err := sess.authorizeAgentUID(params.AgentUID); err != nil {
		return nil, err
	}
	id, err := sess.server.memory.Remember(context.Background(), params.AgentUID, memoryLayer(params.Layer), params.Content, params.Tags, params.Importance, nil, nil)
	if err != nil {
		return nil, NewProtocolError(CodeInternal, err.Error())
	}
	return map[string]any{"id": id}, nil
}

func (sess *session) handleMemoryForget(raw []byte) (any, error) {
	var params struct {
		ID string `json:"id"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, NewProtocolError(CodeInvalidArgument, "malformed forget params")
	}
	if err := sess.server.memory.Forget(context.Background(), params.ID); err != nil {
		return nil, NewProtocolError(CodeNotFound, err.Error())
	}
	return map[string]any{"ok": true}, nil
}

func (sess *session) requirePID(raw []byte) (int64, error) {
	var params struct {
		PID int64 `json:"pid"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return 0, NewProtocolError(CodeInvalidArgument, "malformed params, expected pid")
	}
	return params.PID, nil
}

// authorizeAgentUID enforces the same ownership rule as authorizeProcess
// for memory operations, which are keyed by agent UID rather than PID.
func (sess *session) authorizeAgentUID(agentUID string) error {
	if sess.isAdmin() || agentUID == sess.identity.UID {
		return nil
	}
	return NewProtocolError(CodeForbidden, "memory not owned by this session")
}
