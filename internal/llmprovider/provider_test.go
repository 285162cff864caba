package llmprovider

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestStubReturnsScriptedResponsesInOrder(t *testing.T) {
	stub := &Stub{
		Responses: []ChatResponse{
			{ToolCall: &ToolCall{Name: "think", Args: map[string]any{"thought": "planning"}}},
			{ToolCall: &ToolCall{Name: "complete", Args: map[string]any{"summary": "done"}}},
		},
	}
	got1, err := stub.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("chat 1: %v", err)
	}
	if got1.ToolCall.Name != "think" {
		t.Fatalf("expected think, got %s", got1.ToolCall.Name)
	}
	got2, err := stub.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("chat 2: %v", err)
	}
	if got2.ToolCall.Name != "complete" {
		t.Fatalf("expected complete, got %s", got2.ToolCall.Name)
	}
	if stub.Calls() != 2 {
		t.Fatalf("expected 2 calls, got %d", stub.Calls())
	}
}

func TestWithRetryRetriesTransientErrors(t *testing.T) {
	stub := &Stub{
		Errors: []error{
			fmt.Errorf("rate limited: %w", ErrTransient),
			fmt.Errorf("rate limited: %w", ErrTransient),
		},
		Responses: []ChatResponse{
			{}, {}, {ToolCall: &ToolCall{Name: "complete"}},
		},
	}
	provider := WithRetry(stub)
	got, err := provider.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if got.ToolCall == nil || got.ToolCall.Name != "complete" {
		t.Fatalf("unexpected response: %+v", got)
	}
	if stub.Calls() != 3 {
		t.Fatalf("expected 3 attempts, got %d", stub.Calls())
	}
}

func TestWithRetryDoesNotRetryNonTransientErrors(t *testing.T) {
	wantErr := errors.New("bad request")
	stub := &Stub{Errors: []error{wantErr}}
	provider := WithRetry(stub)
	_, err := provider.Chat(context.Background(), ChatRequest{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected immediate non-transient error, got %v", err)
	}
	if stub.Calls() != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", stub.Calls())
	}
}

func TestWithRetryExhaustsAfterMaxRetries(t *testing.T) {
	stub := &Stub{
		Errors: []error{
			fmt.Errorf("503: %w", ErrTransient),
			fmt.Errorf("503: %w", ErrTransient),
			fmt.Errorf("503: %w", ErrTransient),
			fmt.Errorf("503: %w", ErrTransient),
		},
	}
	provider := WithRetry(stub)
	_, err := provider.Chat(context.Background(), ChatRequest{})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error surfaced after exhaustion, got %v", err)
	}
	if stub.Calls() != MaxRetries+1 {
		t.Fatalf("expected %d attempts, got %d", MaxRetries+1, stub.Calls())
	}
}
