package llmprovider

import "context"

// Stub is a scriptable LLMProvider for tests: each Chat call consumes the
// next entry in Responses, in order. Exceeding the script returns a
// "complete" tool call so loops terminate deterministically.
type Stub struct {
	Responses []ChatResponse
	Errors    []error // parallel to Responses; non-nil entries are returned instead
	calls     int
	Requests  []ChatRequest // records every request seen, for assertions
}

func (s *Stub) Name() string { return "stub" }

func (s *Stub) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	s.Requests = append(s.Requests, req)
	i := s.calls
	s.calls++
	if i < len(s.Errors) && s.Errors[i] != nil {
		return ChatResponse{}, s.Errors[i]
	}
	if i < len(s.Responses) {
		return s.Responses[i], nil
	}
	return ChatResponse{ToolCall: &ToolCall{Name: "complete", Args: map[string]any{"summary": "done"}}}, nil
}

// Calls reports how many times Chat has been invoked.
func (s *Stub) Calls() int { return s.calls }
