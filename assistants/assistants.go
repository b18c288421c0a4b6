package assistants

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/tools"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbridge", "assistants")

//go:generate mockgen -destination=../mocks/mockllms/llm_mock.gen.go -package mockllms github.com/effective-security/mcpbridge/pkg/llms Model

var (
	// ErrModel marks failures of the language model call.
	ErrModel = errors.New("model call failed")
	// ErrMaxTurnsExceeded is returned when the model keeps requesting tools
	// beyond the configured number of turns.
	ErrMaxTurnsExceeded = errors.New("max turns exceeded")
	// ErrRunConsumed is returned when the fragments of a Run are iterated twice.
	ErrRunConsumed = errors.New("run already consumed")
	// ErrEmptyQuery is returned when the query is empty.
	ErrEmptyQuery = errors.New("empty query")
)

// Callback receives the events of a Run.
// The tool events may be delivered concurrently.
type Callback interface {
	tools.Callback
	OnQueryStart(ctx context.Context, agent *Agent, query string)
	OnQueryEnd(ctx context.Context, agent *Agent, query string, answer string)
	OnQueryError(ctx context.Context, agent *Agent, query string, err error)
	OnLLMCallStart(ctx context.Context, agent *Agent, payload []llms.Message)
	OnLLMCallEnd(ctx context.Context, agent *Agent, resp *llms.ContentResponse)
	OnToolNotFound(ctx context.Context, agent *Agent, tool string)
}

// RunQuery runs the query to completion and returns the final answer.
func RunQuery(ctx context.Context, agent *Agent, query string) (string, error) {
	var answer string
	for f, err := range agent.Start(ctx, query).Fragments() {
		if err != nil {
			return "", err
		}
		if f.Kind == FragmentDone {
			answer = f.Text
		}
	}
	return answer, nil
}
