package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vaani-ai/vaani/internal/brain"
	"github.com/vaani-ai/vaani/internal/memory"
	"github.com/vaani-ai/vaani/internal/observability"
)

// FragmentSink receives reply fragments in provider order. A sink error
// (typically a dropped client connection) aborts the stream; the pipeline
// then skips the commit.
type FragmentSink interface {
	WriteFragment(fragment string) error
}

// FragmentSinkFunc adapts a function to the FragmentSink interface.
type FragmentSinkFunc func(fragment string) error

func (f FragmentSinkFunc) WriteFragment(fragment string) error { return f(fragment) }

const commitTimeout = 2 * time.Second

// Pipeline composes prompts from bounded session history, streams the model
// reply fragment by fragment, and commits the exchange only after the
// stream completes.
type Pipeline struct {
	store   memory.Store
	adapter brain.Adapter
	system  string
	metrics *observability.Metrics
}

func NewPipeline(store memory.Store, adapter brain.Adapter, systemPrompt string, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		store:   store,
		adapter: adapter,
		system:  systemPrompt,
		metrics: metrics,
	}
}

// StreamReply runs one full exchange for the session and returns the final
// assistant text. Fragments are forwarded to the sink as they arrive; the
// reply is never buffered ahead of the first emission.
func (p *Pipeline) StreamReply(ctx context.Context, sessionID, userText string, sink FragmentSink) (string, error) {
	history, err := p.store.History(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	req := brain.MessageRequest{
		SessionID: sessionID,
		System:    p.system,
		History:   historyTurns(history),
		InputText: userText,
	}

	start := time.Now()
	sawFirst := false
	resp, err := p.adapter.StreamReply(ctx, req, func(fragment string) error {
		if !sawFirst {
			sawFirst = true
			p.metrics.ObserveFirstFragmentLatency(time.Since(start))
		}
		p.metrics.StreamFragments.Inc()
		return sink.WriteFragment(fragment)
	})
	if err != nil {
		// Aborted or failed streams never reach memory; the session
		// history only ever holds completed exchanges.
		p.metrics.StreamRequests.WithLabelValues("error").Inc()
		if errors.Is(err, brain.ErrUpstreamUnavailable) {
			p.metrics.ProviderErrors.WithLabelValues("brain", "upstream_unavailable").Inc()
		}
		return "", err
	}

	// The client may disconnect right after the last fragment; commit on a
	// detached context so a completed exchange is still saved.
	commitCtx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	if err := p.store.Append(commitCtx, sessionID, userText, resp.Text); err != nil {
		p.metrics.StreamRequests.WithLabelValues("commit_error").Inc()
		return resp.Text, fmt.Errorf("commit exchange: %w", err)
	}

	p.metrics.StreamRequests.WithLabelValues("ok").Inc()
	return resp.Text, nil
}

// historyTurns flattens exchanges into role-tagged turns oldest first.
func historyTurns(history []memory.Exchange) []brain.Turn {
	turns := make([]brain.Turn, 0, len(history)*2)
	for _, e := range history {
		turns = append(turns,
			brain.Turn{Role: brain.RoleUser, Content: e.User},
			brain.Turn{Role: brain.RoleAssistant, Content: e.Assistant},
		)
	}
	return turns
}
