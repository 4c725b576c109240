package team

import (
	"context"
	"fmt"
	"strings"

	"sensor-agent/sandbox"

	"go.uber.org/zap"
)

// Event is one item of the run stream. Ordinary items carry a speaker and
// content; the final item of every stream is a stop marker.
type Event struct {
	Source     string
	Content    string
	Stop       bool
	StopReason string
}

// String renders the event in the message stream contract consumed by the
// presentation layer.
func (e Event) String() string {
	if e.Stop {
		return "Stopping reason: " + e.StopReason
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Content)
}

// Team drives a bounded round-robin conversation between the developer and
// executor agents, starting with the developer.
type Team struct {
	developer Agent
	executor  Agent
	sandbox   sandbox.Executor
	maxTurns  int
	logger    *zap.Logger

	history    []Turn
	executedOK bool
}

func New(developer, executor Agent, sb sandbox.Executor, maxTurns int, logger *zap.Logger) *Team {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	return &Team{
		developer: developer,
		executor:  executor,
		sandbox:   sb,
		maxTurns:  maxTurns,
		logger:    logger,
	}
}

// RunStream runs the conversation for one task and returns a single-pass
// channel of events. The consumer receives each turn as it is produced; the
// final event is always the stop marker, after which the channel closes.
// The sandbox is started before the first turn and stopped on every exit
// path, including failures.
func (t *Team) RunStream(ctx context.Context, task string) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		stopReason := t.run(ctx, task, out)
		out <- Event{Stop: true, StopReason: stopReason}
	}()

	return out
}

func (t *Team) run(ctx context.Context, task string, out chan<- Event) string {
	// Stop is attempted on every exit path, including a failed start.
	defer func() {
		if err := t.sandbox.Stop(context.Background()); err != nil {
			t.logger.Warn("Failed to stop sandbox cleanly", zap.Error(err))
		}
	}()
	if err := t.sandbox.Start(ctx); err != nil {
		t.logger.Error("Sandbox failed to start", zap.Error(err))
		return fmt.Sprintf("sandbox failed to start: %v", err)
	}

	t.history = append(t.history, Turn{Source: UserName, Content: task})

	current := t.developer
	turns := 0
	for turns < t.maxTurns {
		if ctx.Err() != nil {
			return fmt.Sprintf("context canceled: %v", ctx.Err())
		}

		content, err := current.Reply(ctx, t.history)
		if err != nil {
			t.logger.Error("Agent turn failed",
				zap.String("agent", current.Name()),
				zap.Int("turn", turns),
				zap.Error(err))
			return fmt.Sprintf("%s failed: %v", current.Name(), err)
		}

		t.history = append(t.history, Turn{Source: current.Name(), Content: content})
		out <- Event{Source: current.Name(), Content: content}
		turns++

		switch current.Name() {
		case DeveloperName:
			if strings.Contains(content, TerminationPhrase) {
				if t.executedOK {
					return fmt.Sprintf("Text '%s' mentioned", TerminationPhrase)
				}
				// Guard against premature termination: the developer may not
				// stop before at least one successful execution in this run.
				// The correction takes the executor's slot in the rotation.
				if turns >= t.maxTurns {
					break
				}
				correction := "No code has been executed yet in this run. Write the code, wait for the execution result, and only then terminate."
				t.logger.Warn("Developer attempted to terminate before any successful execution")
				t.history = append(t.history, Turn{Source: ExecutorName, Content: correction})
				out <- Event{Source: ExecutorName, Content: correction}
				turns++
				current = t.developer
				continue
			}
			current = t.executor
		case ExecutorName:
			if ExecutionSucceeded(content) {
				t.executedOK = true
			}
			current = t.developer
		}
	}

	return fmt.Sprintf("maximum number of turns (%d) reached", t.maxTurns)
}
