package team

import (
	"context"
	"fmt"
	"strings"

	"sensor-agent/config"
	apperrors "sensor-agent/errors"
	"sensor-agent/llmclient"
	"sensor-agent/prompts"
	"sensor-agent/sandbox"
	"sensor-agent/web/types"

	"go.uber.org/zap"
)

const (
	DeveloperName = "code_developer"
	ExecutorName  = "code_executor"
	UserName      = "user"

	// TerminationPhrase ends the loop when it appears in a developer message.
	TerminationPhrase = "TERMINATE"

	// GeneratedSentinel prefixes the filename of a plot the developer produced.
	GeneratedSentinel = "GENERATED:"
)

// Turn is one (speaker, content) record of the team conversation.
type Turn struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// Agent produces the next message for its speaker given the conversation so
// far.
type Agent interface {
	Name() string
	Reply(ctx context.Context, history []Turn) (string, error)
}

// Developer is the LLM-backed code-writing agent.
type Developer struct {
	client *llmclient.Client
	cfg    *config.Config
	logger *zap.Logger
}

func NewDeveloper(cfg *config.Config, logger *zap.Logger) *Developer {
	return &Developer{
		client: llmclient.New(cfg, logger),
		cfg:    cfg,
		logger: logger,
	}
}

func (d *Developer) Name() string { return DeveloperName }

// Reply maps the team conversation onto chat roles and asks the LLM for the
// next developer message. Executor results are presented as user turns so the
// model treats them as ground truth rather than its own prior claims. The
// response is read from the streaming endpoint and assembled into one turn.
func (d *Developer) Reply(ctx context.Context, history []Turn) (string, error) {
	messages := []types.AgentMessage{
		{Role: "system", Content: prompts.DeveloperSystem()},
	}
	for _, turn := range history {
		role := "user"
		if turn.Source == DeveloperName {
			role = "assistant"
		}
		content := turn.Content
		if turn.Source == ExecutorName {
			content = "Execution result:\n" + content
		}
		messages = append(messages, types.AgentMessage{Role: role, Content: content})
	}

	temp := d.cfg.LLMTemperature
	chunks, err := d.client.ChatStream(ctx, messages, &temp)
	if err != nil {
		return "", fmt.Errorf("developer reply: %w", err)
	}
	var b strings.Builder
	for chunk := range chunks {
		b.WriteString(chunk)
	}
	response := strings.TrimSpace(b.String())
	if response == "" {
		if ctx.Err() != nil {
			return "", fmt.Errorf("developer reply: %w", ctx.Err())
		}
		return "", apperrors.WrapError(apperrors.ErrLLMCommunication, "developer returned no content")
	}
	return response, nil
}

// ExecutorAgent wraps the execution sandbox: it pulls fenced code blocks out
// of the latest developer message, runs them, and reports the result back
// into the conversation.
type ExecutorAgent struct {
	sandbox sandbox.Executor
	logger  *zap.Logger
}

func NewExecutorAgent(sb sandbox.Executor, logger *zap.Logger) *ExecutorAgent {
	return &ExecutorAgent{sandbox: sb, logger: logger}
}

func (e *ExecutorAgent) Name() string { return ExecutorName }

func (e *ExecutorAgent) Reply(ctx context.Context, history []Turn) (string, error) {
	var lastDeveloper string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Source == DeveloperName {
			lastDeveloper = history[i].Content
			break
		}
	}

	blocks := sandbox.ExtractCodeBlocks(lastDeveloper)
	if len(blocks) == 0 {
		return "No code blocks found in the last message. Write the code in a ```python fenced block.", nil
	}

	result, err := e.sandbox.Execute(ctx, blocks)
	if err != nil {
		e.logger.Warn("Code execution failed", zap.Error(err))
		return fmt.Sprintf("exitcode: 1 (execution failed)\nError: %v", err), nil
	}

	output := strings.TrimSpace(result.Output)
	if output == "" {
		output = "(no output)"
	}
	if result.ExitCode != 0 {
		return fmt.Sprintf("exitcode: %d (execution failed)\nOutput:\n%s", result.ExitCode, output), nil
	}
	return fmt.Sprintf("exitcode: 0 (execution succeeded)\nOutput:\n%s", output), nil
}

// ExecutionSucceeded reports whether an executor message describes a
// successful run.
func ExecutionSucceeded(content string) bool {
	return strings.HasPrefix(content, "exitcode: 0 ")
}

// GeneratedFilename extracts the filename from a GENERATED:<filename>
// sentinel line, or returns empty.
func GeneratedFilename(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, GeneratedSentinel); ok {
			if fields := strings.Fields(rest); len(fields) > 0 {
				return fields[0]
			}
		}
	}
	return ""
}
