package sandbox

import (
	"context"
	"regexp"
	"strings"
)

// CodeBlock is one fenced, language-tagged block extracted from an agent
// message.
type CodeBlock struct {
	Language string
	Code     string
}

// Result carries the combined stdout/stderr of an execution plus the exit
// status of the last block run.
type Result struct {
	Output   string
	ExitCode int
}

// Executor prepares an execution environment rooted at a working directory,
// runs code blocks in it, and tears it down. Start failure aborts the run;
// Stop failure is swallowed by callers.
type Executor interface {
	Start(ctx context.Context) error
	Execute(ctx context.Context, blocks []CodeBlock) (Result, error)
	Stop(ctx context.Context) error
}

var fencePattern = regexp.MustCompile("(?s)```([a-zA-Z0-9]*)\n(.*?)```")

// ExtractCodeBlocks returns every fenced code block in text, in order.
// Fences without a language tag default to python when the content looks
// pythonic.
func ExtractCodeBlocks(text string) []CodeBlock {
	matches := fencePattern.FindAllStringSubmatch(text, -1)
	var blocks []CodeBlock
	for _, m := range matches {
		lang := strings.ToLower(strings.TrimSpace(m[1]))
		code := strings.TrimSpace(m[2])
		if code == "" {
			continue
		}
		if lang == "" {
			if !looksLikePython(code) {
				continue
			}
			lang = "python"
		}
		blocks = append(blocks, CodeBlock{Language: lang, Code: code})
	}
	return blocks
}

// looksLikePython returns true if the snippet contains pythonic tokens.
func looksLikePython(code string) bool {
	lc := strings.ToLower(code)
	tokens := []string{
		"import ", "from ", "pd.", "plt.", "np.", "print(",
		"def ", "for ", "df =", "os.",
	}
	for _, t := range tokens {
		if strings.Contains(lc, t) {
			return true
		}
	}
	return false
}
