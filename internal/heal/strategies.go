package heal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/slok/stepflow/internal/model"
)

// Strategy is a (detect, heal) pair of the healing table.
type Strategy struct {
	Name string
	Type model.ErrorType
	// Pattern is the last resort error message classifier.
	Pattern *regexp.Regexp
	// Tools limits the strategy to some tools, empty means any tool.
	Tools []string
	// Applies is an optional extra precondition.
	Applies func(in Input) bool
	Heal    func(ctx context.Context, env Env, in Input) Outcome
}

// Detect returns true when the strategy handles the failure.
func (s Strategy) Detect(in Input) bool {
	if len(s.Tools) > 0 && !contains(s.Tools, in.Tool) {
		return false
	}

	matched := in.ErrorType != "" && in.ErrorType == s.Type
	if !matched && s.Pattern != nil {
		matched = s.Pattern.MatchString(in.Err)
	}
	if !matched {
		return false
	}

	return s.Applies == nil || s.Applies(in)
}

const scriptPrefix = "stepflow-heal-"

// DefaultStrategies is the ordered healing table.
var DefaultStrategies = []Strategy{
	{
		Name:    "timeout",
		Type:    model.ErrorTypeTimeout,
		Pattern: regexp.MustCompile(`(?i)timed? ?out|ETIMEDOUT|deadline exceeded`),
		Heal:    healTimeout,
	},
	{
		Name:    "missing_directory",
		Type:    model.ErrorTypeNotFound,
		Pattern: regexp.MustCompile(`(?i)ENOENT|no such file or directory`),
		Tools:   []string{"write_file", "append_file"},
		Applies: parentDirMissing,
		Heal:    healMissingDirectory,
	},
	{
		Name:    "resource_busy",
		Type:    model.ErrorTypeBusy,
		Pattern: regexp.MustCompile(`(?i)EBUSY|resource busy|EAGAIN|temporarily unavailable|text file busy|locked`),
		Heal:    healBusy,
	},
	{
		Name:    "text_not_found",
		Type:    model.ErrorTypeTextNotFound,
		Pattern: regexp.MustCompile(`(?i)(old|search) text not found|text not found`),
		Tools:   []string{"edit_file"},
		Heal:    healTextNotFound,
	},
	{
		Name:    "shell_syntax",
		Type:    model.ErrorTypeSyntax,
		Pattern: regexp.MustCompile(`(?i)syntax error|unexpected token|unterminated quoted string|unexpected EOF|bad substitution|unmatched`),
		Tools:   []string{"run_command"},
		Applies: notRewrittenScript,
		Heal:    healShellSyntax,
	},
	{
		Name:    "address_in_use",
		Type:    model.ErrorTypeAddressInUse,
		Pattern: regexp.MustCompile(`(?i)EADDRINUSE|address already in use`),
		Heal:    suggest("The port is already in use, stop the process using it or choose another port."),
	},
	{
		Name:    "module_not_found",
		Type:    model.ErrorTypeModuleNotFound,
		Pattern: regexp.MustCompile(`(?i)cannot find module|ModuleNotFoundError|no module named|cannot find package|command not found`),
		Heal:    suggest("A dependency is missing, install it before running the step again."),
	},
	{
		Name:    "invalid_json",
		Type:    model.ErrorTypeInvalidJSON,
		Pattern: regexp.MustCompile(`(?i)unexpected token .*json|invalid character .* looking for|unexpected end of JSON|invalid JSON`),
		Heal:    suggest("The data is not valid JSON, check quoting and trailing commas."),
	},
	{
		Name:    "permission",
		Type:    model.ErrorTypePermission,
		Pattern: regexp.MustCompile(`(?i)EACCES|EPERM|permission denied|operation not permitted`),
		Heal:    suggest("The operation lacks permissions, check the file ownership and mode."),
	},
	{
		Name:    "not_found",
		Type:    model.ErrorTypeNotFound,
		Pattern: regexp.MustCompile(`(?i)ENOENT|no such file or directory|not found`),
		Heal:    suggest("The target does not exist, check the path or create it first."),
	},
}

func suggest(msg string) func(ctx context.Context, env Env, in Input) Outcome {
	return func(context.Context, Env, Input) Outcome {
		return Outcome{Suggestion: msg}
	}
}

// Side effects of a timed out call may already have happened so it's never retried.
func healTimeout(_ context.Context, _ Env, in Input) Outcome {
	return Outcome{
		Message:    fmt.Sprintf("%s timed out", in.Tool),
		Suggestion: "The operation timed out and may have partially run, check its effects before retrying manually or increase the step timeout.",
	}
}

func parentDirMissing(in Input) bool {
	path := stringParam(in.Params, "path")
	if path == "" {
		return false
	}
	_, err := os.Stat(filepath.Dir(path))
	return errors.Is(err, fs.ErrNotExist)
}

func healMissingDirectory(_ context.Context, _ Env, in Input) Outcome {
	dir := filepath.Dir(stringParam(in.Params, "path"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Outcome{Suggestion: fmt.Sprintf("Could not create missing directory %s: %s", dir, err)}
	}

	return Outcome{
		Healed:  true,
		Retry:   true,
		Message: fmt.Sprintf("created missing directory %s", dir),
	}
}

func healBusy(ctx context.Context, env Env, _ Input) Outcome {
	if err := env.Sleep(ctx, env.BusyWait); err != nil {
		return Outcome{Suggestion: "The resource is busy, retry when it is released."}
	}

	return Outcome{
		Healed:  true,
		Retry:   true,
		Message: fmt.Sprintf("resource busy, waited %s", env.BusyWait),
	}
}

func healTextNotFound(_ context.Context, _ Env, in Input) Outcome {
	path := stringParam(in.Params, "path")
	search := stringParam(in.Params, "search")
	if path == "" || strings.TrimSpace(search) == "" {
		return Outcome{Suggestion: "The text to replace was not found in the file."}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Outcome{Suggestion: fmt.Sprintf("Could not read %s to locate the text: %s", path, err)}
	}
	content := string(data)

	if match, ok := looseMatch(content, search); ok && match != search {
		params := copyParams(in.Params)
		params["search"] = match
		return Outcome{
			Healed:         true,
			Retry:          true,
			Message:        "matched the search text ignoring whitespace differences",
			ModifiedParams: params,
		}
	}

	return Outcome{
		Suggestion: fmt.Sprintf("The text to replace was not found in %s. Closest content:\n%s", path, excerpt(content, search)),
	}
}

// looseMatch finds the search text in the content ignoring whitespace
// differences and returns the exact content text that matched.
func looseMatch(content, search string) (string, bool) {
	fields := strings.Fields(search)
	if len(fields) == 0 {
		return "", false
	}

	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, regexp.QuoteMeta(f))
	}

	re, err := regexp.Compile(strings.Join(quoted, `\s+`))
	if err != nil {
		return "", false
	}

	m := re.FindString(content)
	return m, m != ""
}

const excerptContext = 2

// excerpt returns the lines around the line that best matches the first search line.
func excerpt(content, search string) string {
	lines := strings.Split(content, "\n")
	first := ""
	for _, l := range strings.Split(search, "\n") {
		if t := strings.TrimSpace(l); t != "" {
			first = t
			break
		}
	}

	best, bestScore := 0, -1
	for i, l := range lines {
		if score := commonWords(l, first); score > bestScore {
			best, bestScore = i, score
		}
	}

	from := max(0, best-excerptContext)
	to := min(len(lines), best+excerptContext+1)
	return strings.Join(lines[from:to], "\n")
}

func commonWords(a, b string) int {
	words := map[string]bool{}
	for _, w := range strings.Fields(b) {
		words[w] = true
	}
	n := 0
	for _, w := range strings.Fields(a) {
		if words[w] {
			n++
		}
	}
	return n
}

func notRewrittenScript(in Input) bool {
	return !strings.Contains(stringParam(in.Params, "command"), scriptPrefix)
}

func healShellSyntax(_ context.Context, env Env, in Input) Outcome {
	cmd := stringParam(in.Params, "command")
	if cmd == "" {
		return Outcome{Suggestion: "The shell command has a syntax error."}
	}

	path := filepath.Join(env.TempDir, scriptPrefix+env.NewID()+".sh")
	if err := os.WriteFile(path, []byte("#!/usr/bin/env bash\n"+cmd+"\n"), 0o700); err != nil {
		return Outcome{Suggestion: fmt.Sprintf("The shell command has a syntax error, could not rewrite it as a script: %s", err)}
	}

	params := copyParams(in.Params)
	params["command"] = "bash " + path
	return Outcome{
		Healed:         true,
		Retry:          true,
		Message:        fmt.Sprintf("rewrote command into script %s", path),
		ModifiedParams: params,
		ModifiedTool:   "run_command",
		Cleanup:        func() { _ = os.Remove(path) },
	}
}

func stringParam(params map[string]any, name string) string {
	s, _ := params[name].(string)
	return s
}

func copyParams(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func contains(s []string, v string) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}
