package engine

import (
	"bufio"
	"os"
	"strings"
)

// Known failure signatures on the engine's error channel, mapped to a
// single user-facing message. Raw diagnostics stay in server logs.
var knownFailures = []struct {
	signature string
	message   string
}{
	{"no results after filtering", "No results after filtering. Try relaxing the thresholds and re-run."},
	{"insufficient overlap", "Insufficient overlap between your genes and the selected gene sets."},
}

// GenericFailureMessage is used when the engine fails without a
// recognizable signature
const GenericFailureMessage = "Analysis failed. Check your input file and parameters."

// NormalizeFailure maps raw engine diagnostics to a user-facing message
func NormalizeFailure(stderr, stdout string) string {
	diag := strings.ToLower(stderr)
	if strings.TrimSpace(diag) == "" {
		diag = strings.ToLower(stdout)
	}
	for _, f := range knownFailures {
		if strings.Contains(diag, f.signature) {
			return f.message
		}
	}
	return GenericFailureMessage
}

// ParseSummary reads a key=value warnings sidecar produced by the
// engine. Warnings are reportable but never fail the job; a missing or
// unreadable sidecar yields an empty map.
func ParseSummary(path string) map[string]string {
	out := make(map[string]string)
	if path == "" {
		return out
	}
	f, err := os.Open(path)
	if err != nil {
		return out
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out
}
