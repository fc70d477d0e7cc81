package migrationlint

import (
	"fmt"
	"io"
	"os"
)

// Report writes one line per violation to w, in the order LintFiles or
// LintDir produced them.
func Report(w io.Writer, violations []Violation) {
	for _, v := range violations {
		fmt.Fprintln(w, v.String())
	}
}

// Run lints every path (a file or a directory) and writes a human-readable
// report to out. It returns 1 if any violation was found or any path
// could not be read, 0 otherwise, matching the exit code a CLI wrapper
// should surface.
func Run(paths []string, out io.Writer) int {
	var all []Violation
	status := 0

	for _, p := range paths {
		violations, err := lintPath(p)
		if err != nil {
			fmt.Fprintln(out, err)
			status = 1
			continue
		}
		all = append(all, violations...)
	}

	if len(all) > 0 {
		Report(out, all)
		status = 1
	}

	return status
}

func lintPath(path string) ([]Violation, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("migrationlint: cannot stat %s: %w", path, err)
	}
	if info.IsDir() {
		return LintDir(path)
	}
	return LintFile(path)
}
