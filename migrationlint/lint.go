package migrationlint

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// changeLog mirrors the small slice of the Liquibase changelog schema the
// lint rules care about: the root logicalFilePath attribute and each
// changeSet's id/author.
type changeLog struct {
	XMLName         xml.Name    `xml:"databaseChangeLog"`
	LogicalFilePath string      `xml:"logicalFilePath,attr"`
	ChangeSets      []changeSet `xml:"changeSet"`
}

type changeSet struct {
	ID     string `xml:"id,attr"`
	Author string `xml:"author,attr"`
}

// Violation is one rule failure found in one file.
type Violation struct {
	File    string
	Rule    string
	Message string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s: %s", v.File, v.Rule, v.Message)
}

// authorPattern is the allowed author character class.
var authorPattern = regexp.MustCompile(`^[-_ A-Za-z0-9]+$`)

// nonLetterNonHyphenPrefix is the run of characters at the start of s that
// are neither an ASCII letter nor a hyphen, e.g. "001" out of "001-create"
// or "" out of "create_users".
var nonLetterNonHyphenPrefix = regexp.MustCompile(`^[^A-Za-z-]*`)

func prefixOf(s string) string {
	return nonLetterNonHyphenPrefix.FindString(s)
}

// LintFile parses path as a Liquibase changelog and returns every rule
// violation it finds. A malformed XML document is itself reported as one
// violation rather than returned as a Go error, so a caller linting many
// files can still produce one combined report; only an unreadable file
// surfaces a real error.
func LintFile(path string) ([]Violation, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("migrationlint: cannot read %s: %w", path, err)
	}

	base := filepath.Base(path)

	var doc changeLog
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return []Violation{{File: base, Rule: "well-formed", Message: err.Error()}}, nil
	}

	var violations []Violation

	if doc.LogicalFilePath != base {
		violations = append(violations, Violation{
			File:    base,
			Rule:    "logicalFilePath",
			Message: fmt.Sprintf("logicalFilePath %q must equal file name %q", doc.LogicalFilePath, base),
		})
	}

	fileStem := strings.TrimSuffix(base, filepath.Ext(base))
	filePrefix := prefixOf(fileStem)

	for i, cs := range doc.ChangeSets {
		label := fmt.Sprintf("changeSet[%d]", i)

		if cs.ID == "" {
			violations = append(violations, Violation{File: base, Rule: "id", Message: label + " has an empty id"})
		}
		if cs.Author == "" {
			violations = append(violations, Violation{File: base, Rule: "author", Message: label + " has an empty author"})
		}
		if cs.Author != "" && !authorPattern.MatchString(cs.Author) {
			violations = append(violations, Violation{
				File:    base,
				Rule:    "author",
				Message: fmt.Sprintf("%s author %q must match [-_ A-Za-z0-9]+", label, cs.Author),
			})
		}
		if cs.ID != "" {
			idPrefix := prefixOf(cs.ID)
			if !strings.HasPrefix(filePrefix, idPrefix) {
				violations = append(violations, Violation{
					File: base,
					Rule: "id-prefix",
					Message: fmt.Sprintf("%s id %q's leading prefix %q is not a prefix of file prefix %q",
						label, cs.ID, idPrefix, filePrefix),
				})
			}
		}
	}

	return violations, nil
}

// LintFiles runs LintFile over every path and returns every violation
// found, in path order, plus the first read error encountered (linting
// continues past a malformed document but stops at an unreadable file).
func LintFiles(paths []string) ([]Violation, error) {
	var all []Violation
	for _, p := range paths {
		v, err := LintFile(p)
		if err != nil {
			return all, err
		}
		all = append(all, v...)
	}
	return all, nil
}

// LintDir lints every *.xml file directly inside dir (non-recursive,
// matching a typical flat Liquibase changelog directory).
func LintDir(dir string) ([]Violation, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("migrationlint: cannot read directory %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".xml" {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return LintFiles(paths)
}
