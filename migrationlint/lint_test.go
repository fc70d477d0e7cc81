package migrationlint

import (
	"os"
	"path/filepath"
	"testing"
)

func writeChangelog(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("unexpected error writing fixture: %v", err)
	}
	return path
}

func TestLintFileAcceptsWellFormedChangelog(t *testing.T) {
	dir := t.TempDir()
	path := writeChangelog(t, dir, "001-create-authors.xml", `
<databaseChangeLog logicalFilePath="001-create-authors.xml">
  <changeSet id="001-create-authors-table" author="nora">
    <createTable tableName="authors"/>
  </changeSet>
</databaseChangeLog>
`)

	violations, err := LintFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("expected no violations, got %v", violations)
	}
}

func TestLintFileFlagsMismatchedLogicalFilePath(t *testing.T) {
	dir := t.TempDir()
	path := writeChangelog(t, dir, "002-add-bio.xml", `
<databaseChangeLog logicalFilePath="wrong-name.xml">
  <changeSet id="002-add-bio" author="nora"/>
</databaseChangeLog>
`)

	violations, err := LintFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasRule(violations, "logicalFilePath") {
		t.Fatalf("expected a logicalFilePath violation, got %v", violations)
	}
}

func TestLintFileFlagsEmptyIDAndAuthor(t *testing.T) {
	dir := t.TempDir()
	path := writeChangelog(t, dir, "003-rename.xml", `
<databaseChangeLog logicalFilePath="003-rename.xml">
  <changeSet id="" author=""/>
</databaseChangeLog>
`)

	violations, err := LintFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasRule(violations, "id") {
		t.Fatalf("expected an id violation, got %v", violations)
	}
	if !hasRule(violations, "author") {
		t.Fatalf("expected an author violation, got %v", violations)
	}
}

func TestLintFileFlagsMalformedAuthor(t *testing.T) {
	dir := t.TempDir()
	path := writeChangelog(t, dir, "004-index.xml", `
<databaseChangeLog logicalFilePath="004-index.xml">
  <changeSet id="004-index" author="nora@example.com"/>
</databaseChangeLog>
`)

	violations, err := LintFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasRule(violations, "author") {
		t.Fatalf("expected an author violation, got %v", violations)
	}
}

func TestLintFileFlagsIDPrefixMismatch(t *testing.T) {
	dir := t.TempDir()
	path := writeChangelog(t, dir, "005-drop-column.xml", `
<databaseChangeLog logicalFilePath="005-drop-column.xml">
  <changeSet id="099-drop-column" author="nora"/>
</databaseChangeLog>
`)

	violations, err := LintFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasRule(violations, "id-prefix") {
		t.Fatalf("expected an id-prefix violation, got %v", violations)
	}
}

func TestLintFileAllowsNonNumericPrefixesOnBothSides(t *testing.T) {
	dir := t.TempDir()
	path := writeChangelog(t, dir, "create_authors.xml", `
<databaseChangeLog logicalFilePath="create_authors.xml">
  <changeSet id="create-authors-table" author="nora"/>
</databaseChangeLog>
`)

	violations, err := LintFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("expected no violations for empty/empty prefixes, got %v", violations)
	}
}

func TestLintFileReportsMalformedXMLAsViolation(t *testing.T) {
	dir := t.TempDir()
	path := writeChangelog(t, dir, "006-broken.xml", `<databaseChangeLog logicalFilePath="006-broken.xml"><changeSet>`)

	violations, err := LintFile(path)
	if err != nil {
		t.Fatalf("expected a violation, not a Go error, for malformed XML: %v", err)
	}
	if !hasRule(violations, "well-formed") {
		t.Fatalf("expected a well-formed violation, got %v", violations)
	}
}

func TestLintFileMissingFileReturnsError(t *testing.T) {
	_, err := LintFile(filepath.Join(t.TempDir(), "missing.xml"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLintDirCollectsAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeChangelog(t, dir, "001-ok.xml", `
<databaseChangeLog logicalFilePath="001-ok.xml">
  <changeSet id="001-ok" author="nora"/>
</databaseChangeLog>
`)
	writeChangelog(t, dir, "002-bad.xml", `
<databaseChangeLog logicalFilePath="wrong.xml">
  <changeSet id="002-bad" author="nora"/>
</databaseChangeLog>
`)
	// A non-XML file in the same directory should be ignored.
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("notes"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	violations, err := LintDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasRule(violations, "logicalFilePath") {
		t.Fatalf("expected a logicalFilePath violation from 002-bad.xml, got %v", violations)
	}
	if len(violations) != 1 {
		t.Fatalf("expected exactly one violation across the directory, got %v", violations)
	}
}

func hasRule(violations []Violation, rule string) bool {
	for _, v := range violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}
