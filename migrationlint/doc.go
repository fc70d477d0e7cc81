// Package migrationlint validates Liquibase-style migration changelog
// files: a changelog's logicalFilePath must match its own basename, and
// every changeSet must carry a well-formed id and author consistent with
// the file name. It is
// pure validation over an XML document already on disk — booting
// PostgreSQL, invoking the migration runner itself, and dumping schema
// with pg_dump remain outside this package.
package migrationlint
