// See executor.go for the Executor contract and errors.go for the error
// taxonomy shared by pgpool and every decorator package.
package pgexec
