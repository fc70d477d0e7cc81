// Package pgconfig is the typed configuration layer pkg/di builds a
// decorator chain from: pool sizing, the Impatient timeout and its
// exemptions, Retry's attempt budget, and Stash's full Config. It loads
// from the same YAML shape pgwire.YAMLFile reads, with an environment
// variable able to override the connection URL for deployments that
// inject secrets outside the checked-in file, and it can emit that same
// shape back out, matching the compatibility format a pool-provisioning
// task is documented to write.
package pgconfig
