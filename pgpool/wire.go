package pgpool

import "context"

// Wire is a factory that produces one fresh, live connection from some
// configuration source. Pool calls it once per slot on Start and again
// whenever a checked-out connection is found broken on return.
type Wire interface {
	Connection(ctx context.Context) (*Connection, error)
}
