package discovery

import "context"

// #region noop
// noopBackend is the graceful-degradation path: no advertisement, an empty
// stream, never an error.
type noopBackend struct{}

func (noopBackend) Name() string { return "noop" }

func (noopBackend) Advertise(ctx context.Context, ad Advertisement) error { return nil }

func (noopBackend) Scan(ctx context.Context, found chan<- PeerHandle) error {
	<-ctx.Done()
	return nil
}

func (noopBackend) Close() error { return nil }

// #endregion noop
