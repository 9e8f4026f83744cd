package commitlog

// Option configures a Store.
type Option func(*Store)

// WithDryRun makes every mutating store operation log what it would have
// done and return synthetic results, without touching either repository.
func WithDryRun() Option {
	return func(s *Store) { s.dryRun = true }
}
