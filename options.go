package waynefs

// Option configures a Filesystem at Mount time.
type Option func(fs *Filesystem) error

// WithMountID overrides the randomly generated mount-instance
// identifier used in log lines, primarily so tests get deterministic
// output instead of a fresh uuid every run.
func WithMountID(id string) Option {
	return func(fs *Filesystem) error {
		fs.mountID = id
		return nil
	}
}

// WithoutDentryCache disables the path resolver's name cache, so
// every lookup re-walks the directory tree. Useful for tests that
// want to exercise the resolver itself rather than the cache.
func WithoutDentryCache() Option {
	return func(fs *Filesystem) error {
		fs.resolver.disableCache = true
		return nil
	}
}
