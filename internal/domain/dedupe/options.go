package dedupe

// Option applies a configuration option to the deduper.
type Option func(*window)

// WithMaxSize sets how many ids are remembered. Values below 1 keep the
// default.
func WithMaxSize(maxSize int) Option {
	return func(w *window) {
		if maxSize > 0 {
			w.max = maxSize
		}
	}
}
