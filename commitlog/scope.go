package commitlog

import "sync"

var (
	scopesMu sync.Mutex
	scopes   = map[string]*sync.Mutex{}
)

// AcquireScope serializes operations over one state/town subtree of the
// log. The returned release is idempotent and must run on every exit path;
// callers defer it immediately.
func AcquireScope(scope string) (release func()) {
	scopesMu.Lock()
	mu, ok := scopes[scope]
	if !ok {
		mu = &sync.Mutex{}
		scopes[scope] = mu
	}
	scopesMu.Unlock()

	mu.Lock()
	var once sync.Once
	return func() {
		once.Do(mu.Unlock)
	}
}
