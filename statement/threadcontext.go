package statement

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/mevdschee/pgshim/pool"
	"github.com/mevdschee/pgshim/registry"
	"github.com/mevdschee/pgshim/resultcache"
	"github.com/mevdschee/pgshim/translator"
)

// ThreadContext bundles every per-OS-thread cache the engine keeps
// (spec.md §4.1, §4.5, §4.6, §4.3): the translation cache, the result
// cache, the recent-statement cache, and the pool acquisition hint. A
// cgo callback is pinned to its calling OS thread for the callback's
// duration, so unix.Gettid() is a valid, stable affinity key for the
// life of one call.
type ThreadContext struct {
	Tid int

	Translate *translator.Cache
	Results   *resultcache.Cache
	Recent    *registry.RecentStatementCache
	PoolHint  *pool.Hint

	// CallDepth tracks nested Prepare calls on this thread (e.g. a
	// trigger body or ATTACH statement prepared recursively while
	// already inside Prepare), replacing the embedded library's C
	// stack-room check (spec.md §4.2 step 3) with a bounded counter,
	// since Go exposes no equivalent "bytes of stack remaining" API.
	CallDepth int
}

func newThreadContext(tid int) *ThreadContext {
	return &ThreadContext{
		Tid:       tid,
		Translate: translator.NewCache(),
		Results:   resultcache.New(),
		Recent:    registry.NewRecentStatementCache(),
		PoolHint:  &pool.Hint{},
	}
}

// threadRegistry hands out one ThreadContext per OS thread, creating it
// on first use. sync.Map is the only synchronization involved — once a
// thread has its context, every cache inside it is lock-free (spec.md
// §5: "No lock needed for per-thread caches").
type threadRegistry struct {
	contexts sync.Map // int (tid) -> *ThreadContext
}

func (r *threadRegistry) current() *ThreadContext {
	tid := unix.Gettid()
	if v, ok := r.contexts.Load(tid); ok {
		return v.(*ThreadContext)
	}
	tc := newThreadContext(tid)
	actual, _ := r.contexts.LoadOrStore(tid, tc)
	return actual.(*ThreadContext)
}
