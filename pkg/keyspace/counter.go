package keyspace

import (
	"github.com/puzpuzpuz/xsync/v2"
)

// Operation names reported by Counts.
const (
	OpGet         = "get"
	OpSet         = "set"
	OpIncr        = "incr"
	OpDecr        = "decr"
	OpDel         = "del"
	OpPublish     = "publish"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
)

var trackedOps = []string{OpGet, OpSet, OpIncr, OpDecr, OpDel, OpPublish, OpSubscribe, OpUnsubscribe}

// Counter tracks how many times each operation completed successfully.
// Batch calls count once.
type Counter struct {
	counts *xsync.MapOf[string, *xsync.Counter]
}

func NewCounter() *Counter {
	c := &Counter{counts: xsync.NewMapOf[*xsync.Counter]()}
	for _, op := range trackedOps {
		c.counts.Store(op, xsync.NewCounter())
	}
	return c
}

func (c *Counter) Inc(op string) {
	counter, _ := c.counts.LoadOrCompute(op, xsync.NewCounter)
	counter.Inc()
}

// Snapshot returns the current count of every operation, including those
// never invoked.
func (c *Counter) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(trackedOps))
	c.counts.Range(func(op string, counter *xsync.Counter) bool {
		out[op] = counter.Value()
		return true
	})
	return out
}

func (c *Counter) Reset() {
	c.counts.Range(func(_ string, counter *xsync.Counter) bool {
		counter.Reset()
		return true
	})
}
