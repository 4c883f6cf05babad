package common

import (
	"sync"
	"sync/atomic"

	log "github.com/duckofyork/tinkerpop/logger"
)

var runningGRs int64

var grDebug atomic.Bool
var GRStacks sync.Map
var grStackSeq uint64

var namedCounts sync.Map

func SetGRDebug(debug bool) {
	grDebug.Store(debug)
}

// Go spawns a goroutine and keeps track of the number of running GRs, in total and per name.
// The driver names its connection read loops, write loops and request dispatchers so tests can check they all exit
// once a client or connection is closed.
// In debug mode it also stores creation stacks of all running goroutines. This can be used in debugging
// goroutine leaks
func Go(name string, f func()) {
	atomic.AddInt64(&runningGRs, 1)
	counter := namedCounter(name)
	atomic.AddInt64(counter, 1)
	var seq uint64
	if grDebug.Load() {
		stack := GetCurrentStack()
		seq = atomic.AddUint64(&grStackSeq, 1)
		GRStacks.Store(seq, name+"\n"+stack)
	}
	go func() {
		if grDebug.Load() {
			defer func() {
				GRStacks.Delete(seq)
			}()
		}
		defer atomic.AddInt64(&runningGRs, -1)
		defer atomic.AddInt64(counter, -1)
		f()
	}()
}

func namedCounter(name string) *int64 {
	c, ok := namedCounts.Load(name)
	if !ok {
		c, _ = namedCounts.LoadOrStore(name, new(int64))
	}
	return c.(*int64)
}

func RunningGRCount() int64 {
	return atomic.LoadInt64(&runningGRs)
}

func RunningGRCountByName(name string) int64 {
	return atomic.LoadInt64(namedCounter(name))
}

// DumpGRStacks logs the creation stacks of the goroutines still running. Stacks are only recorded once SetGRDebug
// has been called.
func DumpGRStacks() {
	log.Info("Dumping running goroutine creation stacks")
	GRStacks.Range(func(_, stack any) bool {
		log.Info(stack)
		log.Info("===============================================")
		return true
	})
	log.Info("End dump")
}
