package protocol

import (
	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// Args are the named arguments of a request. Iteration and encoding follow insertion order.
type Args struct {
	m *linkedhashmap.Map
}

func NewArgs() *Args {
	return &Args{m: linkedhashmap.New()}
}

// ArgsOf builds Args from alternating key, value pairs.
func ArgsOf(kvs ...interface{}) *Args {
	if len(kvs)%2 != 0 {
		panic("ArgsOf requires key, value pairs")
	}
	a := NewArgs()
	for i := 0; i < len(kvs); i += 2 {
		a.Put(kvs[i].(string), kvs[i+1])
	}
	return a
}

func (a *Args) Put(key string, value interface{}) *Args {
	a.m.Put(key, value)
	return a
}

func (a *Args) Get(key string) (interface{}, bool) {
	return a.m.Get(key)
}

func (a *Args) GetString(key string) (string, bool) {
	v, ok := a.m.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (a *Args) Contains(key string) bool {
	_, ok := a.m.Get(key)
	return ok
}

func (a *Args) Len() int {
	return a.m.Size()
}

func (a *Args) Keys() []string {
	keys := make([]string, 0, a.m.Size())
	for _, k := range a.m.Keys() {
		keys = append(keys, k.(string))
	}
	return keys
}

// Each calls f for every argument in insertion order, stopping if f returns false.
func (a *Args) Each(f func(key string, value interface{}) bool) {
	it := a.m.Iterator()
	for it.Next() {
		if !f(it.Key().(string), it.Value()) {
			return
		}
	}
}

// Copy is shallow: values are shared with the original.
func (a *Args) Copy() *Args {
	c := NewArgs()
	a.Each(func(key string, value interface{}) bool {
		c.Put(key, value)
		return true
	})
	return c
}

func (a *Args) MarshalJSON() ([]byte, error) {
	return a.m.ToJSON()
}
