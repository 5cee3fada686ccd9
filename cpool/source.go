package cpool

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/singleflight"
)

var log = commonlog.GetLogger("tiercomp.cpool")

// ClassSource supplies linked classes to a resolver.
type ClassSource interface {
	// Find returns an already loaded class, or nil. It never loads.
	Find(name string) *Class
	// Load returns the named class, loading and linking it if needed.
	Load(name string) (*Class, error)
}

// ---------------------------------------------------------------------------
// Universe: closed world
// ---------------------------------------------------------------------------

// Universe is a closed set of classes known ahead of time. It is immutable
// after construction, so Find and Load never change state.
type Universe struct {
	classes map[string]*Class
}

// NewUniverse links the given classes against each other.
func NewUniverse(classes ...*Class) (*Universe, error) {
	u := &Universe{classes: make(map[string]*Class, len(classes))}
	for _, c := range classes {
		if _, dup := u.classes[c.Name]; dup {
			return nil, fmt.Errorf("cpool: duplicate class %s in universe", c.Name)
		}
		u.classes[c.Name] = c
	}
	for _, c := range classes {
		if err := u.link(c, map[string]bool{}); err != nil {
			return nil, err
		}
	}
	log.Debugf("universe linked: %d classes", len(classes))
	return u, nil
}

func (u *Universe) link(c *Class, seen map[string]bool) error {
	if seen[c.Name] {
		return &ResolutionError{Kind: ClassCircularity, Name: c.Name}
	}
	seen[c.Name] = true
	defer delete(seen, c.Name)
	return c.Link(func(name string) (*Class, error) {
		s, ok := u.classes[name]
		if !ok {
			return nil, &ResolutionError{Kind: NoClassDefFound, Name: name, Detail: "required by " + c.Name}
		}
		if err := u.link(s, seen); err != nil {
			return nil, err
		}
		return s, nil
	})
}

func (u *Universe) Find(name string) *Class {
	return u.classes[name]
}

func (u *Universe) Load(name string) (*Class, error) {
	if c, ok := u.classes[name]; ok {
		return c, nil
	}
	return nil, &ResolutionError{Kind: NoClassDefFound, Name: name, Detail: "not in closed world"}
}

// Classes returns the classes of the universe in no particular order.
func (u *Universe) Classes() []*Class {
	out := make([]*Class, 0, len(u.classes))
	for _, c := range u.classes {
		out = append(out, c)
	}
	return out
}

// ---------------------------------------------------------------------------
// Loader: dynamic loading
// ---------------------------------------------------------------------------

// LoadFunc defines a class from its name, typically by reading a class file.
// The returned class is unlinked.
type LoadFunc func(name string) (*Class, error)

// Loader loads classes on demand. Concurrent loads of the same class are
// collapsed into one; listeners registered with OnLoad see every class once.
type Loader struct {
	define LoadFunc

	mu        sync.RWMutex
	classes   map[string]*Class
	listeners []func(*Class)

	group singleflight.Group
}

// NewLoader creates a loader. Bootstrap classes are linked immediately and do
// not trigger listeners.
func NewLoader(define LoadFunc, bootstrap ...*Class) (*Loader, error) {
	l := &Loader{define: define, classes: make(map[string]*Class)}
	if len(bootstrap) > 0 {
		u, err := NewUniverse(bootstrap...)
		if err != nil {
			return nil, err
		}
		for _, c := range u.classes {
			l.classes[c.Name] = c
		}
	}
	return l, nil
}

// OnLoad registers fn to be called after each newly loaded class is linked.
// fn runs on the loading goroutine and must not block on compilation.
func (l *Loader) OnLoad(fn func(*Class)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

func (l *Loader) Find(name string) *Class {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.classes[name]
}

func (l *Loader) Load(name string) (*Class, error) {
	if c := l.Find(name); c != nil {
		return c, nil
	}
	v, err, _ := l.group.Do(name, func() (any, error) {
		return l.load(name, map[string]bool{})
	})
	if err != nil {
		return nil, err
	}
	return v.(*Class), nil
}

// load defines and links name. Superclasses are loaded on the same goroutine
// without going through the singleflight group, so a circular hierarchy is
// reported instead of deadlocking.
func (l *Loader) load(name string, seen map[string]bool) (*Class, error) {
	if c := l.Find(name); c != nil {
		return c, nil
	}
	if seen[name] {
		return nil, &ResolutionError{Kind: ClassCircularity, Name: name}
	}
	seen[name] = true
	defer delete(seen, name)

	if l.define == nil {
		return nil, &ResolutionError{Kind: NoClassDefFound, Name: name, Detail: "loader has no class definitions"}
	}
	c, err := l.define(name)
	if err != nil {
		var re *ResolutionError
		if errors.As(err, &re) {
			return nil, err
		}
		return nil, &ResolutionError{Kind: NoClassDefFound, Name: name, Err: err}
	}
	if c.Name != name {
		return nil, &ResolutionError{Kind: NoClassDefFound, Name: name, Detail: "definition names " + c.Name}
	}
	if err := c.Link(func(super string) (*Class, error) { return l.load(super, seen) }); err != nil {
		return nil, err
	}

	l.mu.Lock()
	if existing := l.classes[name]; existing != nil {
		l.mu.Unlock()
		return existing, nil
	}
	l.classes[name] = c
	listeners := slices.Clone(l.listeners)
	l.mu.Unlock()

	log.Debugf("loaded class %s", name)
	for _, fn := range listeners {
		fn(c)
	}
	return c, nil
}

// Loaded returns the number of loaded classes.
func (l *Loader) Loaded() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.classes)
}
