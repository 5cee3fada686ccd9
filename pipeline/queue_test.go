package pipeline

import (
	"errors"
	"testing"

	"github.com/chazu/tiercomp/asm"
	"github.com/chazu/tiercomp/cpool"
)

func TestQueueCompilesAndDedupes(t *testing.T) {
	f := newFixture(t)
	q := NewQueue(newCompiler(t, asm.ArchAMD64), 2, 10)
	defer q.Stop()

	reqs := []*Request{f.guarded(), f.loop(), f.subroutine()}
	for _, req := range reqs {
		ok, err := q.Enqueue(req)
		if err != nil || !ok {
			t.Fatalf("Enqueue(%s) = %v, %v", req.Key(), ok, err)
		}
	}
	if ok, err := q.Enqueue(f.loop()); ok || err != nil {
		t.Errorf("duplicate Enqueue = %v, %v, want false, nil", ok, err)
	}
	q.Drain()

	stats := q.Stats()
	if stats.Compiled != 2 || stats.Failed != 1 || stats.Dropped != 0 {
		t.Errorf("stats = %+v", stats)
	}
	results := q.Results()
	if len(results) != 3 {
		t.Fatalf("%d results, want 3", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i-1].Request.Key() >= results[i].Request.Key() {
			t.Errorf("results not ordered: %s before %s", results[i-1].Request.Key(), results[i].Request.Key())
		}
	}
	res, ok := q.Result(f.subroutine().Key())
	if !ok || !errors.Is(res.Err, ErrUnsupported) {
		t.Errorf("subroutine result = %+v", res)
	}
	if res, ok := q.Result(f.loop().Key()); !ok || res.Method == nil {
		t.Errorf("loop result = %+v", res)
	}
}

func TestQueueRejectsCycles(t *testing.T) {
	f := newFixture(t)
	q := NewQueue(newCompiler(t, asm.ArchAMD64), 1, 10)
	defer q.Stop()

	root := f.guarded()
	child := f.loop()
	child.Parent = root
	again := f.guarded()
	again.Parent = child

	_, err := q.Enqueue(again)
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("Enqueue error = %v, want ErrCycle", err)
	}
	want := "pipeline: dependent compilation cycle: demo/Point.guarded(I)I -> demo/Point.loop()V -> demo/Point.guarded(I)I"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err, want)
	}
	if ok, err := q.Enqueue(child); !ok || err != nil {
		t.Errorf("Enqueue(child) = %v, %v", ok, err)
	}
	q.Drain()
}

func TestQueueFull(t *testing.T) {
	f := newFixture(t)
	q := NewQueue(newCompiler(t, asm.ArchAMD64), 1, 1)
	defer q.Stop()

	started := make(chan struct{})
	release := make(chan struct{})
	q.OnResult = func(*Result) {
		select {
		case started <- struct{}{}:
			<-release
		default:
		}
	}

	if _, err := q.Enqueue(f.guarded()); err != nil {
		t.Fatal(err)
	}
	<-started // the only worker is now busy
	if _, err := q.Enqueue(f.loop()); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(f.constant()); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Enqueue error = %v, want ErrQueueFull", err)
	}
	close(release)
	q.Drain()

	if s := q.Stats(); s.Dropped != 1 || s.Compiled != 2 {
		t.Errorf("stats = %+v", s)
	}
	// A dropped request may be offered again.
	if ok, err := q.Enqueue(f.constant()); !ok || err != nil {
		t.Errorf("re-Enqueue = %v, %v", ok, err)
	}
	q.Drain()
}

func TestQueueStop(t *testing.T) {
	f := newFixture(t)
	q := NewQueue(newCompiler(t, asm.ArchAMD64), 1, 4)
	q.Stop()
	q.Stop()

	if _, err := q.Enqueue(f.loop()); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("Enqueue after Stop error = %v, want ErrQueueStopped", err)
	}
	q.Drain()
}

func TestQueueWatchLoader(t *testing.T) {
	f := newFixture(t)
	q := NewQueue(newCompiler(t, asm.ArchAMD64), 1, 4)
	defer q.Stop()

	classes := testClasses()
	defined := map[string]*cpool.Class{}
	for _, c := range classes[1:] {
		defined[c.Name] = c
	}
	loader, err := cpool.NewLoader(func(name string) (*cpool.Class, error) {
		if c, ok := defined[name]; ok {
			return c, nil
		}
		return nil, errors.New("no such class")
	}, classes[0])
	if err != nil {
		t.Fatal(err)
	}

	q.WatchLoader(loader, func(c *cpool.Class) []*Request {
		if c.Name != "demo/Point" {
			return nil
		}
		return []*Request{f.loop()}
	})
	if _, err := loader.Load("demo/Point"); err != nil {
		t.Fatal(err)
	}
	q.Drain()

	if res, ok := q.Result(f.loop().Key()); !ok || res.Err != nil {
		t.Errorf("loop result = %+v, %v", res, ok)
	}
}
