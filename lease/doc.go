// Package lease provides scoped, recallable ownership of a shared resource.
//
// A Manager hands out Lease values wrapping a resource. Holders read the
// resource through Value, which fails fast once the lease is no longer valid:
//
//   - ErrExpired: the holder closed the lease, or its time limit passed
//   - ErrTerminated: the manager recalled it (RecallAll)
//
// RecallAll is called right before a destructive operation on the resource,
// such as closing an index writer or deleting its files. After it returns,
// no outstanding lease yields the resource any more.
//
//	mgr := lease.NewManager[*engine.Writer]()
//	l := mgr.Create(w)
//	defer l.Close()
//	w, err := l.Value()
//	if errors.Is(err, lease.ErrTerminated) {
//	    // resource was recalled; abort this operation
//	}
package lease
