// Package event defines the diagnostic events exchanged between index
// components and a synchronous fan-out Bus to deliver them.
//
// The set of event kinds is closed: every type implementing Event lives in
// this package. Subscribers switch over the concrete type and ignore what
// they do not handle.
//
//	bus := event.NewBus()
//	unsubscribe := bus.Subscribe(func(ev event.Event) {
//	    switch e := ev.(type) {
//	    case event.CommitEvent:
//	        log.Println("committed", e.Generation)
//	    default:
//	    }
//	})
//	defer unsubscribe()
package event
