// Package worker implements the dedicated delegator thread described in
// spec.md §4.4: a single goroutine with a one-slot mailbox that the
// prepare path hands off to once its call-depth budget is exhausted
// (spec.md §4.2, "stack room remaining" reinterpreted for Go as a
// call-depth counter, since Go goroutine stacks grow dynamically and
// expose no "bytes remaining" figure to check against).
package worker

import (
	"log"
	"sync"
)

// RequestType distinguishes the mailbox's message kinds.
type RequestType int

const (
	// RequestPrepare asks the worker to run Handler on behalf of a
	// caller whose own call-depth budget has been exhausted.
	RequestPrepare RequestType = iota
	// RequestShutdown causes the worker's loop to exit.
	RequestShutdown
)

// request is the one-slot mailbox entry (spec.md §4.4: "{type,
// arguments, response-slot, done-flag}").
type request struct {
	kind RequestType
	arg  any

	result any
	err    error
	done   bool
}

// Handler is called by the worker goroutine for each RequestPrepare; it
// must not itself attempt re-delegation (spec.md §4.4: "the worker calls
// back into the prepare path with a from-worker flag set").
type Handler func(arg any) (any, error)

// Delegator owns the mailbox and its dedicated goroutine.
type Delegator struct {
	mu           sync.Mutex
	requestReady *sync.Cond
	responseReady *sync.Cond

	pending *request
	handler Handler

	shutdown bool
}

// Start launches the worker goroutine and returns the delegator handle.
// handler is invoked once per RequestPrepare message.
func Start(handler Handler) *Delegator {
	d := &Delegator{handler: handler}
	d.requestReady = sync.NewCond(&d.mu)
	d.responseReady = sync.NewCond(&d.mu)
	go d.loop()
	return d
}

// loop is the dedicated worker thread's body (spec.md §4.4).
func (d *Delegator) loop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		for d.pending == nil {
			d.requestReady.Wait()
		}
		req := d.pending

		if req.kind == RequestShutdown {
			req.done = true
			d.pending = nil
			d.responseReady.Broadcast()
			return
		}

		d.mu.Unlock()
		result, err := d.handler(req.arg)
		d.mu.Lock()

		req.result = result
		req.err = err
		req.done = true
		d.pending = nil
		d.responseReady.Broadcast()
	}
}

// Delegate hands arg to the worker and blocks until it has been
// processed (spec.md §4.4: "the caller fills in the request, signals,
// and waits for done"). Only one delegation is in flight at a time —
// Delegate blocks if the mailbox is already occupied.
func (d *Delegator) Delegate(arg any) (any, error) {
	d.mu.Lock()
	for d.pending != nil {
		d.responseReady.Wait()
	}
	req := &request{kind: RequestPrepare, arg: arg}
	d.pending = req
	d.requestReady.Signal()

	for !req.done {
		d.responseReady.Wait()
	}
	d.mu.Unlock()
	return req.result, req.err
}

// Shutdown asks the worker to exit its loop and waits for it to do so.
func (d *Delegator) Shutdown() {
	d.mu.Lock()
	if d.shutdown {
		d.mu.Unlock()
		return
	}
	d.shutdown = true
	for d.pending != nil {
		d.responseReady.Wait()
	}
	req := &request{kind: RequestShutdown}
	d.pending = req
	d.requestReady.Signal()
	for !req.done {
		d.responseReady.Wait()
	}
	d.mu.Unlock()
	log.Printf("[Worker] delegator shut down")
}
