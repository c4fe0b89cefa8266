package scheduler

type futureState int

const (
	statePending futureState = iota
	stateFulfilled
	stateRejected
)

// ResolveFunc settles a future with a value. If the value is itself a
// *Future, the outer future adopts its eventual state.
type ResolveFunc func(v any)

// RejectFunc settles a future with an error.
type RejectFunc func(err error)

// Continuation callbacks return the next value in the chain. A non-nil
// error rejects the derived future; a *Future value is adopted.
type callback struct {
	onFulfilled func(v any) (any, error)
	onRejected  func(err error) (any, error)
	next        *Future
}

// Future is a one-shot settling cell in the style of a JS promise. All
// continuations run as microtasks on the owning loop, in attachment order.
type Future struct {
	loop      *Loop
	state     futureState
	value     any
	err       error
	resolving bool
	callbacks []callback
	handled   bool
	reported  bool
}

// NewFuture creates a pending future plus its resolve and reject functions.
// Only the first settle call has any effect.
func (l *Loop) NewFuture() (*Future, ResolveFunc, RejectFunc) {
	f := &Future{loop: l}
	return f, f.resolve, f.reject
}

// Resolved creates a future already fulfilled with v.
func (l *Loop) Resolved(v any) *Future {
	f, resolve, _ := l.NewFuture()
	resolve(v)
	return f
}

// Rejected creates a future already rejected with err.
func (l *Loop) Rejected(err error) *Future {
	f, _, reject := l.NewFuture()
	reject(err)
	return f
}

func (f *Future) resolve(v any) {
	if f.state != statePending || f.resolving {
		return
	}
	if inner, ok := v.(*Future); ok {
		// Adopt the inner future's eventual state. The cell stays pending
		// but stops accepting direct settles.
		f.resolving = true
		inner.Then(
			func(v any) (any, error) {
				f.settle(stateFulfilled, v, nil)
				return nil, nil
			},
			func(err error) (any, error) {
				f.settle(stateRejected, nil, err)
				return nil, nil
			},
		)
		return
	}
	f.settle(stateFulfilled, v, nil)
}

func (f *Future) reject(err error) {
	if f.state != statePending || f.resolving {
		return
	}
	f.settle(stateRejected, nil, err)
}

func (f *Future) settle(s futureState, v any, err error) {
	if f.state != statePending {
		return
	}
	f.state = s
	f.value = v
	f.err = err
	if s == stateRejected {
		f.loop.noteRejection(f)
	}
	cbs := f.callbacks
	f.callbacks = nil
	for _, cb := range cbs {
		f.scheduleDispatch(cb)
	}
}

// Then attaches fulfillment and rejection continuations and returns the
// derived future. Either callback may be nil, in which case the settled
// value or error passes through to the derived future unchanged.
func (f *Future) Then(onFulfilled func(v any) (any, error), onRejected func(err error) (any, error)) *Future {
	derived := &Future{loop: f.loop}
	cb := callback{onFulfilled: onFulfilled, onRejected: onRejected, next: derived}
	f.handled = true
	if f.state == statePending {
		f.callbacks = append(f.callbacks, cb)
	} else {
		f.scheduleDispatch(cb)
	}
	return derived
}

// Catch attaches only a rejection continuation.
func (f *Future) Catch(onRejected func(err error) (any, error)) *Future {
	return f.Then(nil, onRejected)
}

func (f *Future) scheduleDispatch(cb callback) {
	f.loop.Schedule(func() {
		switch f.state {
		case stateFulfilled:
			if cb.onFulfilled == nil {
				cb.next.resolve(f.value)
				return
			}
			v, err := cb.onFulfilled(f.value)
			if err != nil {
				cb.next.reject(err)
				return
			}
			cb.next.resolve(v)
		case stateRejected:
			if cb.onRejected == nil {
				cb.next.reject(f.err)
				return
			}
			v, err := cb.onRejected(f.err)
			if err != nil {
				cb.next.reject(err)
				return
			}
			cb.next.resolve(v)
		}
	})
}

// Settled reports whether the future has been fulfilled or rejected.
func (f *Future) Settled() bool {
	return f.state != statePending
}

// Value returns the fulfillment value, or nil while pending or rejected.
func (f *Future) Value() any {
	if f.state != stateFulfilled {
		return nil
	}
	return f.value
}

// Err returns the rejection error, or nil while pending or fulfilled.
func (f *Future) Err() error {
	if f.state != stateRejected {
		return nil
	}
	return f.err
}
