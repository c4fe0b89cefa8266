package scheduler

// All waits for every future to fulfill and resolves with their values in
// input order. It rejects as soon as any input rejects; the remaining
// inputs keep running, their results discarded.
func All(l *Loop, futures ...*Future) *Future {
	result, resolve, reject := l.NewFuture()
	if len(futures) == 0 {
		resolve([]any{})
		return result
	}

	values := make([]any, len(futures))
	remaining := len(futures)
	done := false

	for i, f := range futures {
		i := i
		f.Then(
			func(v any) (any, error) {
				if done {
					return nil, nil
				}
				values[i] = v
				remaining--
				if remaining == 0 {
					done = true
					resolve(values)
				}
				return nil, nil
			},
			func(err error) (any, error) {
				if !done {
					done = true
					reject(err)
				}
				return nil, nil
			},
		)
	}
	return result
}

// Race settles with the first input to settle, success or failure. Losers
// are not cancelled; they stay resolvable.
func Race(l *Loop, futures ...*Future) *Future {
	result, resolve, reject := l.NewFuture()
	done := false

	for _, f := range futures {
		f.Then(
			func(v any) (any, error) {
				if !done {
					done = true
					resolve(v)
				}
				return nil, nil
			},
			func(err error) (any, error) {
				if !done {
					done = true
					reject(err)
				}
				return nil, nil
			},
		)
	}
	return result
}
