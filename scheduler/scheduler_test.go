package scheduler

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestLoop_FIFOOrder(t *testing.T) {
	loop := NewLoop()
	var order []int

	loop.Schedule(func() {
		order = append(order, 1)
		// Tasks enqueued during a drain run after the current batch.
		loop.Schedule(func() { order = append(order, 3) })
	})
	loop.Schedule(func() { order = append(order, 2) })
	loop.Drain()

	if !reflect.DeepEqual(order, []int{1, 2, 3}) {
		t.Errorf("expected order [1 2 3], got %v", order)
	}
}

func TestFuture_ThenRunsAsMicrotask(t *testing.T) {
	loop := NewLoop()
	f, resolve, _ := loop.NewFuture()

	ran := false
	f.Then(func(v any) (any, error) {
		ran = true
		return nil, nil
	}, nil)

	resolve("value")
	if ran {
		t.Fatal("continuation ran synchronously on resolve")
	}
	loop.Drain()
	if !ran {
		t.Fatal("continuation did not run during drain")
	}
}

func TestFuture_AttachmentOrder(t *testing.T) {
	loop := NewLoop()
	f, resolve, _ := loop.NewFuture()

	var order []string
	f.Then(func(v any) (any, error) { order = append(order, "a"); return nil, nil }, nil)
	f.Then(func(v any) (any, error) { order = append(order, "b"); return nil, nil }, nil)
	f.Then(func(v any) (any, error) { order = append(order, "c"); return nil, nil }, nil)

	resolve(nil)
	loop.Drain()

	if !reflect.DeepEqual(order, []string{"a", "b", "c"}) {
		t.Errorf("expected attachment order, got %v", order)
	}
}

func TestFuture_Chaining(t *testing.T) {
	loop := NewLoop()
	f, resolve, _ := loop.NewFuture()

	var got any
	f.Then(func(v any) (any, error) {
		return v.(int) + 1, nil
	}, nil).Then(func(v any) (any, error) {
		return v.(int) * 10, nil
	}, nil).Then(func(v any) (any, error) {
		got = v
		return nil, nil
	}, nil)

	resolve(1)
	loop.Drain()

	if got != 20 {
		t.Errorf("expected 20, got %v", got)
	}
}

func TestFuture_CallbackErrorRejectsDerived(t *testing.T) {
	loop := NewLoop()
	f, resolve, _ := loop.NewFuture()

	var caught error
	f.Then(func(v any) (any, error) {
		return nil, errors.New("boom")
	}, nil).Catch(func(err error) (any, error) {
		caught = err
		return nil, nil
	})

	resolve(nil)
	loop.Drain()

	if caught == nil || caught.Error() != "boom" {
		t.Errorf("expected boom, got %v", caught)
	}
}

func TestFuture_RejectionPassesThroughNilHandler(t *testing.T) {
	loop := NewLoop()
	f, _, reject := loop.NewFuture()

	var caught error
	f.Then(func(v any) (any, error) {
		t.Error("fulfillment continuation ran on rejected future")
		return nil, nil
	}, nil).Catch(func(err error) (any, error) {
		caught = err
		return nil, nil
	})

	reject(errors.New("failure"))
	loop.Drain()

	if caught == nil || caught.Error() != "failure" {
		t.Errorf("expected failure to propagate, got %v", caught)
	}
}

func TestFuture_ResolveAdoptsInnerFuture(t *testing.T) {
	loop := NewLoop()
	outer, resolve, _ := loop.NewFuture()
	inner, resolveInner, _ := loop.NewFuture()

	var got any
	outer.Then(func(v any) (any, error) {
		got = v
		return nil, nil
	}, nil)

	resolve(inner)
	loop.Drain()
	if outer.Settled() {
		t.Fatal("outer settled before inner")
	}

	resolveInner("inner-value")
	loop.Drain()
	if got != "inner-value" {
		t.Errorf("expected inner-value, got %v", got)
	}
}

func TestFuture_FirstSettleWins(t *testing.T) {
	loop := NewLoop()
	f, resolve, reject := loop.NewFuture()

	resolve("first")
	resolve("second")
	reject(errors.New("late"))
	loop.Drain()

	if f.Err() != nil {
		t.Errorf("late reject overrode resolve: %v", f.Err())
	}
	if f.Value() != "first" {
		t.Errorf("expected first, got %v", f.Value())
	}
}

func TestAll_ResolvesInInputOrder(t *testing.T) {
	loop := NewLoop()
	a, resolveA, _ := loop.NewFuture()
	b, resolveB, _ := loop.NewFuture()
	c, resolveC, _ := loop.NewFuture()

	var got []any
	All(loop, a, b, c).Then(func(v any) (any, error) {
		got = v.([]any)
		return nil, nil
	}, nil)

	// Settle out of order; results must follow input order.
	resolveC(3)
	resolveA(1)
	resolveB(2)
	loop.Drain()

	if !reflect.DeepEqual(got, []any{1, 2, 3}) {
		t.Errorf("expected [1 2 3], got %v", got)
	}
}

func TestAll_RejectsEagerly(t *testing.T) {
	loop := NewLoop()
	a, _, rejectA := loop.NewFuture()
	b, _, _ := loop.NewFuture()

	var caught error
	All(loop, a, b).Catch(func(err error) (any, error) {
		caught = err
		return nil, nil
	})

	rejectA(errors.New("first failure"))
	loop.Drain()

	if caught == nil || caught.Error() != "first failure" {
		t.Errorf("expected eager rejection, got %v", caught)
	}
	if b.Settled() {
		t.Error("losing participant was settled")
	}
}

func TestAll_Empty(t *testing.T) {
	loop := NewLoop()

	var got []any
	All(loop).Then(func(v any) (any, error) {
		got = v.([]any)
		return nil, nil
	}, nil)
	loop.Drain()

	if got == nil || len(got) != 0 {
		t.Errorf("expected empty result slice, got %v", got)
	}
}

func TestRace_FirstSettleWins(t *testing.T) {
	loop := NewLoop()
	a, resolveA, _ := loop.NewFuture()
	b, _, _ := loop.NewFuture()

	var got any
	Race(loop, a, b).Then(func(v any) (any, error) {
		got = v
		return nil, nil
	}, nil)

	resolveA("winner")
	loop.Drain()

	if got != "winner" {
		t.Errorf("expected winner, got %v", got)
	}
	if b.Settled() {
		t.Error("race loser was settled")
	}
}

func TestRace_RejectionWins(t *testing.T) {
	loop := NewLoop()
	a, _, rejectA := loop.NewFuture()
	b, _, _ := loop.NewFuture()

	var caught error
	Race(loop, a, b).Catch(func(err error) (any, error) {
		caught = err
		return nil, nil
	})

	rejectA(errors.New("fast failure"))
	loop.Drain()

	if caught == nil || caught.Error() != "fast failure" {
		t.Errorf("expected fast failure, got %v", caught)
	}
}

func TestRace_LoserStaysResolvable(t *testing.T) {
	loop := NewLoop()
	a, resolveA, _ := loop.NewFuture()
	b, resolveB, _ := loop.NewFuture()

	Race(loop, a, b)
	resolveA("winner")
	loop.Drain()

	resolveB("late")
	loop.Drain()

	if b.Value() != "late" {
		t.Errorf("loser future lost its value: %v", b.Value())
	}
}

func TestUnhandledRejection_Reported(t *testing.T) {
	loop := NewLoop()
	var reported []error
	loop.SetUnhandledRejectionHandler(func(err error) {
		reported = append(reported, err)
	})

	loop.Rejected(errors.New("unobserved"))
	loop.Drain()

	if len(reported) != 1 || reported[0].Error() != "unobserved" {
		t.Errorf("expected one unobserved rejection, got %v", reported)
	}

	// A second drain must not re-report.
	loop.Drain()
	if len(reported) != 1 {
		t.Errorf("rejection reported twice: %v", reported)
	}
}

func TestUnhandledRejection_HandledNotReported(t *testing.T) {
	loop := NewLoop()
	var reported []error
	loop.SetUnhandledRejectionHandler(func(err error) {
		reported = append(reported, err)
	})

	loop.Rejected(errors.New("observed")).Catch(func(err error) (any, error) {
		return nil, nil
	})
	loop.Drain()

	if len(reported) != 0 {
		t.Errorf("handled rejection was reported: %v", reported)
	}
}

func TestUnhandledRejection_LeafOfChainReported(t *testing.T) {
	loop := NewLoop()
	var reported []error
	loop.SetUnhandledRejectionHandler(func(err error) {
		reported = append(reported, err)
	})

	// No rejection handler anywhere in the chain: the rejection propagates
	// to the leaf, which is the future that gets reported.
	loop.Rejected(errors.New("leaf")).Then(func(v any) (any, error) {
		return nil, nil
	}, nil)
	loop.Drain()

	if len(reported) != 1 || reported[0].Error() != "leaf" {
		t.Errorf("expected leaf rejection report, got %v", reported)
	}
}

func TestDrain_Deterministic(t *testing.T) {
	run := func() []string {
		loop := NewLoop()
		var order []string
		a, resolveA, _ := loop.NewFuture()
		b, resolveB, _ := loop.NewFuture()

		a.Then(func(v any) (any, error) {
			order = append(order, fmt.Sprintf("a=%v", v))
			return nil, nil
		}, nil)
		b.Then(func(v any) (any, error) {
			order = append(order, fmt.Sprintf("b=%v", v))
			return nil, nil
		}, nil)

		resolveB(2)
		resolveA(1)
		loop.Drain()
		return order
	}

	first := run()
	for i := 0; i < 10; i++ {
		if got := run(); !reflect.DeepEqual(got, first) {
			t.Fatalf("drain order diverged: %v vs %v", first, got)
		}
	}
}
