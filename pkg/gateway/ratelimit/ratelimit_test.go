package ratelimit

import (
	"testing"
	"time"
)

func TestAcquireStream_CapsPerUser(t *testing.T) {
	l := New(Config{MaxConcurrentStreams: 1})
	now := time.Now()

	first := l.AcquireStream(UserKey("u1"), now)
	if !first.Allowed || first.Permit == nil {
		t.Fatalf("first allowed=%v permit=%v", first.Allowed, first.Permit)
	}
	if second := l.AcquireStream(UserKey("u1"), now); second.Allowed || second.RetryAfter != 1 {
		t.Fatalf("second stream: allowed=%v retry_after=%d", second.Allowed, second.RetryAfter)
	}
	if other := l.AcquireStream(UserKey("u2"), now); !other.Allowed {
		t.Fatalf("another user has its own cap")
	}

	first.Permit.Release()
	first.Permit.Release()
	if again := l.AcquireStream(UserKey("u1"), now); !again.Allowed {
		t.Fatalf("stream should be admitted after release")
	}
	// A double release must not have freed a second slot.
	if extra := l.AcquireStream(UserKey("u1"), now); extra.Allowed {
		t.Fatalf("double release freed an extra slot")
	}
}

func TestAcquireRequest_BucketRefills(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 2})
	now := time.Now()
	key := IPKey("10.0.0.1")

	for i := 0; i < 2; i++ {
		if dec := l.AcquireRequest(key, now); !dec.Allowed {
			t.Fatalf("request %d within burst refused", i)
		}
	}
	dec := l.AcquireRequest(key, now)
	if dec.Allowed || dec.RetryAfter != 1 {
		t.Fatalf("over burst: allowed=%v retry_after=%d", dec.Allowed, dec.RetryAfter)
	}
	if dec := l.AcquireRequest(key, now.Add(time.Second)); !dec.Allowed {
		t.Fatalf("token should refill after a second")
	}
}

func TestAcquireRequest_ConcurrencyRefusalKeepsTokens(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 1, MaxConcurrentRequests: 1})
	now := time.Now()
	key := UserKey("u1")

	held := l.AcquireRequest(key, now)
	if !held.Allowed {
		t.Fatalf("first request refused")
	}
	later := now.Add(time.Second)
	if dec := l.AcquireRequest(key, later); dec.Allowed {
		t.Fatalf("second concurrent request admitted")
	}
	held.Permit.Release()
	if dec := l.AcquireRequest(key, later); !dec.Allowed {
		t.Fatalf("refused concurrent request spent the refilled token")
	}
}

func TestBeginTurn_OnePerSession(t *testing.T) {
	l := New(Config{})

	first := l.BeginTurn("s1")
	if !first.Allowed {
		t.Fatalf("first turn refused")
	}
	if dec := l.BeginTurn("s1"); dec.Allowed || dec.RetryAfter != 1 {
		t.Fatalf("overlapping turn: allowed=%v retry_after=%d", dec.Allowed, dec.RetryAfter)
	}
	if dec := l.BeginTurn("s2"); !dec.Allowed {
		t.Fatalf("other session refused")
	}
	first.Permit.Release()
	if dec := l.BeginTurn("s1"); !dec.Allowed {
		t.Fatalf("turn refused after release")
	}
}

func TestNilLimiterAdmitsEverything(t *testing.T) {
	var l *Limiter
	for _, dec := range []Decision{
		l.AcquireRequest("k", time.Now()),
		l.AcquireStream("k", time.Now()),
		l.BeginTurn("s1"),
		l.BeginTurn("s1"),
	} {
		if !dec.Allowed {
			t.Fatalf("nil limiter refused %+v", dec)
		}
		dec.Permit.Release()
	}
}

func TestCallerTable_KeepsCallersHoldingPermits(t *testing.T) {
	l := New(Config{MaxConcurrentStreams: 1, MaxCallers: 2, IdleTTL: time.Minute})
	now := time.Now()

	busy := l.AcquireStream(UserKey("busy"), now)
	l.AcquireRequest(UserKey("idle"), now).Permit.Release()
	// The table is full; adding a third caller must evict "idle", not "busy".
	l.AcquireRequest(UserKey("new"), now.Add(time.Second)).Permit.Release()

	if _, ok := l.callers[UserKey("busy")]; !ok {
		t.Fatalf("caller holding a stream was evicted")
	}
	if _, ok := l.callers[UserKey("idle")]; ok {
		t.Fatalf("idle caller survived eviction")
	}
	if dec := l.AcquireStream(UserKey("busy"), now); dec.Allowed {
		t.Fatalf("stream cap lost after eviction pass")
	}
	busy.Permit.Release()
}
