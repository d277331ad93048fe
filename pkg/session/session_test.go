package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const role = "1461009685149782102"

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func TestStartEnd_Duration(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 1, 15, 17, 0, 0, 0, time.UTC)}
	c := New(role, WithClock(clk.now))

	st, err := c.Start([]string{"other", role}, "Officer")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st.ID == "" || st.StartedAt == nil || !st.StartedAt.Equal(clk.t) {
		t.Fatalf("unexpected state: %+v", st)
	}
	if !c.Attach(st.ID, "chan", "msg") {
		t.Fatal("Attach refused current session")
	}

	clk.t = clk.t.Add(3661 * time.Second)
	sum, err := c.End([]string{role})
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if !sum.Known || sum.Duration != 3661*time.Second {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.State.AnnouncementID != "msg" || sum.State.AnnouncementChannelID != "chan" {
		t.Fatalf("announcement not carried: %+v", sum.State)
	}
	if _, active := c.Current(); active {
		t.Fatal("session still active after End")
	}
}

func TestStart_Unauthorized(t *testing.T) {
	c := New(role)
	for _, roles := range [][]string{nil, {}, {"123"}} {
		if _, err := c.Start(roles, "nobody"); !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("roles=%v err=%v, want ErrPermissionDenied", roles, err)
		}
	}
	if st, active := c.Current(); active || st.ID != "" {
		t.Fatalf("state mutated: %+v active=%v", st, active)
	}
}

func TestEnd_UnauthorizedKeepsSession(t *testing.T) {
	c := New(role)
	st, _ := c.Start([]string{role}, "Officer")
	if _, err := c.End([]string{"x"}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v", err)
	}
	cur, active := c.Current()
	if !active || cur.ID != st.ID {
		t.Fatalf("session changed: %+v active=%v", cur, active)
	}
}

func TestEnd_Idle(t *testing.T) {
	c := New(role)
	for i := 0; i < 2; i++ {
		sum, err := c.End([]string{role})
		if err != nil {
			t.Fatalf("End #%d: %v", i, err)
		}
		if diff := cmp.Diff(Summary{}, sum); diff != "" {
			t.Fatalf("End #%d summary (-want +got):\n%s", i, diff)
		}
		if _, active := c.Current(); active {
			t.Fatal("idle End activated session")
		}
	}
}

func TestAttach_Stale(t *testing.T) {
	c := New(role)
	first, _ := c.Start([]string{role}, "a")
	second, _ := c.Start([]string{role}, "b")
	if c.Attach(first.ID, "c", "m1") {
		t.Fatal("Attach accepted superseded session")
	}
	if !c.Attach(second.ID, "c", "m2") {
		t.Fatal("Attach refused current session")
	}
	_, _ = c.End([]string{role})
	if c.Attach(second.ID, "c", "m3") {
		t.Fatal("Attach accepted ended session")
	}
}

func TestAuthorized_EmptyRole(t *testing.T) {
	c := New("")
	if c.Authorized([]string{""}) {
		t.Fatal("empty role id must not authorize")
	}
}

func TestConcurrentStartEnd(t *testing.T) {
	c := New(role)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			st, err := c.Start([]string{role}, "x")
			if err == nil {
				c.Attach(st.ID, "c", "m")
			}
		}()
		go func() {
			defer wg.Done()
			_, _ = c.End([]string{role})
		}()
	}
	wg.Wait()
	_, _ = c.End([]string{role})
	if st, active := c.Current(); active || st != (State{}) {
		t.Fatalf("state after final End: %+v", st)
	}
}
