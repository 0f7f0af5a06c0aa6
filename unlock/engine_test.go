package unlock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openziti/unlock-automation/unlock/pattern"
	"github.com/openziti/unlock-automation/unlock/policy"
	"github.com/stretchr/testify/require"
)

type pinStore struct {
	pin     string
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
	done    chan struct{}
}

func newPinStore(pin string) *pinStore {
	return &pinStore{
		pin:     pin,
		entered: make(chan struct{}, 16),
		done:    make(chan struct{}, 16),
	}
}

func (self *pinStore) Verify(ctx context.Context, candidate string, _ string) (bool, error) {
	self.calls.Add(1)
	defer func() { self.done <- struct{}{} }()
	self.entered <- struct{}{}
	if self.release != nil {
		select {
		case <-self.release:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return candidate == self.pin, nil
}

func (self *pinStore) await(t *testing.T, c chan struct{}) {
	select {
	case <-c:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for credential store")
	}
}

func quickConfig() EngineConfig {
	cfg := DefaultEngineConfig()
	cfg.QuickUnlock = true
	return cfg
}

func TestQuickUnlock(t *testing.T) {
	t.Run("typing the stored pin dismisses once", func(t *testing.T) {
		req := require.New(t)
		store := newPinStore("1234")
		h := newHarness(t, quickConfig(), plainSecured, store)

		unlocked := make(chan *QuickUnlockEvent, 1)
		h.engine.AddListener(EventQuickUnlock, func(data ...interface{}) {
			unlocked <- data[0].(*QuickUnlockEvent)
		})

		for _, entry := range []string{"1", "12", "123", "1234"} {
			h.engine.OnCredentialAppended(entry, "entry-1")
		}

		req.Equal("entry-1", h.awaitMatch(t))

		dismissed, confirmations, collapsed := h.sink.counts()
		req.Equal(1, dismissed)
		req.Equal(0, confirmations)
		req.Equal(0, collapsed)
		req.Equal(int32(1), store.calls.Load(), "only the full length entry reaches the store")

		h.sink.Lock()
		req.Equal([]string{"entry-1"}, h.sink.reports)
		h.sink.Unlock()

		event := <-unlocked
		req.Equal("entry-1", event.SessionId)
	})

	t.Run("a short entry never reaches the store", func(t *testing.T) {
		req := require.New(t)
		store := newPinStore("1234")
		h := newHarness(t, quickConfig(), plainSecured, store)

		h.engine.OnCredentialAppended("123", "entry-1")
		h.engine.OnCredentialAppended("12345", "entry-1")
		h.flush(t)

		req.Equal(int32(0), store.calls.Load())
	})

	t.Run("a wrong pin is verified and ignored", func(t *testing.T) {
		req := require.New(t)
		store := newPinStore("1234")
		h := newHarness(t, quickConfig(), plainSecured, store)

		h.engine.OnCredentialAppended("9999", "entry-1")
		store.await(t, store.done)
		h.flush(t)

		req.Equal(int32(1), store.calls.Load())
		req.Empty(h.livenessChecks)
		dismissed, confirmations, collapsed := h.sink.counts()
		req.Zero(dismissed + confirmations + collapsed)
	})

	t.Run("a configured pin length replaces the default", func(t *testing.T) {
		req := require.New(t)
		store := newPinStore("123456")
		cfg := quickConfig()
		cfg.PinLength = 6
		h := newHarness(t, cfg, plainSecured, store)

		h.engine.OnCredentialAppended("1234", "entry-1")
		h.engine.OnCredentialAppended("123456", "entry-1")
		h.awaitMatch(t)

		req.Equal(int32(1), store.calls.Load())
		dismissed, _, _ := h.sink.counts()
		req.Equal(1, dismissed)
	})

	t.Run("quick unlock disabled ignores every entry", func(t *testing.T) {
		req := require.New(t)
		store := newPinStore("1234")
		h := newHarness(t, DefaultEngineConfig(), plainSecured, store)

		h.engine.OnCredentialAppended("1234", "entry-1")
		h.flush(t)

		req.Equal(int32(0), store.calls.Load())
	})

	t.Run("without a credential store entries are ignored", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, quickConfig(), plainSecured, nil)

		h.engine.OnCredentialAppended("1234", "entry-1")
		h.flush(t)

		dismissed, _, _ := h.sink.counts()
		req.Equal(0, dismissed)
	})

	t.Run("a match for a destroyed entry view is dropped", func(t *testing.T) {
		req := require.New(t)
		store := newPinStore("1234")
		h := newHarness(t, quickConfig(), plainSecured, store)
		h.sessionGone.Store(true)

		h.engine.OnCredentialAppended("1234", "entry-1")
		h.awaitMatch(t)

		dismissed, _, _ := h.sink.counts()
		req.Equal(0, dismissed)
	})

	t.Run("a match that completes after screen off is dropped", func(t *testing.T) {
		req := require.New(t)
		store := newPinStore("1234")
		store.release = make(chan struct{})
		h := newHarness(t, quickConfig(), plainSecured, store)

		h.engine.OnCredentialAppended("1234", "entry-1")
		store.await(t, store.entered)

		h.engine.OnScreenOff()
		close(store.release)
		h.awaitMatch(t)

		dismissed, _, _ := h.sink.counts()
		req.Equal(0, dismissed)
		req.Equal(uint64(1), h.engine.Inspect().CredentialEpoch)
	})

	t.Run("a failing sink is survived", func(t *testing.T) {
		req := require.New(t)
		store := newPinStore("1234")
		h := newHarness(t, quickConfig(), plainSecured, store)
		h.sink.panicMsg = "lock surface detached"

		h.engine.OnCredentialAppended("1234", "entry-1")
		h.awaitMatch(t)

		h.sink.Lock()
		h.sink.panicMsg = ""
		h.sink.Unlock()

		h.engine.OnCredentialAppended("1234", "entry-2")
		h.awaitMatch(t)

		dismissed, _, _ := h.sink.counts()
		req.Equal(1, dismissed)
	})
}

type fakePatternView struct {
	mode    pattern.DisplayMode
	stealth bool
}

func (self *fakePatternView) DisplayMode() pattern.DisplayMode     { return self.mode }
func (self *fakePatternView) SetDisplayMode(m pattern.DisplayMode) { self.mode = m }
func (self *fakePatternView) InStealthMode() bool                  { return self.stealth }
func (self *fakePatternView) SetInStealthMode(stealth bool)        { self.stealth = stealth }

func TestDrawPattern(t *testing.T) {
	t.Run("a wrong pattern is drawn as correct when errors are hidden", func(t *testing.T) {
		req := require.New(t)
		cfg := DefaultEngineConfig()
		cfg.HidePatternError = true
		h := newHarness(t, cfg, plainSecured, nil)

		view := &fakePatternView{mode: pattern.Wrong}
		drawn := false
		h.engine.DrawPattern(view, func() {
			drawn = true
			req.Equal(pattern.Correct, view.mode)
			req.True(view.stealth)
			req.True(h.engine.Inspect().PatternOverrideActive)
		})

		req.True(drawn)
		req.Equal(pattern.Wrong, view.mode)
		req.False(view.stealth)
		req.False(h.engine.Inspect().PatternOverrideActive)
	})

	t.Run("the surface is untouched when errors are shown", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, DefaultEngineConfig(), plainSecured, nil)

		view := &fakePatternView{mode: pattern.Wrong}
		h.engine.DrawPattern(view, func() {
			req.Equal(pattern.Wrong, view.mode)
			req.False(view.stealth)
		})
		req.Equal(pattern.Wrong, view.mode)
	})
}

func TestInspect(t *testing.T) {
	req := require.New(t)
	cfg := directConfig(SeeThrough, policy.RequireNoClearableNotifications)
	cfg.QuickUnlock = true
	h := newHarness(t, cfg, plainSecured, nil)

	h.engine.OnScreenOff()
	h.engine.OnScreenOn()

	result := h.engine.Inspect()
	req.Equal(h.engine.Id(), result.EngineId)
	req.Equal(Version, result.Version)
	req.False(result.Closed)
	req.True(result.Initialized)
	req.False(result.TrustListenerRegistered)
	req.Equal("SeeThrough", result.Config.DirectMode)
	req.Equal("RequireNoClearableNotifications", result.Config.DirectPolicy)
	req.True(result.Config.QuickUnlock)
	req.Equal(DefaultPinLength, result.Config.PinLength)
	req.Equal("300ms", result.Config.DirectDelay)
	req.Len(result.Triggers, 2)

	direct := result.Trigger("direct")
	req.NotNil(direct)
	req.True(direct.Armed)
	req.NotNil(direct.FireAt)
	req.Equal(uint64(1), direct.Generation)
	req.Equal("RequireNoClearableNotifications", direct.Policy)

	smart := result.Trigger("smart")
	req.NotNil(smart)
	req.False(smart.Armed)
	req.Nil(smart.FireAt)
	req.Equal("AlwaysAllowed", smart.Policy)

	req.Nil(result.Trigger("unknown"))
}
