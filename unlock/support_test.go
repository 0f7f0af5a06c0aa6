package unlock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openziti/unlock-automation/unlock/policy"
	"github.com/openziti/unlock-automation/unlock/trust"
	"github.com/openziti/unlock-automation/unlock/verify"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

// fakeTimers replaces time.AfterFunc so tests decide when delays elapse.
type fakeTimers struct {
	sync.Mutex
	timers []*fakeTimer
}

func (self *fakeTimers) after(d time.Duration, f func()) stopFunc {
	self.Lock()
	defer self.Unlock()
	timer := &fakeTimer{delay: d, f: f}
	self.timers = append(self.timers, timer)
	return func() bool {
		self.Lock()
		defer self.Unlock()
		if timer.stopped || timer.fired {
			return false
		}
		timer.stopped = true
		return true
	}
}

func (self *fakeTimers) created() []*fakeTimer {
	self.Lock()
	defer self.Unlock()
	return append([]*fakeTimer(nil), self.timers...)
}

func (self *fakeTimers) pending() int {
	self.Lock()
	defer self.Unlock()
	count := 0
	for _, t := range self.timers {
		if !t.stopped && !t.fired {
			count++
		}
	}
	return count
}

// elapse runs every timer that has not yet run. With includeStopped, stopped timers run as well, which is what
// happens when a timer expires just before it is stopped.
func (self *fakeTimers) elapse(includeStopped bool) {
	self.Lock()
	var due []*fakeTimer
	for _, t := range self.timers {
		if t.fired || (t.stopped && !includeStopped) {
			continue
		}
		t.fired = true
		due = append(due, t)
	}
	self.Unlock()

	for _, t := range due {
		t.f()
	}
}

type recordingSink struct {
	sync.Mutex
	dismissed     int
	confirmations int
	collapsed     int
	reports       []string
	err           error
	panicMsg      string
}

func (self *recordingSink) record(counter *int) error {
	self.Lock()
	defer self.Unlock()
	if self.panicMsg != "" {
		panic(self.panicMsg)
	}
	*counter++
	return self.err
}

func (self *recordingSink) Dismiss() error          { return self.record(&self.dismissed) }
func (self *recordingSink) ShowConfirmation() error { return self.record(&self.confirmations) }
func (self *recordingSink) Collapse() error         { return self.record(&self.collapsed) }

func (self *recordingSink) ReportUnlockAttempt(sessionId string, success bool) error {
	self.Lock()
	defer self.Unlock()
	if success {
		self.reports = append(self.reports, sessionId)
	}
	return nil
}

func (self *recordingSink) counts() (dismissed, confirmations, collapsed int) {
	self.Lock()
	defer self.Unlock()
	return self.dismissed, self.confirmations, self.collapsed
}

type notificationStack struct {
	sync.Mutex
	rows policy.Snapshot
}

func (self *notificationStack) Snapshot() (policy.Snapshot, error) {
	self.Lock()
	defer self.Unlock()
	return append(policy.Snapshot(nil), self.rows...), nil
}

type testHarness struct {
	engine        *Engine
	monitor       *trust.Monitor
	sink          *recordingSink
	timers        *fakeTimers
	notifications *notificationStack
	config        EngineConfig
	configLock    sync.Mutex
	configErr     error

	// livenessChecks receives the session id of every quick verification match handed back to the loop
	livenessChecks chan string
	sessionGone    atomic.Bool
}

func (self *testHarness) LoadEngineConfig() (EngineConfig, error) {
	self.configLock.Lock()
	defer self.configLock.Unlock()
	return self.config, self.configErr
}

func (self *testHarness) setConfig(cfg EngineConfig, err error) {
	self.configLock.Lock()
	defer self.configLock.Unlock()
	self.config = cfg
	self.configErr = err
}

// flush waits until every event posted so far has been handled.
func (self *testHarness) flush(t *testing.T) {
	require.True(t, self.engine.loop.call(func() {}))
}

func (self *testHarness) isLive(sessionId string) bool {
	self.livenessChecks <- sessionId
	return !self.sessionGone.Load()
}

// awaitMatch waits for a quick verification match to reach the loop, then for the loop to finish handling it.
func (self *testHarness) awaitMatch(t *testing.T) string {
	select {
	case sessionId := <-self.livenessChecks:
		self.flush(t)
		return sessionId
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for quick verification match")
		return ""
	}
}

func newHarness(t *testing.T, cfg EngineConfig, state trust.State, store verify.CredentialStore) *testHarness {
	h := &testHarness{
		monitor:       trust.NewMonitor(state),
		sink:          &recordingSink{},
		timers:        &fakeTimers{},
		notifications: &notificationStack{},
		config:        cfg,

		livenessChecks: make(chan string, 16),
	}

	engine, err := newEngine(Collaborators{
		Trust:         h.monitor,
		Notifications: h.notifications,
		Actions:       h.sink,
		Config:        h,
		Credentials:   store,
		Liveness:      verify.LivenessFunc(h.isLive),
	}, nil, h.timers.after)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	h.engine = engine
	return h
}

func smartConfig() EngineConfig {
	cfg := DefaultEngineConfig()
	cfg.SmartEnabled = true
	cfg.SmartPolicy = policy.AlwaysAllowed
	return cfg
}

func directConfig(mode UnlockMode, p policy.TriggerPolicy) EngineConfig {
	cfg := DefaultEngineConfig()
	cfg.DirectMode = mode
	cfg.DirectPolicy = p
	return cfg
}

var (
	trustedInsecure = trust.State{Secured: true, TrustManaged: true, Locked: false, Interactive: true}
	trustedLocked   = trust.State{Secured: true, TrustManaged: true, Locked: true, Interactive: true}
	plainSecured    = trust.State{Secured: true, TrustManaged: false, Locked: true, Interactive: true}
)
