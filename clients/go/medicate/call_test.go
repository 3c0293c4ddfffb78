package medicate

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeMedia struct {
	mu         sync.Mutex
	acquired   bool
	video      bool
	closed     bool
	candidates []string
	muted      bool
	videoOn    bool

	acquireErr error
	offerErr   error
}

func (m *fakeMedia) Acquire(video bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireErr != nil {
		return m.acquireErr
	}
	m.acquired = true
	m.video = video
	return nil
}

func (m *fakeMedia) CreateOffer() (json.RawMessage, error) {
	if m.offerErr != nil {
		return nil, m.offerErr
	}
	return json.RawMessage(`{"type":"offer"}`), nil
}

func (m *fakeMedia) CreateAnswer(offer json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"type":"answer"}`), nil
}

func (m *fakeMedia) SetRemoteAnswer(answer json.RawMessage) error { return nil }

func (m *fakeMedia) AddRemoteCandidate(candidate json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = append(m.candidates, string(candidate))
	return nil
}

func (m *fakeMedia) SetMuted(muted bool)          { m.mu.Lock(); m.muted = muted; m.mu.Unlock() }
func (m *fakeMedia) SetVideoEnabled(enabled bool) { m.mu.Lock(); m.videoOn = enabled; m.mu.Unlock() }
func (m *fakeMedia) Close()                       { m.mu.Lock(); m.closed = true; m.mu.Unlock() }

func (m *fakeMedia) candidateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.candidates)
}

type sentFrame struct {
	kind   string
	to     string
	callID string
}

type fakeSignaler struct {
	mu     sync.Mutex
	frames []sentFrame
}

func (s *fakeSignaler) record(kind, to, callID string) {
	s.mu.Lock()
	s.frames = append(s.frames, sentFrame{kind: kind, to: to, callID: callID})
	s.mu.Unlock()
}

func (s *fakeSignaler) SendCallOffer(to, callID, callType string, offer json.RawMessage) error {
	s.record("offer", to, callID)
	return nil
}

func (s *fakeSignaler) SendCallAnswer(to, callID string, answer json.RawMessage) error {
	s.record("answer", to, callID)
	return nil
}

func (s *fakeSignaler) SendIceCandidate(to, callID string, candidate json.RawMessage) error {
	s.record("candidate", to, callID)
	return nil
}

func (s *fakeSignaler) SendCallEnd(to, callID string) error {
	s.record("end", to, callID)
	return nil
}

func (s *fakeSignaler) sent(kind string) []sentFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentFrame
	for _, f := range s.frames {
		if f.kind == kind {
			out = append(out, f)
		}
	}
	return out
}

func newTestMachine(cfg CallConfig) (*CallMachine, *fakeMedia, *fakeSignaler) {
	media := &fakeMedia{}
	sig := &fakeSignaler{}
	return NewCallMachine(media, sig, cfg), media, sig
}

func TestInitiateCallReachesRinging(t *testing.T) {
	m, media, sig := newTestMachine(CallConfig{AutoAccept: true})

	if err := m.InitiateCall("patient-1", "video"); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if got := m.State(); got != CallRinging {
		t.Fatalf("expected ringing, got %s", got)
	}
	if !media.acquired || !media.video {
		t.Fatal("video capture should be acquired before the offer")
	}

	offers := sig.sent("offer")
	if len(offers) != 1 || offers[0].to != "patient-1" {
		t.Fatalf("unexpected offers: %+v", offers)
	}
	if offers[0].callID != m.CallID() {
		t.Fatal("sent offer should carry the machine's call id")
	}
}

func TestSecondInitiateRejectedWhileBusy(t *testing.T) {
	m, _, _ := newTestMachine(DefaultCallConfig())

	if err := m.InitiateCall("patient-1", "audio"); err != nil {
		t.Fatal(err)
	}
	if err := m.InitiateCall("patient-2", "audio"); !errors.Is(err, ErrCallInProgress) {
		t.Fatalf("expected ErrCallInProgress, got %v", err)
	}
}

func TestAnswerActivatesAndFlushesBufferedCandidates(t *testing.T) {
	m, media, _ := newTestMachine(CallConfig{AutoAccept: true})

	if err := m.InitiateCall("patient-1", "audio"); err != nil {
		t.Fatal(err)
	}
	callID := m.CallID()

	// Candidates arriving before the answer must be buffered, not dropped.
	m.HandleRemoteCandidate(callID, json.RawMessage(`{"candidate":"c1"}`))
	m.HandleRemoteCandidate(callID, json.RawMessage(`{"candidate":"c2"}`))
	if media.candidateCount() != 0 {
		t.Fatal("candidates applied before the remote description was set")
	}

	m.HandleAnswer(callID, json.RawMessage(`{"type":"answer"}`))

	if got := m.State(); got != CallActive {
		t.Fatalf("expected active, got %s", got)
	}
	if media.candidateCount() != 2 {
		t.Fatalf("expected 2 flushed candidates, got %d", media.candidateCount())
	}

	// Later candidates apply directly.
	m.HandleRemoteCandidate(callID, json.RawMessage(`{"candidate":"c3"}`))
	if media.candidateCount() != 3 {
		t.Fatalf("expected 3 candidates, got %d", media.candidateCount())
	}
}

func TestAnswerForStaleCallIgnored(t *testing.T) {
	m, _, _ := newTestMachine(CallConfig{AutoAccept: true})

	if err := m.InitiateCall("patient-1", "audio"); err != nil {
		t.Fatal(err)
	}
	m.HandleAnswer("some-other-call", json.RawMessage(`{"type":"answer"}`))
	if got := m.State(); got != CallRinging {
		t.Fatalf("stale answer must be ignored, state is %s", got)
	}
}

func TestIncomingOfferAutoAccepted(t *testing.T) {
	m, media, sig := newTestMachine(CallConfig{AutoAccept: true})

	var states []CallState
	var mu sync.Mutex
	m.OnStateChange(func(s CallState, _ EndReason) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	m.HandleOffer("dr-smith", "call-1", "audio", json.RawMessage(`{"type":"offer"}`))

	if got := m.State(); got != CallActive {
		t.Fatalf("expected active after auto-accept, got %s", got)
	}
	if !media.acquired || media.video {
		t.Fatal("audio-only capture should be acquired")
	}
	answers := sig.sent("answer")
	if len(answers) != 1 || answers[0].to != "dr-smith" || answers[0].callID != "call-1" {
		t.Fatalf("unexpected answers: %+v", answers)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 || states[0] != CallIncoming || states[len(states)-1] != CallActive {
		t.Fatalf("unexpected transition trace: %v", states)
	}
}

func TestIncomingOfferParkedWithoutAutoAccept(t *testing.T) {
	m, media, sig := newTestMachine(CallConfig{AutoAccept: false})

	m.HandleOffer("dr-smith", "call-1", "video", json.RawMessage(`{"type":"offer"}`))
	if got := m.State(); got != CallIncoming {
		t.Fatalf("expected incoming, got %s", got)
	}
	if media.acquired {
		t.Fatal("media must not be acquired before the user accepts")
	}

	if err := m.Accept(); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := m.State(); got != CallActive {
		t.Fatalf("expected active, got %s", got)
	}
	if len(sig.sent("answer")) != 1 {
		t.Fatal("expected one answer after accept")
	}
}

func TestRejectIncomingCall(t *testing.T) {
	m, _, sig := newTestMachine(CallConfig{AutoAccept: false})

	m.HandleOffer("dr-smith", "call-1", "audio", json.RawMessage(`{"type":"offer"}`))
	if err := m.Reject(); err != nil {
		t.Fatalf("reject: %v", err)
	}

	if got := m.State(); got != CallEnded {
		t.Fatalf("expected ended, got %s", got)
	}
	if got := m.Reason(); got != ReasonRejected {
		t.Fatalf("expected rejected reason, got %s", got)
	}
	ends := sig.sent("end")
	if len(ends) != 1 || ends[0].to != "dr-smith" {
		t.Fatalf("peer should be told about the rejection: %+v", ends)
	}
}

func TestOfferIgnoredWhileBusy(t *testing.T) {
	m, _, sig := newTestMachine(CallConfig{AutoAccept: true})

	if err := m.InitiateCall("patient-1", "audio"); err != nil {
		t.Fatal(err)
	}
	m.HandleOffer("patient-2", "call-2", "audio", json.RawMessage(`{"type":"offer"}`))

	if got := m.State(); got != CallRinging {
		t.Fatalf("second offer must be ignored, state is %s", got)
	}
	if len(sig.sent("answer")) != 0 {
		t.Fatal("no answer may be sent for an ignored offer")
	}
}

func TestMediaFailureEndsCall(t *testing.T) {
	m, media, _ := newTestMachine(DefaultCallConfig())
	media.acquireErr = errors.New("permission denied")

	if err := m.InitiateCall("patient-1", "video"); err == nil {
		t.Fatal("expected error from failed capture")
	}
	if got := m.State(); got != CallEnded {
		t.Fatalf("expected ended, got %s", got)
	}
	if got := m.Reason(); got != ReasonMediaError {
		t.Fatalf("expected media error reason, got %s", got)
	}
	if !media.closed {
		t.Fatal("media session should be closed on teardown")
	}
}

func TestCallFailedWhileRinging(t *testing.T) {
	m, _, _ := newTestMachine(CallConfig{AutoAccept: true})

	if err := m.InitiateCall("patient-1", "audio"); err != nil {
		t.Fatal(err)
	}
	m.HandleCallFailed("Receiver is offline.")

	if got := m.State(); got != CallEnded {
		t.Fatalf("expected ended, got %s", got)
	}
	if got := m.Reason(); got != ReasonUnavailable {
		t.Fatalf("expected unavailable reason, got %s", got)
	}
}

func TestCallFailedIgnoredWhenIdle(t *testing.T) {
	m, _, _ := newTestMachine(DefaultCallConfig())

	m.HandleCallFailed("Receiver is offline.")
	if got := m.State(); got != CallIdle {
		t.Fatalf("expected idle, got %s", got)
	}
}

func TestRemoteHangupEndsCall(t *testing.T) {
	m, media, _ := newTestMachine(CallConfig{AutoAccept: true})

	m.HandleOffer("dr-smith", "call-1", "audio", json.RawMessage(`{"type":"offer"}`))
	m.HandleRemoteEnd("call-1")

	if got := m.State(); got != CallEnded {
		t.Fatalf("expected ended, got %s", got)
	}
	if got := m.Reason(); got != ReasonRemoteHangup {
		t.Fatalf("expected remote hangup reason, got %s", got)
	}
	if !media.closed {
		t.Fatal("media session should be closed")
	}
}

func TestLocalHangupSendsCallEnd(t *testing.T) {
	m, _, sig := newTestMachine(CallConfig{AutoAccept: true})

	if err := m.InitiateCall("patient-1", "audio"); err != nil {
		t.Fatal(err)
	}
	m.EndCall()

	if got := m.Reason(); got != ReasonLocalHangup {
		t.Fatalf("expected local hangup reason, got %s", got)
	}
	ends := sig.sent("end")
	if len(ends) != 1 || ends[0].to != "patient-1" {
		t.Fatalf("expected one call_end to the peer, got %+v", ends)
	}

	// Hanging up twice is a no-op.
	m.EndCall()
	if len(sig.sent("end")) != 1 {
		t.Fatal("repeated hangup must not re-signal")
	}
}

func TestRingTimeout(t *testing.T) {
	m, _, sig := newTestMachine(CallConfig{AutoAccept: true, RingTimeout: 30 * time.Millisecond})

	done := make(chan struct{})
	m.OnStateChange(func(s CallState, r EndReason) {
		if s == CallEnded {
			close(done)
		}
	})

	if err := m.InitiateCall("patient-1", "audio"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ring timeout never fired")
	}

	if got := m.Reason(); got != ReasonNoAnswer {
		t.Fatalf("expected no-answer reason, got %s", got)
	}
	if len(sig.sent("end")) != 1 {
		t.Fatal("timed-out call should signal call_end to the peer")
	}
}

func TestAnswerStopsRingTimer(t *testing.T) {
	m, _, _ := newTestMachine(CallConfig{AutoAccept: true, RingTimeout: 40 * time.Millisecond})

	if err := m.InitiateCall("patient-1", "audio"); err != nil {
		t.Fatal(err)
	}
	m.HandleAnswer(m.CallID(), json.RawMessage(`{"type":"answer"}`))

	time.Sleep(80 * time.Millisecond)
	if got := m.State(); got != CallActive {
		t.Fatalf("answered call must survive the ring timeout, got %s", got)
	}
}

func TestTogglesRequireActiveCall(t *testing.T) {
	m, media, _ := newTestMachine(CallConfig{AutoAccept: true})

	if _, err := m.ToggleMute(); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}

	m.HandleOffer("dr-smith", "call-1", "video", json.RawMessage(`{"type":"offer"}`))

	muted, err := m.ToggleMute()
	if err != nil || !muted {
		t.Fatalf("first toggle should mute: %v %v", muted, err)
	}
	if !media.muted {
		t.Fatal("mute not propagated to the media session")
	}
	muted, err = m.ToggleMute()
	if err != nil || muted {
		t.Fatalf("second toggle should unmute: %v %v", muted, err)
	}

	enabled, err := m.ToggleVideo()
	if err != nil || enabled {
		t.Fatalf("first video toggle should disable: %v %v", enabled, err)
	}
}

func TestResetReturnsToIdle(t *testing.T) {
	m, _, _ := newTestMachine(CallConfig{AutoAccept: true})

	m.HandleOffer("dr-smith", "call-1", "audio", json.RawMessage(`{"type":"offer"}`))
	m.EndCall()
	m.Reset()

	if got := m.State(); got != CallIdle {
		t.Fatalf("expected idle after reset, got %s", got)
	}
	if got := m.CallID(); got != "" {
		t.Fatalf("call id should be cleared, got %q", got)
	}

	// The machine can take a new call after reset.
	if err := m.InitiateCall("patient-2", "audio"); err != nil {
		t.Fatalf("initiate after reset: %v", err)
	}
}
