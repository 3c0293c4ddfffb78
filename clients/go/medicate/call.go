package medicate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CallState is the phase of the per-conversation call machine. One tagged
// state replaces the scatter of booleans the UI would otherwise juggle.
type CallState int

const (
	// CallIdle: no call in progress.
	CallIdle CallState = iota
	// CallDialing: local media acquired, offer being created and sent.
	CallDialing
	// CallRinging: offer sent, waiting for the callee's answer.
	CallRinging
	// CallIncoming: a relayed offer is parked, waiting for accept or
	// reject (skipped entirely when auto-accept is on).
	CallIncoming
	// CallActive: both descriptions set, media flowing peer to peer.
	CallActive
	// CallEnded: torn down; Reset returns the machine to CallIdle.
	CallEnded
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallDialing:
		return "dialing"
	case CallRinging:
		return "ringing"
	case CallIncoming:
		return "incoming"
	case CallActive:
		return "active"
	case CallEnded:
		return "ended"
	}
	return fmt.Sprintf("CallState(%d)", int(s))
}

// EndReason records why a call reached CallEnded.
type EndReason int

const (
	ReasonNone EndReason = iota
	ReasonLocalHangup
	ReasonRemoteHangup
	ReasonRejected
	ReasonMediaError      // capture permission denied or device failure
	ReasonUnavailable     // relay reported the callee offline
	ReasonConnectionLost  // peer connection went disconnected/failed
	ReasonNoAnswer        // ring timeout elapsed
)

func (r EndReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonLocalHangup:
		return "local hangup"
	case ReasonRemoteHangup:
		return "remote hangup"
	case ReasonRejected:
		return "rejected"
	case ReasonMediaError:
		return "media error"
	case ReasonUnavailable:
		return "user unavailable"
	case ReasonConnectionLost:
		return "connection lost"
	case ReasonNoAnswer:
		return "no answer"
	}
	return fmt.Sprintf("EndReason(%d)", int(r))
}

// MediaSession abstracts local capture and the peer connection so the
// machine can be driven without devices. A WebRTC-backed implementation
// wires its negotiated ICE candidates back through the Signaler and its
// connection-state callback into HandleConnectionLost.
type MediaSession interface {
	// Acquire obtains local audio (and video when video is true)
	// capture. Called before any offer or answer is created.
	Acquire(video bool) error

	// CreateOffer returns the local session description for a new call.
	CreateOffer() (json.RawMessage, error)

	// CreateAnswer sets the remote offer and returns the local answer.
	CreateAnswer(offer json.RawMessage) (json.RawMessage, error)

	// SetRemoteAnswer completes caller-side negotiation.
	SetRemoteAnswer(answer json.RawMessage) error

	// AddRemoteCandidate applies one relayed ICE candidate. Only called
	// after the remote description is set; earlier candidates are
	// buffered by the machine.
	AddRemoteCandidate(candidate json.RawMessage) error

	// SetMuted toggles the outgoing audio track. No signaling is sent;
	// the remote side just observes silence.
	SetMuted(muted bool)

	// SetVideoEnabled toggles the outgoing video track.
	SetVideoEnabled(enabled bool)

	// Close stops and releases all local tracks and the peer connection.
	Close()
}

// Signaler sends the four relay frames. *Client implements it.
type Signaler interface {
	SendCallOffer(to, callID, callType string, offer json.RawMessage) error
	SendCallAnswer(to, callID string, answer json.RawMessage) error
	SendIceCandidate(to, callID string, candidate json.RawMessage) error
	SendCallEnd(to, callID string) error
}

// CallConfig tunes machine behavior.
type CallConfig struct {
	// AutoAccept answers incoming offers without waiting for Accept.
	// Defaults to true, matching the product's current behavior; set
	// false to park incoming calls in CallIncoming until the user
	// decides.
	AutoAccept bool

	// RingTimeout ends an unanswered outgoing call with ReasonNoAnswer.
	// Zero disables the timeout.
	RingTimeout time.Duration
}

// DefaultCallConfig mirrors the shipped product behavior plus a ring
// timeout as a robustness improvement.
func DefaultCallConfig() CallConfig {
	return CallConfig{AutoAccept: true, RingTimeout: 45 * time.Second}
}

// Machine errors.
var (
	ErrCallInProgress = errors.New("medicate: a call is already in progress")
	ErrNoPendingCall  = errors.New("medicate: no incoming call to act on")
	ErrNotActive      = errors.New("medicate: call is not active")
)

// StateListener observes every state transition.
type StateListener func(state CallState, reason EndReason)

// CallMachine drives one conversation's call lifecycle. All methods are
// safe for concurrent use; signaling and media calls happen outside the
// lock via snapshots, and listeners run on the calling goroutine.
type CallMachine struct {
	media    MediaSession
	signaler Signaler
	cfg      CallConfig

	mu        sync.Mutex
	state     CallState
	reason    EndReason
	peerID    string
	callID    string
	callType  string
	muted     bool
	videoOff  bool
	remoteSet bool

	// Candidates relayed before the remote description exists; flushed
	// in arrival order once it does.
	pendingCandidates []json.RawMessage

	pendingOffer json.RawMessage
	ringTimer    *time.Timer

	listener StateListener
}

// NewCallMachine builds an idle machine.
func NewCallMachine(media MediaSession, signaler Signaler, cfg CallConfig) *CallMachine {
	return &CallMachine{
		media:    media,
		signaler: signaler,
		cfg:      cfg,
		state:    CallIdle,
	}
}

// OnStateChange registers the transition listener (UI hook).
func (m *CallMachine) OnStateChange(fn StateListener) {
	m.mu.Lock()
	m.listener = fn
	m.mu.Unlock()
}

// State returns the current phase.
func (m *CallMachine) State() CallState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reason returns why the last call ended.
func (m *CallMachine) Reason() EndReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// CallID returns the id of the call in progress, or "".
func (m *CallMachine) CallID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callID
}

// InitiateCall starts an outgoing call: acquire media, send the offer,
// and ring until answered, failed, or timed out.
func (m *CallMachine) InitiateCall(peerID, callType string) error {
	m.mu.Lock()
	if m.state != CallIdle {
		m.mu.Unlock()
		return ErrCallInProgress
	}
	m.state = CallDialing
	m.peerID = peerID
	m.callID = uuid.NewString()
	m.callType = callType
	callID := m.callID
	m.mu.Unlock()
	m.notify(CallDialing, ReasonNone)

	if err := m.media.Acquire(callType == "video"); err != nil {
		m.endWith(ReasonMediaError)
		return fmt.Errorf("media acquisition failed: %w", err)
	}

	offer, err := m.media.CreateOffer()
	if err != nil {
		m.endWith(ReasonMediaError)
		return fmt.Errorf("offer creation failed: %w", err)
	}

	if err := m.signaler.SendCallOffer(peerID, callID, callType, offer); err != nil {
		m.endWith(ReasonConnectionLost)
		return err
	}

	m.mu.Lock()
	if m.state != CallDialing {
		// Torn down while the offer was in flight.
		m.mu.Unlock()
		return nil
	}
	m.state = CallRinging
	if m.cfg.RingTimeout > 0 {
		m.ringTimer = time.AfterFunc(m.cfg.RingTimeout, m.ringTimedOut)
	}
	m.mu.Unlock()
	m.notify(CallRinging, ReasonNone)
	return nil
}

// HandleOffer reacts to a relayed incoming offer. A machine already in a
// call ignores the offer, matching the relay's fire-and-forget contract.
func (m *CallMachine) HandleOffer(from, callID, callType string, offer json.RawMessage) {
	m.mu.Lock()
	if m.state != CallIdle {
		m.mu.Unlock()
		return
	}
	m.state = CallIncoming
	m.peerID = from
	m.callID = callID
	m.callType = callType
	m.pendingOffer = offer
	autoAccept := m.cfg.AutoAccept
	m.mu.Unlock()
	m.notify(CallIncoming, ReasonNone)

	if autoAccept {
		// Shipped behavior: answer without explicit consent. Flagged as
		// a product gap; see CallConfig.AutoAccept.
		_ = m.Accept()
	}
}

// Accept answers the parked incoming offer: acquire media, set the
// remote description, send the answer, go active.
func (m *CallMachine) Accept() error {
	m.mu.Lock()
	if m.state != CallIncoming {
		m.mu.Unlock()
		return ErrNoPendingCall
	}
	offer := m.pendingOffer
	peerID := m.peerID
	callID := m.callID
	video := m.callType == "video"
	m.mu.Unlock()

	if err := m.media.Acquire(video); err != nil {
		m.endWith(ReasonMediaError)
		return fmt.Errorf("media acquisition failed: %w", err)
	}

	answer, err := m.media.CreateAnswer(offer)
	if err != nil {
		m.endWith(ReasonMediaError)
		return fmt.Errorf("answer creation failed: %w", err)
	}

	if err := m.signaler.SendCallAnswer(peerID, callID, answer); err != nil {
		m.endWith(ReasonConnectionLost)
		return err
	}

	m.mu.Lock()
	if m.state != CallIncoming {
		m.mu.Unlock()
		return nil
	}
	m.state = CallActive
	m.remoteSet = true
	pending := m.pendingCandidates
	m.pendingCandidates = nil
	m.mu.Unlock()

	for _, cand := range pending {
		_ = m.media.AddRemoteCandidate(cand)
	}
	m.notify(CallActive, ReasonNone)
	return nil
}

// Reject declines the parked incoming offer.
func (m *CallMachine) Reject() error {
	m.mu.Lock()
	if m.state != CallIncoming {
		m.mu.Unlock()
		return ErrNoPendingCall
	}
	peerID, callID := m.peerID, m.callID
	m.mu.Unlock()

	_ = m.signaler.SendCallEnd(peerID, callID)
	m.endWith(ReasonRejected)
	return nil
}

// HandleAnswer completes caller-side negotiation. Answers for stale call
// ids are ignored.
func (m *CallMachine) HandleAnswer(callID string, answer json.RawMessage) {
	m.mu.Lock()
	if (m.state != CallRinging && m.state != CallDialing) || m.callID != callID {
		m.mu.Unlock()
		return
	}
	m.stopRingTimerLocked()
	m.mu.Unlock()

	if err := m.media.SetRemoteAnswer(answer); err != nil {
		m.endWith(ReasonConnectionLost)
		return
	}

	m.mu.Lock()
	if m.state != CallRinging && m.state != CallDialing {
		m.mu.Unlock()
		return
	}
	m.state = CallActive
	m.remoteSet = true
	pending := m.pendingCandidates
	m.pendingCandidates = nil
	m.mu.Unlock()

	for _, cand := range pending {
		_ = m.media.AddRemoteCandidate(cand)
	}
	m.notify(CallActive, ReasonNone)
}

// HandleRemoteCandidate applies or buffers one relayed ICE candidate.
// Candidates may arrive before the offer/answer exchange settles; they
// are held until the remote description exists.
func (m *CallMachine) HandleRemoteCandidate(callID string, candidate json.RawMessage) {
	m.mu.Lock()
	if m.state == CallIdle || m.state == CallEnded || m.callID != callID {
		m.mu.Unlock()
		return
	}
	if !m.remoteSet {
		m.pendingCandidates = append(m.pendingCandidates, candidate)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	_ = m.media.AddRemoteCandidate(candidate)
}

// HandleCallFailed reacts to the relay's receiver-offline notice.
func (m *CallMachine) HandleCallFailed(message string) {
	m.mu.Lock()
	active := m.state == CallDialing || m.state == CallRinging
	m.mu.Unlock()
	if active {
		m.endWith(ReasonUnavailable)
	}
}

// HandleRemoteEnd reacts to the peer hanging up.
func (m *CallMachine) HandleRemoteEnd(callID string) {
	m.mu.Lock()
	if m.state == CallIdle || m.state == CallEnded || m.callID != callID {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.endWith(ReasonRemoteHangup)
}

// HandleConnectionLost reacts to the peer connection dropping to
// disconnected or failed.
func (m *CallMachine) HandleConnectionLost() {
	m.mu.Lock()
	inCall := m.state != CallIdle && m.state != CallEnded
	m.mu.Unlock()
	if inCall {
		m.endWith(ReasonConnectionLost)
	}
}

// ToggleMute flips the outgoing audio track. Local state only; nothing
// is signaled.
func (m *CallMachine) ToggleMute() (muted bool, err error) {
	m.mu.Lock()
	if m.state != CallActive {
		m.mu.Unlock()
		return false, ErrNotActive
	}
	m.muted = !m.muted
	muted = m.muted
	m.mu.Unlock()

	m.media.SetMuted(muted)
	return muted, nil
}

// ToggleVideo flips the outgoing video track.
func (m *CallMachine) ToggleVideo() (enabled bool, err error) {
	m.mu.Lock()
	if m.state != CallActive {
		m.mu.Unlock()
		return false, ErrNotActive
	}
	m.videoOff = !m.videoOff
	enabled = !m.videoOff
	m.mu.Unlock()

	m.media.SetVideoEnabled(enabled)
	return enabled, nil
}

// EndCall hangs up from any state: best-effort call_end to the peer,
// media released, machine parked in CallEnded.
func (m *CallMachine) EndCall() {
	m.mu.Lock()
	if m.state == CallIdle || m.state == CallEnded {
		m.mu.Unlock()
		return
	}
	peerID, callID := m.peerID, m.callID
	m.mu.Unlock()

	_ = m.signaler.SendCallEnd(peerID, callID)
	m.endWith(ReasonLocalHangup)
}

// Reset returns an ended machine to idle so the conversation can call
// again.
func (m *CallMachine) Reset() {
	m.mu.Lock()
	if m.state != CallEnded {
		m.mu.Unlock()
		return
	}
	m.state = CallIdle
	m.reason = ReasonNone
	m.peerID = ""
	m.callID = ""
	m.callType = ""
	m.muted = false
	m.videoOff = false
	m.remoteSet = false
	m.pendingCandidates = nil
	m.pendingOffer = nil
	m.mu.Unlock()
	m.notify(CallIdle, ReasonNone)
}

func (m *CallMachine) ringTimedOut() {
	m.mu.Lock()
	if m.state != CallRinging {
		m.mu.Unlock()
		return
	}
	peerID, callID := m.peerID, m.callID
	m.mu.Unlock()

	_ = m.signaler.SendCallEnd(peerID, callID)
	m.endWith(ReasonNoAnswer)
}

func (m *CallMachine) stopRingTimerLocked() {
	if m.ringTimer != nil {
		m.ringTimer.Stop()
		m.ringTimer = nil
	}
}

// endWith tears the call down. Close is called even when media was never
// acquired; implementations are expected to make it idempotent.
func (m *CallMachine) endWith(reason EndReason) {
	m.mu.Lock()
	if m.state == CallEnded {
		m.mu.Unlock()
		return
	}
	m.stopRingTimerLocked()
	m.state = CallEnded
	m.reason = reason
	m.pendingCandidates = nil
	m.pendingOffer = nil
	m.mu.Unlock()

	m.media.Close()
	m.notify(CallEnded, reason)
}

func (m *CallMachine) notify(state CallState, reason EndReason) {
	m.mu.Lock()
	fn := m.listener
	m.mu.Unlock()
	if fn != nil {
		fn(state, reason)
	}
}
