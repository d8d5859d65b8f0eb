// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify the caller starts sessions with the expected
// StreamConfig. Use Session to feed controlled Transcript values and inspect
// which audio chunks were delivered.
package mock

import (
	"context"
	"sync"

	"github.com/softspoken-ai/dialtone/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the handle returned by StartStream. If nil, StartStream
	// returns a fresh Session with a buffered Finals channel.
	Session stt.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

var _ stt.Provider = (*Provider)(nil)

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Session is a mock implementation of stt.SessionHandle. Tests push
// transcripts with Emit and end the session with Close.
type Session struct {
	mu sync.Mutex

	// FinalsCh is the channel returned by Finals.
	FinalsCh chan stt.Transcript

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SendAudioCalls records a copy of every chunk passed to SendAudio.
	SendAudioCalls [][]byte

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	closeOnce sync.Once
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns a Session with a buffered Finals channel.
func NewSession() *Session {
	return &Session{FinalsCh: make(chan stt.Transcript, 16)}
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls = append(s.SendAudioCalls, append([]byte(nil), chunk...))
	return s.SendAudioErr
}

// Finals returns FinalsCh.
func (s *Session) Finals() <-chan stt.Transcript { return s.FinalsCh }

// Emit pushes a transcript to the Finals channel.
func (s *Session) Emit(t stt.Transcript) { s.FinalsCh <- t }

// Close closes the Finals channel once and counts the call.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.FinalsCh) })
	return nil
}

// SendAudioCallCount returns the number of SendAudio calls. Thread-safe.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}
