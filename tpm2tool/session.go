package tpm2tool

import (
	"crypto/rand"
	"fmt"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpmutil"
)

const defaultNonceSize = 16

// SessionData describes a session to be started: everything
// TPM2_StartAuthSession needs, plus the attribute bits and authorization
// value the session carries afterwards.
type SessionData struct {
	sessionType tpm2.SessionType
	tpmKey      tpmutil.Handle
	bind        tpmutil.Handle
	nonceCaller []byte
	symmetric   tpm2.Algorithm
	authHash    tpm2.Algorithm
	attrs       tpm2.SessionAttributes
	authValue   []byte
}

// NewSessionData returns a descriptor with the toolkit defaults: unbound,
// unsalted, no parameter encryption, SHA-256, continue-session set.
func NewSessionData(t tpm2.SessionType) *SessionData {
	return &SessionData{
		sessionType: t,
		tpmKey:      tpm2.HandleNull,
		bind:        tpm2.HandleNull,
		symmetric:   tpm2.AlgNull,
		authHash:    tpm2.AlgSHA256,
		attrs:       tpm2.AttrContinueSession,
	}
}

func (d *SessionData) SetTPMKey(h tpmutil.Handle) { d.tpmKey = h }

func (d *SessionData) SetBind(h tpmutil.Handle) { d.bind = h }

func (d *SessionData) SetNonceCaller(nonce []byte) { d.nonceCaller = nonce }

func (d *SessionData) SetSymmetric(a tpm2.Algorithm) { d.symmetric = a }

func (d *SessionData) SetAuthHash(a tpm2.Algorithm) { d.authHash = a }

func (d *SessionData) SetAuthValue(v []byte) { d.authValue = v }

// Session is the unit of authorization state. A "password" pseudo-session has
// no TPM-resident counterpart: its handle is the password sentinel and
// closing it is a no-op. Real sessions are flushed exactly once by Close.
type Session struct {
	dev      Device
	data     *SessionData
	handle   tpmutil.Handle
	started  bool
	closed   bool
	savePath string
}

// StartSession issues TPM2_StartAuthSession for an HMAC or policy session
// described by data. A fresh random nonce is generated when the descriptor
// does not carry one.
func StartSession(dev Device, data *SessionData) (*Session, error) {
	nonce := data.nonceCaller
	if len(nonce) == 0 {
		nonce = make([]byte, defaultNonceSize)
		if _, err := rand.Read(nonce); err != nil {
			return nil, fmt.Errorf("generate session nonce: %w", err)
		}
		data.nonceCaller = nonce
	}
	h, err := dev.StartAuthSession(data.tpmKey, data.bind, nonce,
		data.sessionType, data.symmetric, data.authHash)
	if err != nil {
		return nil, err
	}
	return &Session{dev: dev, data: data, handle: h, started: true}, nil
}

// PasswordSession builds the pseudo-session for plain password authorization.
// auth may be nil for an empty password.
func PasswordSession(auth []byte) *Session {
	data := NewSessionData(tpm2.SessionHMAC)
	data.authValue = auth
	return &Session{data: data, handle: tpm2.HandlePasswordSession}
}

// ResumeSession reloads a session whose context was saved to a file by a
// previous invocation. Close saves the context back to the same file, so the
// file remains usable by the next invocation.
func ResumeSession(dev Device, path string) (*Session, error) {
	blob, err := ReadContextFile(path)
	if err != nil {
		return nil, err
	}
	h, err := dev.ContextLoad(blob)
	if err != nil {
		return nil, err
	}
	return &Session{dev: dev, data: NewSessionData(tpm2.SessionPolicy), handle: h, started: true, savePath: path}, nil
}

// Handle returns the handle to present as an authorization parameter: the
// password sentinel for pseudo-sessions, else the live session handle.
func (s *Session) Handle() tpmutil.Handle {
	if s == nil || !s.started {
		return tpm2.HandlePasswordSession
	}
	return s.handle
}

// IsPassword reports whether this session carries password-only semantics.
func (s *Session) IsPassword() bool {
	return s == nil || !s.started
}

// AuthValue returns the literal authorization value, if any.
func (s *Session) AuthValue() []byte {
	if s == nil {
		return nil
	}
	return s.data.authValue
}

// AuthCommand builds the authorization-area entry for a command using this
// session.
func (s *Session) AuthCommand() tpm2.AuthCommand {
	if s == nil {
		return tpm2.AuthCommand{Session: tpm2.HandlePasswordSession, Attributes: tpm2.AttrContinueSession}
	}
	return tpm2.AuthCommand{Session: s.Handle(), Attributes: s.Attributes(), Auth: s.data.authValue}
}

// Attributes returns the session attribute bits.
func (s *Session) Attributes() tpm2.SessionAttributes {
	if s == nil {
		return tpm2.AttrContinueSession
	}
	return s.data.attrs
}

// SetAttributes updates the attribute bits selected by mask to the
// corresponding bits of flags, leaving the rest untouched.
func (s *Session) SetAttributes(mask, flags tpm2.SessionAttributes) {
	if s == nil {
		return
	}
	s.data.attrs = (s.data.attrs &^ mask) | (flags & mask)
}

// Restart resets a policy session's accumulated digest so the session can be
// used for a fresh authorization round.
func (s *Session) Restart() error {
	if s.IsPassword() {
		return fmt.Errorf("cannot restart a password session")
	}
	return s.dev.PolicyRestart(s.handle)
}

// Save persists the session's context to a file for later ResumeSession.
// Saving moves a session's context out of TPM memory; the handle stays active
// as a saved session until it is reloaded or flushed.
func (s *Session) Save(path string) error {
	if s.IsPassword() {
		return fmt.Errorf("cannot save a password session")
	}
	blob, err := s.dev.ContextSave(s.handle)
	if err != nil {
		return err
	}
	return WriteContextFile(path, blob)
}

// Close releases a session owned by this manager. A session resumed from a
// file has its context saved back to that file, keeping the file usable;
// flushing it instead would destroy the session and leave the file stale.
// Sessions started here are flushed. Closing a password pseudo-session, or
// closing twice, is a no-op.
func (s *Session) Close() error {
	if s == nil || !s.started || s.closed {
		return nil
	}
	s.closed = true
	if s.savePath != "" {
		return s.Save(s.savePath)
	}
	return s.dev.FlushContext(s.handle)
}
