package tpm2tool

import (
	"strconv"
	"strings"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpmutil"
)

// LoadedObject pairs an addressable TPM object with the session authorizing
// it. Objects loaded from a context file own a transient handle and flush it
// on Close; hierarchy and persistent handles have nothing to flush.
type LoadedObject struct {
	Handle  tpmutil.Handle
	Session *Session

	dev       Device
	transient bool
	closed    bool
}

var hierarchyNames = map[string]tpmutil.Handle{
	"o": tpm2.HandleOwner, "owner": tpm2.HandleOwner,
	"e": tpm2.HandleEndorsement, "endorsement": tpm2.HandleEndorsement,
	"p": tpm2.HandlePlatform, "platform": tpm2.HandlePlatform,
	"n": tpm2.HandleNull, "null": tpm2.HandleNull,
}

// LoadObject resolves a user-supplied object reference: a hierarchy keyword,
// a numeric persistent/NV handle, or the path of a saved context file. A
// context load yields a fresh transient handle; the value from the original
// save is not preserved.
func LoadObject(dev Device, ref string) (*LoadedObject, error) {
	if ref == "" {
		return nil, OptionErrorf("missing object reference")
	}
	if h, ok := hierarchyNames[ref]; ok {
		return &LoadedObject{Handle: h, Session: PasswordSession(nil), dev: dev}, nil
	}
	if h, ok := ParseHandle(ref); ok {
		return &LoadedObject{Handle: h, Session: PasswordSession(nil), dev: dev}, nil
	}

	blob, err := ReadContextFile(ref)
	if err != nil {
		return nil, err
	}
	h, err := dev.ContextLoad(blob)
	if err != nil {
		return nil, err
	}
	return &LoadedObject{Handle: h, Session: PasswordSession(nil), dev: dev, transient: true}, nil
}

// LoadObjectWithAuth composes LoadObject with ResolveAuth, attaching the
// resolved session to the object.
func LoadObjectWithAuth(dev Device, ref, authSpec string, restricted bool) (*LoadedObject, error) {
	obj, err := LoadObject(dev, ref)
	if err != nil {
		return nil, err
	}
	session, err := ResolveAuth(dev, authSpec, restricted)
	if err != nil {
		obj.Close()
		return nil, err
	}
	obj.Session = session
	return obj, nil
}

// AuthCommand builds the authorization-area entry for commands touching this
// object.
func (o *LoadedObject) AuthCommand() tpm2.AuthCommand {
	if o == nil {
		return tpm2.AuthCommand{Session: tpm2.HandlePasswordSession, Attributes: tpm2.AttrContinueSession}
	}
	return o.Session.AuthCommand()
}

// Close releases the attached session and, for context-loaded objects, the
// transient handle. Idempotent.
func (o *LoadedObject) Close() error {
	if o == nil || o.closed {
		return nil
	}
	o.closed = true
	err := o.Session.Close()
	if o.transient {
		if ferr := o.dev.FlushContext(o.Handle); err == nil {
			err = ferr
		}
	}
	return err
}

// Save writes the object's context to a file for later reload.
func (o *LoadedObject) Save(path string) error {
	blob, err := o.dev.ContextSave(o.Handle)
	if err != nil {
		return err
	}
	return WriteContextFile(path, blob)
}

// ParseHandle parses a decimal or 0x-prefixed hexadecimal handle value.
func ParseHandle(s string) (tpmutil.Handle, bool) {
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	} else if !isDigits(s) {
		return 0, false
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, false
	}
	return tpmutil.Handle(v), true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
