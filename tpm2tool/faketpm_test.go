package tpm2tool

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpmutil"
)

// fakeTPM is an in-memory Device that tracks every handle it hands out, so
// tests can assert that flows release everything they acquire. HMAC commands
// compute real SHA-256 HMACs over the object's key so the streaming and
// single-shot paths can be compared for equality.
type fakeTPM struct {
	t *testing.T

	objects   map[tpmutil.Handle]*fakeObject
	sequences map[tpmutil.Handle]*fakeSequence
	sessions  map[tpmutil.Handle]tpm2.SessionType
	contexts  map[uint64]fakeContext
	nv        map[tpmutil.Handle]*fakeNVIndex

	nextHandle  tpmutil.Handle
	nextContext uint64

	certifyCalls      int
	policySecretCalls int
	evictCalls        int

	startSessionErr    error
	policySecretErr    error
	policyPCRErr       error
	activateErr        error
	certifyErr         error
	sequenceUpdateErr  error
	nvDefineErr        error
	lastNVAuth         []byte
	lastNVTemplate     *NVTemplate
	lastEvictHierarchy tpmutil.Handle
	lastEvictObject    tpmutil.Handle
	lastPersistent     tpmutil.Handle
}

type fakeObject struct {
	public    tpm2.Public
	name      []byte
	hmacKey   []byte
	transient bool
}

type fakeSequence struct {
	key []byte
	buf bytes.Buffer
}

type fakeNVIndex struct {
	template NVTemplate
	auth     []byte
	data     []byte
}

type fakeContext struct {
	obj         *fakeObject
	session     bool
	sessionType tpm2.SessionType
}

func newFakeTPM(t *testing.T) *fakeTPM {
	return &fakeTPM{
		t:          t,
		objects:    make(map[tpmutil.Handle]*fakeObject),
		sequences:  make(map[tpmutil.Handle]*fakeSequence),
		sessions:   make(map[tpmutil.Handle]tpm2.SessionType),
		contexts:   make(map[uint64]fakeContext),
		nv:         make(map[tpmutil.Handle]*fakeNVIndex),
		nextHandle: 0x80000000,
	}
}

// addTransient registers a loaded object and returns its handle.
func (f *fakeTPM) addTransient(obj *fakeObject) tpmutil.Handle {
	obj.transient = true
	h := f.nextHandle
	f.nextHandle++
	f.objects[h] = obj
	return h
}

// openHandles counts every flushable handle currently live in the fake.
func (f *fakeTPM) openHandles() int {
	n := len(f.sequences) + len(f.sessions)
	for _, obj := range f.objects {
		if obj.transient {
			n++
		}
	}
	return n
}

func protocolErr(op string) error {
	return wrapTPMErr(op, tpm2.ParameterError{Code: tpm2.RCValue, Parameter: 1})
}

func (f *fakeTPM) StartAuthSession(tpmKey, bind tpmutil.Handle, nonceCaller []byte, se tpm2.SessionType, sym, hashAlg tpm2.Algorithm) (tpmutil.Handle, error) {
	if f.startSessionErr != nil {
		return tpm2.HandleNull, f.startSessionErr
	}
	if len(nonceCaller) == 0 {
		return tpm2.HandleNull, protocolErr("TPM2_StartAuthSession")
	}
	h := f.nextHandle
	f.nextHandle++
	f.sessions[h] = se
	return h, nil
}

func (f *fakeTPM) FlushContext(h tpmutil.Handle) error {
	if _, ok := f.sessions[h]; ok {
		delete(f.sessions, h)
		return nil
	}
	if _, ok := f.sequences[h]; ok {
		delete(f.sequences, h)
		return nil
	}
	if obj, ok := f.objects[h]; ok && obj.transient {
		delete(f.objects, h)
		return nil
	}
	return protocolErr("TPM2_FlushContext")
}

func (f *fakeTPM) PolicyRestart(session tpmutil.Handle) error {
	if _, ok := f.sessions[session]; !ok {
		return protocolErr("TPM2_PolicyRestart")
	}
	return nil
}

func (f *fakeTPM) PolicySecret(entity tpmutil.Handle, entityAuth tpm2.AuthCommand, session tpmutil.Handle, expiration int32) error {
	f.policySecretCalls++
	if f.policySecretErr != nil {
		return f.policySecretErr
	}
	if _, ok := f.sessions[session]; !ok {
		return protocolErr("TPM2_PolicySecret")
	}
	return nil
}

func (f *fakeTPM) PolicyPCR(session tpmutil.Handle, expectedDigest []byte, sel tpm2.PCRSelection) error {
	if f.policyPCRErr != nil {
		return f.policyPCRErr
	}
	if _, ok := f.sessions[session]; !ok {
		return protocolErr("TPM2_PolicyPCR")
	}
	return nil
}

func (f *fakeTPM) ReadPublic(h tpmutil.Handle) (tpm2.Public, []byte, error) {
	obj, ok := f.objects[h]
	if !ok {
		return tpm2.Public{}, nil, protocolErr("TPM2_ReadPublic")
	}
	return obj.public, obj.name, nil
}

func (f *fakeTPM) Certify(object, signer tpmutil.Handle, objectAuth, signerAuth tpm2.AuthCommand, qualifyingData []byte, scheme *tpm2.SigScheme) ([]byte, []byte, error) {
	f.certifyCalls++
	if f.certifyErr != nil {
		return nil, nil, f.certifyErr
	}
	if _, ok := f.objects[object]; !ok {
		return nil, nil, protocolErr("TPM2_Certify")
	}
	attest := append([]byte("attest:"), qualifyingData...)
	sig := []byte(fmt.Sprintf("sig:%04x:%04x", uint16(scheme.Alg), uint16(scheme.Hash)))
	return attest, sig, nil
}

func (f *fakeTPM) ActivateCredential(credentialedKey, credentialKey tpmutil.Handle, auth []tpm2.AuthCommand, credBlob, secret []byte) ([]byte, error) {
	if f.activateErr != nil {
		return nil, f.activateErr
	}
	if len(auth) != 2 {
		f.t.Fatalf("ActivateCredential got %d auth entries, want 2", len(auth))
	}
	if _, ok := f.sessions[auth[1].Session]; !ok {
		return nil, protocolErr("TPM2_ActivateCredential")
	}
	sum := sha256.Sum256(append(credBlob, secret...))
	return sum[:], nil
}

func (f *fakeTPM) hmacKey(h tpmutil.Handle) ([]byte, error) {
	obj, ok := f.objects[h]
	if !ok || obj.hmacKey == nil {
		return nil, protocolErr("TPM2_HMAC")
	}
	return obj.hmacKey, nil
}

func (f *fakeTPM) Hmac(key tpmutil.Handle, keyAuth tpm2.AuthCommand, hashAlg tpm2.Algorithm, data []byte) ([]byte, error) {
	if len(data) > MaxDigestBuffer {
		f.t.Fatalf("single-shot HMAC input %d exceeds buffer limit %d", len(data), MaxDigestBuffer)
	}
	k, err := f.hmacKey(key)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, k)
	mac.Write(data)
	return mac.Sum(nil), nil
}

func (f *fakeTPM) HmacStart(key tpmutil.Handle, keyAuth tpm2.AuthCommand, seqAuth string, hashAlg tpm2.Algorithm) (tpmutil.Handle, error) {
	k, err := f.hmacKey(key)
	if err != nil {
		return tpm2.HandleNull, err
	}
	h := f.nextHandle
	f.nextHandle++
	f.sequences[h] = &fakeSequence{key: k}
	return h, nil
}

func (f *fakeTPM) SequenceUpdate(seqAuth string, seq tpmutil.Handle, chunk []byte) error {
	if f.sequenceUpdateErr != nil {
		return f.sequenceUpdateErr
	}
	if len(chunk) > MaxDigestBuffer {
		f.t.Fatalf("sequence chunk %d exceeds buffer limit %d", len(chunk), MaxDigestBuffer)
	}
	s, ok := f.sequences[seq]
	if !ok {
		return protocolErr("TPM2_SequenceUpdate")
	}
	s.buf.Write(chunk)
	return nil
}

func (f *fakeTPM) SequenceComplete(seqAuth string, seq tpmutil.Handle, chunk []byte) ([]byte, error) {
	if len(chunk) > MaxDigestBuffer {
		f.t.Fatalf("final chunk %d exceeds buffer limit %d", len(chunk), MaxDigestBuffer)
	}
	s, ok := f.sequences[seq]
	if !ok {
		return nil, protocolErr("TPM2_SequenceComplete")
	}
	delete(f.sequences, seq)
	s.buf.Write(chunk)
	mac := hmac.New(sha256.New, s.key)
	mac.Write(s.buf.Bytes())
	return mac.Sum(nil), nil
}

func (f *fakeTPM) NVDefineSpace(hierarchy tpmutil.Handle, hierarchyAuth tpm2.AuthCommand, nvAuth []byte, template *NVTemplate) error {
	if f.nvDefineErr != nil {
		return f.nvDefineErr
	}
	f.lastNVAuth = nvAuth
	f.lastNVTemplate = template
	f.nv[template.Index] = &fakeNVIndex{template: *template, auth: nvAuth}
	return nil
}

func (f *fakeTPM) NVRead(index, authHandle tpmutil.Handle, password string) ([]byte, error) {
	idx, ok := f.nv[index]
	if !ok {
		return nil, protocolErr("TPM2_NV_Read")
	}
	return idx.data, nil
}

func (f *fakeTPM) EvictControl(hierarchy, object tpmutil.Handle, hierarchyAuth tpm2.AuthCommand, persistent tpmutil.Handle) error {
	f.evictCalls++
	f.lastEvictHierarchy = hierarchy
	f.lastEvictObject = object
	f.lastPersistent = persistent
	return nil
}

func (f *fakeTPM) ContextSave(h tpmutil.Handle) ([]byte, error) {
	var saved fakeContext
	if obj, ok := f.objects[h]; ok {
		saved.obj = obj
	} else if se, ok := f.sessions[h]; ok {
		saved.session = true
		saved.sessionType = se
		// Saving a session moves its context out of TPM memory; the loaded
		// handle is gone until the context is reloaded.
		delete(f.sessions, h)
	} else {
		return nil, protocolErr("TPM2_ContextSave")
	}
	id := f.nextContext
	f.nextContext++
	f.contexts[id] = saved
	blob := make([]byte, 8)
	binary.BigEndian.PutUint64(blob, id)
	return blob, nil
}

func (f *fakeTPM) ContextLoad(blob []byte) (tpmutil.Handle, error) {
	if len(blob) != 8 {
		return tpm2.HandleNull, protocolErr("TPM2_ContextLoad")
	}
	saved, ok := f.contexts[binary.BigEndian.Uint64(blob)]
	if !ok {
		return tpm2.HandleNull, protocolErr("TPM2_ContextLoad")
	}
	if saved.session {
		h := f.nextHandle
		f.nextHandle++
		f.sessions[h] = saved.sessionType
		return h, nil
	}
	// A context load never guarantees the original handle value.
	loaded := *saved.obj
	return f.addTransient(&loaded), nil
}

func (f *fakeTPM) Handles(t tpm2.HandleType) ([]tpmutil.Handle, error) {
	var out []tpmutil.Handle
	if t == tpm2.HandleTypeTransient {
		for h, obj := range f.objects {
			if obj.transient {
				out = append(out, h)
			}
		}
	}
	return out, nil
}

func (f *fakeTPM) Close() error {
	return nil
}
