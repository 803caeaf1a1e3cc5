package tpm2tool

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/go-tpm-tools/client"
	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpmutil"
)

// Command codes the go-tpm library does not expose (or exposes without the
// parameter control this toolkit needs).
const (
	cmdEvictControl  tpmutil.Command = 0x00000120
	cmdNVDefineSpace tpmutil.Command = 0x0000012A
	cmdCertify       tpmutil.Command = 0x00000148
	cmdHmac          tpmutil.Command = 0x00000155
	cmdHmacStart     tpmutil.Command = 0x0000015B
	cmdPolicyRestart tpmutil.Command = 0x00000180
)

// Device is the module command boundary: one method per TPM command the
// toolkit issues. Commands are synchronous request/response; every non-success
// response status surfaces as a ProtocolError (or ResourceExhaustedError for
// slot-exhaustion warnings) and is never retried.
type Device interface {
	StartAuthSession(tpmKey, bind tpmutil.Handle, nonceCaller []byte, se tpm2.SessionType, sym, hashAlg tpm2.Algorithm) (tpmutil.Handle, error)
	FlushContext(h tpmutil.Handle) error
	PolicyRestart(session tpmutil.Handle) error
	PolicySecret(entity tpmutil.Handle, entityAuth tpm2.AuthCommand, session tpmutil.Handle, expiration int32) error
	PolicyPCR(session tpmutil.Handle, expectedDigest []byte, sel tpm2.PCRSelection) error
	ReadPublic(h tpmutil.Handle) (tpm2.Public, []byte, error)
	Certify(object, signer tpmutil.Handle, objectAuth, signerAuth tpm2.AuthCommand, qualifyingData []byte, scheme *tpm2.SigScheme) (attest, sig []byte, err error)
	ActivateCredential(credentialedKey, credentialKey tpmutil.Handle, auth []tpm2.AuthCommand, credBlob, secret []byte) ([]byte, error)
	Hmac(key tpmutil.Handle, keyAuth tpm2.AuthCommand, hashAlg tpm2.Algorithm, data []byte) ([]byte, error)
	HmacStart(key tpmutil.Handle, keyAuth tpm2.AuthCommand, seqAuth string, hashAlg tpm2.Algorithm) (tpmutil.Handle, error)
	SequenceUpdate(seqAuth string, seq tpmutil.Handle, chunk []byte) error
	SequenceComplete(seqAuth string, seq tpmutil.Handle, chunk []byte) ([]byte, error)
	NVDefineSpace(hierarchy tpmutil.Handle, hierarchyAuth tpm2.AuthCommand, nvAuth []byte, template *NVTemplate) error
	NVRead(index, authHandle tpmutil.Handle, password string) ([]byte, error)
	EvictControl(hierarchy, object tpmutil.Handle, hierarchyAuth tpm2.AuthCommand, persistent tpmutil.Handle) error
	ContextSave(h tpmutil.Handle) ([]byte, error)
	ContextLoad(blob []byte) (tpmutil.Handle, error)
	Handles(t tpm2.HandleType) ([]tpmutil.Handle, error)
	Close() error
}

// OpenDevice opens the TPM character device (or a TCP simulator address via
// go-tpm's OpenTPM semantics) and returns the live Device.
func OpenDevice(path string) (Device, error) {
	rwc, err := tpm2.OpenTPM(path)
	if err != nil {
		return nil, fmt.Errorf("open TPM %s: %w", path, err)
	}
	return &tpmDevice{rw: rwc}, nil
}

type tpmDevice struct {
	rw io.ReadWriteCloser
}

func (d *tpmDevice) StartAuthSession(tpmKey, bind tpmutil.Handle, nonceCaller []byte, se tpm2.SessionType, sym, hashAlg tpm2.Algorithm) (tpmutil.Handle, error) {
	h, _, err := tpm2.StartAuthSession(d.rw, tpmKey, bind, nonceCaller, nil, se, sym, hashAlg)
	if err != nil {
		return tpm2.HandleNull, wrapTPMErr("TPM2_StartAuthSession", err)
	}
	return h, nil
}

func (d *tpmDevice) FlushContext(h tpmutil.Handle) error {
	return wrapTPMErr("TPM2_FlushContext", tpm2.FlushContext(d.rw, h))
}

func (d *tpmDevice) PolicyRestart(session tpmutil.Handle) error {
	_, err := runCommand(d.rw, tpm2.TagNoSessions, cmdPolicyRestart, session)
	return wrapTPMErr("TPM2_PolicyRestart", err)
}

func (d *tpmDevice) PolicySecret(entity tpmutil.Handle, entityAuth tpm2.AuthCommand, session tpmutil.Handle, expiration int32) error {
	_, err := tpm2.PolicySecret(d.rw, entity, entityAuth, session, nil, nil, nil, expiration)
	return wrapTPMErr("TPM2_PolicySecret", err)
}

func (d *tpmDevice) PolicyPCR(session tpmutil.Handle, expectedDigest []byte, sel tpm2.PCRSelection) error {
	return wrapTPMErr("TPM2_PolicyPCR", tpm2.PolicyPCR(d.rw, session, expectedDigest, sel))
}

func (d *tpmDevice) ReadPublic(h tpmutil.Handle) (tpm2.Public, []byte, error) {
	pub, name, _, err := tpm2.ReadPublic(d.rw, h)
	if err != nil {
		return tpm2.Public{}, nil, wrapTPMErr("TPM2_ReadPublic", err)
	}
	return pub, name, nil
}

// Certify is hand-rolled: the library's Certify always requests the key's
// default (null) scheme, but the toolkit selects an explicit scheme from the
// signing key's type.
func (d *tpmDevice) Certify(object, signer tpmutil.Handle, objectAuth, signerAuth tpm2.AuthCommand, qualifyingData []byte, scheme *tpm2.SigScheme) ([]byte, []byte, error) {
	auth, err := encodeAuthArea(objectAuth, signerAuth)
	if err != nil {
		return nil, nil, err
	}
	handles, err := tpmutil.Pack(object, signer)
	if err != nil {
		return nil, nil, err
	}
	resp, err := runCommand(d.rw, tpm2.TagSessions, cmdCertify,
		tpmutil.RawBytes(concat(handles, auth)),
		tpmutil.U16Bytes(qualifyingData), scheme.Alg, scheme.Hash)
	if err != nil {
		return nil, nil, wrapTPMErr("TPM2_Certify", err)
	}
	params, err := takeParameters(resp)
	if err != nil {
		return nil, nil, fmt.Errorf("TPM2_Certify response: %w", err)
	}
	attest, off, err := TakeU16Bytes(params, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("TPM2_Certify attestation: %w", err)
	}
	// The remainder of the parameter area is the raw TPMT_SIGNATURE, which is
	// what the TSS signature format persists.
	return attest, params[off:], nil
}

func (d *tpmDevice) ActivateCredential(credentialedKey, credentialKey tpmutil.Handle, auth []tpm2.AuthCommand, credBlob, secret []byte) ([]byte, error) {
	out, err := tpm2.ActivateCredentialUsingAuth(d.rw, auth, credentialedKey, credentialKey, credBlob, secret)
	if err != nil {
		return nil, wrapTPMErr("TPM2_ActivateCredential", err)
	}
	return out, nil
}

// Hmac issues the single-shot TPM2_HMAC command. The library only offers the
// sequence interface, and the toolkit wants one round trip for small inputs.
func (d *tpmDevice) Hmac(key tpmutil.Handle, keyAuth tpm2.AuthCommand, hashAlg tpm2.Algorithm, data []byte) ([]byte, error) {
	if len(data) > MaxDigestBuffer {
		return nil, fmt.Errorf("TPM2_HMAC input is %d bytes, single-call limit is %d", len(data), MaxDigestBuffer)
	}
	auth, err := encodeAuthArea(keyAuth)
	if err != nil {
		return nil, err
	}
	handles, err := tpmutil.Pack(key)
	if err != nil {
		return nil, err
	}
	resp, err := runCommand(d.rw, tpm2.TagSessions, cmdHmac,
		tpmutil.RawBytes(concat(handles, auth)),
		tpmutil.U16Bytes(data), hashAlg)
	if err != nil {
		return nil, wrapTPMErr("TPM2_HMAC", err)
	}
	params, err := takeParameters(resp)
	if err != nil {
		return nil, fmt.Errorf("TPM2_HMAC response: %w", err)
	}
	digest, _, err := TakeU16Bytes(params, 0)
	if err != nil {
		return nil, fmt.Errorf("TPM2_HMAC digest: %w", err)
	}
	return digest, nil
}

func (d *tpmDevice) HmacStart(key tpmutil.Handle, keyAuth tpm2.AuthCommand, seqAuth string, hashAlg tpm2.Algorithm) (tpmutil.Handle, error) {
	auth, err := encodeAuthArea(keyAuth)
	if err != nil {
		return tpm2.HandleNull, err
	}
	handles, err := tpmutil.Pack(key)
	if err != nil {
		return tpm2.HandleNull, err
	}
	resp, err := runCommand(d.rw, tpm2.TagSessions, cmdHmacStart,
		tpmutil.RawBytes(concat(handles, auth)),
		tpmutil.U16Bytes(seqAuth), hashAlg)
	if err != nil {
		return tpm2.HandleNull, wrapTPMErr("TPM2_HMAC_Start", err)
	}
	seq, _, err := TakeHandle(resp, 0)
	if err != nil {
		return tpm2.HandleNull, fmt.Errorf("TPM2_HMAC_Start response: %w", err)
	}
	return seq, nil
}

func (d *tpmDevice) SequenceUpdate(seqAuth string, seq tpmutil.Handle, chunk []byte) error {
	if len(chunk) > MaxDigestBuffer {
		return fmt.Errorf("TPM2_SequenceUpdate chunk is %d bytes, limit is %d", len(chunk), MaxDigestBuffer)
	}
	return wrapTPMErr("TPM2_SequenceUpdate", tpm2.SequenceUpdate(d.rw, seqAuth, seq, chunk))
}

func (d *tpmDevice) SequenceComplete(seqAuth string, seq tpmutil.Handle, chunk []byte) ([]byte, error) {
	digest, _, err := tpm2.SequenceComplete(d.rw, seqAuth, seq, tpm2.HandleNull, chunk)
	if err != nil {
		return nil, wrapTPMErr("TPM2_SequenceComplete", err)
	}
	return digest, nil
}

// NVDefineSpace is hand-rolled so the hierarchy authorization can be a real
// session, not only a password.
func (d *tpmDevice) NVDefineSpace(hierarchy tpmutil.Handle, hierarchyAuth tpm2.AuthCommand, nvAuth []byte, template *NVTemplate) error {
	pub, err := template.Marshal()
	if err != nil {
		return err
	}
	auth, err := encodeAuthArea(hierarchyAuth)
	if err != nil {
		return err
	}
	handles, err := tpmutil.Pack(hierarchy)
	if err != nil {
		return err
	}
	_, err = runCommand(d.rw, tpm2.TagSessions, cmdNVDefineSpace,
		tpmutil.RawBytes(concat(handles, auth)),
		tpmutil.U16Bytes(nvAuth), tpmutil.RawBytes(pub))
	return wrapTPMErr("TPM2_NV_DefineSpace", err)
}

func (d *tpmDevice) NVRead(index, authHandle tpmutil.Handle, password string) ([]byte, error) {
	out, err := tpm2.NVReadEx(d.rw, index, authHandle, password, 0)
	if err != nil {
		return nil, wrapTPMErr("TPM2_NV_Read", err)
	}
	return out, nil
}

// EvictControl is hand-rolled for the same reason as NVDefineSpace.
func (d *tpmDevice) EvictControl(hierarchy, object tpmutil.Handle, hierarchyAuth tpm2.AuthCommand, persistent tpmutil.Handle) error {
	auth, err := encodeAuthArea(hierarchyAuth)
	if err != nil {
		return err
	}
	handles, err := tpmutil.Pack(hierarchy, object)
	if err != nil {
		return err
	}
	_, err = runCommand(d.rw, tpm2.TagSessions, cmdEvictControl,
		tpmutil.RawBytes(concat(handles, auth)), persistent)
	return wrapTPMErr("TPM2_EvictControl", err)
}

func (d *tpmDevice) ContextSave(h tpmutil.Handle) ([]byte, error) {
	blob, err := tpm2.ContextSave(d.rw, h)
	if err != nil {
		return nil, wrapTPMErr("TPM2_ContextSave", err)
	}
	return blob, nil
}

func (d *tpmDevice) ContextLoad(blob []byte) (tpmutil.Handle, error) {
	h, err := tpm2.ContextLoad(d.rw, blob)
	if err != nil {
		return tpm2.HandleNull, wrapTPMErr("TPM2_ContextLoad", err)
	}
	return h, nil
}

func (d *tpmDevice) Handles(t tpm2.HandleType) ([]tpmutil.Handle, error) {
	handles, err := client.Handles(d.rw, t)
	if err != nil {
		return nil, wrapTPMErr("TPM2_GetCapability", err)
	}
	return handles, nil
}

func (d *tpmDevice) Close() error {
	return d.rw.Close()
}

func runCommand(rw io.ReadWriter, tag tpmutil.Tag, cmd tpmutil.Command, in ...interface{}) ([]byte, error) {
	resp, code, err := tpmutil.RunCommand(rw, tag, cmd, in...)
	if err != nil {
		return nil, err
	}
	if code != tpmutil.RCSuccess {
		return nil, decodeResponse(code)
	}
	return resp, nil
}

func concat(chunks ...[]byte) []byte {
	return bytes.Join(chunks, nil)
}

func encodeAuthArea(sections ...tpm2.AuthCommand) ([]byte, error) {
	var res tpmutil.RawBytes
	for _, s := range sections {
		buf, err := tpmutil.Pack(s)
		if err != nil {
			return nil, err
		}
		res = append(res, buf...)
	}
	size, err := tpmutil.Pack(uint32(len(res)))
	if err != nil {
		return nil, err
	}
	return concat(size, res), nil
}

// takeParameters strips the leading parameterSize field of a TagSessions
// response and returns the parameter area, excluding the trailing response
// authorizations.
func takeParameters(resp []byte) ([]byte, error) {
	if len(resp) < 4 {
		return nil, fmt.Errorf("truncated input: response shorter than its parameter size field")
	}
	n := int(binary.BigEndian.Uint32(resp))
	if 4+n > len(resp) {
		return nil, fmt.Errorf("truncated input: parameter size %d overruns response (len %d)", n, len(resp))
	}
	return resp[4 : 4+n], nil
}

// decodeResponse maps a raw response code onto go-tpm's typed errors, the
// same way the library's own command dispatch does.
func decodeResponse(code tpmutil.ResponseCode) error {
	if code == tpmutil.RCSuccess {
		return nil
	}
	if code&0x180 == 0 { // Bits 7:8 == 0 is a TPM1 error
		return fmt.Errorf("response status 0x%x", code)
	}
	if code&0x80 == 0 { // Bit 7 unset
		if code&0x400 > 0 { // Bit 10 set, vendor specific code
			return tpm2.VendorError{Code: uint32(code)}
		}
		if code&0x800 > 0 { // Bit 11 set, warning with code in bit 0:6
			return tpm2.Warning{Code: tpm2.RCWarn(code & 0x7f)}
		}
		return tpm2.Error{Code: tpm2.RCFmt0(code & 0x7f)}
	}
	if code&0x40 > 0 { // Bit 6 set, code in 0:5, parameter number in 8:11
		return tpm2.ParameterError{Code: tpm2.RCFmt1(code & 0x3f), Parameter: tpm2.RCIndex((code & 0xf00) >> 8)}
	}
	if code&0x800 == 0 { // Bit 11 unset, code in 0:5, handle in 8:10
		return tpm2.HandleError{Code: tpm2.RCFmt1(code & 0x3f), Handle: tpm2.RCIndex((code & 0x700) >> 8)}
	}
	return tpm2.SessionError{Code: tpm2.RCFmt1(code & 0x3f), Session: tpm2.RCIndex((code & 0x700) >> 8)}
}
