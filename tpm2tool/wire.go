package tpm2tool

import (
	"encoding/binary"
	"fmt"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpmutil"
)

// Buffer limits from the TPM library specification. Single-shot digest input
// and sequence chunks may not exceed MaxDigestBuffer; a digest itself never
// exceeds MaxDigestSize (SHA-512).
const (
	MaxDigestBuffer = 1024
	MaxDigestSize   = 64
	MaxNVBufferSize = 2048
)

// PutHandle encodes h as 4 big-endian bytes at buf[off:], returning the new
// offset.
func PutHandle(buf []byte, off int, h tpmutil.Handle) (int, error) {
	if off < 0 || off+4 > len(buf) {
		return off, fmt.Errorf("buffer too small for handle at offset %d (len %d)", off, len(buf))
	}
	binary.BigEndian.PutUint32(buf[off:], uint32(h))
	return off + 4, nil
}

// TakeHandle decodes a 4-byte big-endian handle from buf[off:], returning the
// handle and the new offset.
func TakeHandle(buf []byte, off int) (tpmutil.Handle, int, error) {
	if off < 0 || off+4 > len(buf) {
		return 0, off, fmt.Errorf("truncated input: need 4 bytes for handle at offset %d (len %d)", off, len(buf))
	}
	return tpmutil.Handle(binary.BigEndian.Uint32(buf[off:])), off + 4, nil
}

// TakeU16Bytes decodes a size-prefixed byte string (TPM2B) from buf[off:].
func TakeU16Bytes(buf []byte, off int) ([]byte, int, error) {
	if off < 0 || off+2 > len(buf) {
		return nil, off, fmt.Errorf("truncated input: need 2 bytes for size at offset %d (len %d)", off, len(buf))
	}
	n := int(binary.BigEndian.Uint16(buf[off:]))
	off += 2
	if off+n > len(buf) {
		return nil, off, fmt.Errorf("truncated input: size %d at offset %d overruns buffer (len %d)", n, off, len(buf))
	}
	return buf[off : off+n], off + n, nil
}

// NVTemplate describes the public area of an NV index to be defined. The name
// algorithm is fixed at the toolkit default and is not configurable here.
type NVTemplate struct {
	Index      tpmutil.Handle
	Attributes tpm2.NVAttr
	AuthPolicy []byte
	DataSize   uint16
}

// Marshal produces the size-prefixed TPM2B_NV_PUBLIC wire form: index, name
// algorithm, attributes, policy digest, data size.
func (t *NVTemplate) Marshal() ([]byte, error) {
	if len(t.AuthPolicy) > MaxDigestSize {
		return nil, &FormatError{Msg: fmt.Sprintf("authorization policy is %d bytes, digest limit is %d", len(t.AuthPolicy), MaxDigestSize)}
	}
	body := make([]byte, 4+2+4+2+len(t.AuthPolicy)+2)
	off, err := PutHandle(body, 0, t.Index)
	if err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint16(body[off:], uint16(DefaultNameAlg))
	off += 2
	binary.BigEndian.PutUint32(body[off:], uint32(t.Attributes))
	off += 4
	binary.BigEndian.PutUint16(body[off:], uint16(len(t.AuthPolicy)))
	off += 2
	off += copy(body[off:], t.AuthPolicy)
	binary.BigEndian.PutUint16(body[off:], t.DataSize)

	out := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(out, uint16(len(body)))
	copy(out[2:], body)
	return out, nil
}

// Credential files pair the wrapped credential blob with the encrypted seed,
// as produced by a MakeCredential implementation:
// [u32 version=1][u16 size][credential][u16 size][secret].
const credentialFileVersion = 1

// DecodeCredentialFile splits the credential blob and encrypted secret out of
// raw credential-file bytes. Any version other than 1 is a hard failure; no
// best-effort parsing of unknown versions.
func DecodeCredentialFile(raw []byte) (credential, secret []byte, err error) {
	if len(raw) < 4 {
		return nil, nil, &FormatError{Msg: "credential file shorter than its version header"}
	}
	version := binary.BigEndian.Uint32(raw)
	if version != credentialFileVersion {
		return nil, nil, &FormatError{Msg: fmt.Sprintf("unknown credential format version %d, expected %d", version, credentialFileVersion)}
	}
	credential, off, err := TakeU16Bytes(raw, 4)
	if err != nil {
		return nil, nil, &FormatError{Msg: fmt.Sprintf("credential blob: %v", err)}
	}
	secret, off, err = TakeU16Bytes(raw, off)
	if err != nil {
		return nil, nil, &FormatError{Msg: fmt.Sprintf("encrypted secret: %v", err)}
	}
	if off != len(raw) {
		return nil, nil, &FormatError{Msg: fmt.Sprintf("%d trailing bytes after encrypted secret", len(raw)-off)}
	}
	return credential, secret, nil
}

// ReadCredentialFile loads and decodes a credential file from disk.
func ReadCredentialFile(path string) (credential, secret []byte, err error) {
	raw, err := LoadBytesFromPath(path, 0)
	if err != nil {
		return nil, nil, err
	}
	credential, secret, err = DecodeCredentialFile(raw)
	if ferr, ok := err.(*FormatError); ok {
		ferr.Path = path
	}
	return credential, secret, err
}
