package tpm2tool

import (
	"github.com/google/go-tpm/tpm2"
)

// Fixed qualifying data attached to every certification, matching the classic
// tool behavior.
var certifyQualifyingData = []byte{0x00, 0xff, 0x55, 0xaa}

// signingScheme picks the signature scheme for a signing key's public type.
// Anything outside the closed {RSA, ECC, keyed-hash} set is an
// UnsupportedKeyTypeError; there is no default fallthrough.
func signingScheme(keyType tpm2.Algorithm, hashAlg tpm2.Algorithm) (*tpm2.SigScheme, error) {
	switch keyType {
	case tpm2.AlgRSA:
		return &tpm2.SigScheme{Alg: tpm2.AlgRSASSA, Hash: hashAlg}, nil
	case tpm2.AlgECC:
		return &tpm2.SigScheme{Alg: tpm2.AlgECDSA, Hash: hashAlg}, nil
	case tpm2.AlgKeyedHash:
		return &tpm2.SigScheme{Alg: tpm2.AlgHMAC, Hash: hashAlg}, nil
	default:
		return nil, &UnsupportedKeyTypeError{Type: keyType}
	}
}

// Certify attests that object is loaded in the TPM, signed by key. The
// signing scheme is derived from the key's public type before any Certify
// command is issued. Returns the raw attestation structure and the raw TSS
// signature.
func Certify(dev Device, object, key *LoadedObject, hashAlg tpm2.Algorithm) (attest, sig []byte, err error) {
	pub, _, err := dev.ReadPublic(key.Handle)
	if err != nil {
		return nil, nil, err
	}
	scheme, err := signingScheme(pub.Type, hashAlg)
	if err != nil {
		return nil, nil, err
	}
	return dev.Certify(object.Handle, key.Handle,
		object.AuthCommand(), key.AuthCommand(),
		certifyQualifyingData, scheme)
}
