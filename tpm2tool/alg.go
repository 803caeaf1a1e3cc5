package tpm2tool

import (
	"github.com/google/go-tpm/tpm2"
)

// DefaultNameAlg is the name algorithm used for every object and NV index
// this toolkit defines.
const DefaultNameAlg = tpm2.AlgSHA256

var hashAlgNames = map[string]tpm2.Algorithm{
	"sha1":   tpm2.AlgSHA1,
	"sha256": tpm2.AlgSHA256,
	"sha384": tpm2.AlgSHA384,
	"sha512": tpm2.AlgSHA512,
}

// HashAlgFromName resolves a lowercase hash algorithm name. Unknown names are
// an option error.
func HashAlgFromName(name string) (tpm2.Algorithm, error) {
	alg, ok := hashAlgNames[name]
	if !ok {
		return tpm2.AlgUnknown, OptionErrorf("unknown hash algorithm %q", name)
	}
	return alg, nil
}

// HashAlgName is the inverse of HashAlgFromName, for display.
func HashAlgName(alg tpm2.Algorithm) string {
	for name, a := range hashAlgNames {
		if a == alg {
			return name
		}
	}
	return "unknown"
}
