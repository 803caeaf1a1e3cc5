package tpm2tool

import (
	"github.com/google/go-tpm/tpm2"
)

// ActivateCredential recovers the certification secret protected by a
// credential blob. The credential key (typically an EK) is authorized through
// a fresh policy session satisfied with PolicySecret under the endorsement
// hierarchy; the credentialed key (typically an AK) uses its own
// authorization. The policy session is closed on every path.
//
// endorseSession authorizes the endorsement hierarchy itself for the
// PolicySecret assertion and is usually a password session.
func ActivateCredential(dev Device, credentialedKey, credentialKey *LoadedObject,
	endorseSession *Session, credential, secret []byte) ([]byte, error) {

	session, err := StartSession(dev, NewSessionData(tpm2.SessionPolicy))
	if err != nil {
		return nil, err
	}
	defer session.Close()

	err = dev.PolicySecret(tpm2.HandleEndorsement, endorseSession.AuthCommand(),
		session.Handle(), 0)
	if err != nil {
		return nil, err
	}

	auth := []tpm2.AuthCommand{
		credentialedKey.AuthCommand(),
		session.AuthCommand(),
	}
	return dev.ActivateCredential(credentialedKey.Handle, credentialKey.Handle,
		auth, credential, secret)
}
