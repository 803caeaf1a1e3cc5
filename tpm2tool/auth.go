package tpm2tool

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpmutil"
)

// ResolveAuth turns a textual authorization specification into a Session.
//
//	""                      empty password
//	str:<secret> / <secret> literal password
//	hex:<hex-secret>        hex-encoded password
//	file:<path>             password read from a file
//	pcr:<bank>:<pcrs>[=<f>] policy session satisfied with PolicyPCR
//	session:<path>          previously saved session context
//
// When restricted is true only password-style sources are accepted: targets
// such as a fresh NV index's auth value are plain secrets, never sessions.
// An unprefixed spec is taken as a literal, so a password that begins with a
// recognized prefix must be written with "str:".
func ResolveAuth(dev Device, spec string, restricted bool) (*Session, error) {
	switch {
	case spec == "":
		return PasswordSession(nil), nil

	case strings.HasPrefix(spec, "str:"):
		return PasswordSession([]byte(spec[len("str:"):])), nil

	case strings.HasPrefix(spec, "hex:"):
		v, err := hex.DecodeString(spec[len("hex:"):])
		if err != nil {
			return nil, OptionErrorf("invalid hex authorization %q: %v", spec, err)
		}
		return PasswordSession(v), nil

	case strings.HasPrefix(spec, "file:"):
		v, err := LoadBytesFromPath(spec[len("file:"):], MaxDigestSize)
		if err != nil {
			return nil, err
		}
		return PasswordSession(v), nil

	case strings.HasPrefix(spec, "pcr:"):
		if restricted {
			return nil, OptionErrorf("a PCR policy cannot authorize this target, expected a password")
		}
		return startPCRSession(dev, spec[len("pcr:"):])

	case strings.HasPrefix(spec, "session:"):
		if restricted {
			return nil, OptionErrorf("a session cannot authorize this target, expected a password")
		}
		return ResumeSession(dev, spec[len("session:"):])

	default:
		return PasswordSession([]byte(spec)), nil
	}
}

// GetShandle returns the authorization-session handle to attach to a command
// touching object: the password sentinel when session carries password-only
// semantics, else the session's live handle.
func GetShandle(object tpmutil.Handle, session *Session) tpmutil.Handle {
	return session.Handle()
}

// startPCRSession opens a policy session and satisfies it with PolicyPCR over
// the selection in spec ("<bank>:<csv-pcrs>", optionally "=<raw-digest-file>"
// holding the expected composite digest). The session is closed again if the
// policy assertion fails.
func startPCRSession(dev Device, spec string) (*Session, error) {
	var digest []byte
	if i := strings.IndexByte(spec, '='); i >= 0 {
		raw, err := LoadBytesFromPath(spec[i+1:], MaxDigestSize)
		if err != nil {
			return nil, err
		}
		digest = raw
		spec = spec[:i]
	}
	sel, err := parsePCRSelection(spec)
	if err != nil {
		return nil, err
	}

	session, err := StartSession(dev, NewSessionData(tpm2.SessionPolicy))
	if err != nil {
		return nil, err
	}
	if err := dev.PolicyPCR(session.Handle(), digest, sel); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}

func parsePCRSelection(spec string) (tpm2.PCRSelection, error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return tpm2.PCRSelection{}, OptionErrorf("invalid PCR specification %q, expected <bank>:<pcr,...>", spec)
	}
	alg, err := HashAlgFromName(parts[0])
	if err != nil {
		return tpm2.PCRSelection{}, err
	}
	sel := tpm2.PCRSelection{Hash: alg}
	for _, f := range strings.Split(parts[1], ",") {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || n < 0 {
			return tpm2.PCRSelection{}, OptionErrorf("invalid PCR index %q", f)
		}
		sel.PCRs = append(sel.PCRs, n)
	}
	return sel, nil
}
