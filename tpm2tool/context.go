package tpm2tool

import (
	"encoding/binary"
	"fmt"
)

// Context files wrap the opaque TPM saved-context blob with a format version:
// [u32 version=1][blob]. The blob itself is TPM-defined and never inspected.
const contextFileVersion = 1

// WriteContextFile persists a saved object or session context.
func WriteContextFile(path string, blob []byte) error {
	out := make([]byte, 4+len(blob))
	binary.BigEndian.PutUint32(out, contextFileVersion)
	copy(out[4:], blob)
	return SaveBytesToFile(path, out)
}

// ReadContextFile loads a saved context blob, validating the version header.
func ReadContextFile(path string) ([]byte, error) {
	raw, err := LoadBytesFromPath(path, 0)
	if err != nil {
		return nil, err
	}
	if len(raw) < 4 {
		return nil, &FormatError{Path: path, Msg: "context file shorter than its version header"}
	}
	version := binary.BigEndian.Uint32(raw)
	if version != contextFileVersion {
		return nil, &FormatError{Path: path, Msg: fmt.Sprintf("unknown context format version %d, expected %d", version, contextFileVersion)}
	}
	return raw[4:], nil
}
