package tpm2tool

import (
	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpmutil"
	log "github.com/sirupsen/logrus"
)

// NVDefineConfig carries everything `nv define` needs beyond the authorizing
// hierarchy: the index, its declared size and attributes, the index's own
// auth value, and an optional authorization policy digest.
type NVDefineConfig struct {
	Index      tpmutil.Handle
	Size       uint16
	Attributes uint32
	NVAuth     []byte
	PolicyFile string
}

// NVDefine defines an NV index under hierarchy's authorization. A size of 0
// is legal (the index simply holds no data yet) and only warns. The policy
// file's bytes are used verbatim as the index's authorization policy and must
// fit a digest buffer. The define command's result code is authoritative.
func NVDefine(dev Device, hierarchy *LoadedObject, cfg *NVDefineConfig) error {
	if cfg.Index == 0 {
		return OptionErrorf("NV index cannot be 0")
	}
	if cfg.Size == 0 {
		log.Warnf("defining NV index 0x%x with size 0", uint32(cfg.Index))
	}

	template := &NVTemplate{
		Index:      cfg.Index,
		Attributes: tpm2.NVAttr(cfg.Attributes),
		DataSize:   cfg.Size,
	}
	if cfg.PolicyFile != "" {
		policy, err := LoadBytesFromPath(cfg.PolicyFile, MaxDigestSize)
		if err != nil {
			return err
		}
		template.AuthPolicy = policy
	}

	if err := dev.NVDefineSpace(hierarchy.Handle, hierarchy.AuthCommand(), cfg.NVAuth, template); err != nil {
		return err
	}
	log.Infof("defined NV index 0x%x", uint32(cfg.Index))
	return nil
}

// NVRead reads the full contents of an NV index. authHandle selects who
// authorizes the read (the index itself or a hierarchy); password sessions
// only, matching the library's NV read helper.
func NVRead(dev Device, index, authHandle tpmutil.Handle, password string) ([]byte, error) {
	return dev.NVRead(index, authHandle, password)
}
