package tpm2tool

import (
	"github.com/google/go-tpm/tpmutil"
)

// EvictControl makes a transient object persistent at the given handle, or
// deletes an already-persistent object when object and persistent name the
// same persistent handle. The hierarchy (owner or platform) authorizes the
// operation and may use a real session.
func EvictControl(dev Device, hierarchy, object *LoadedObject, persistent tpmutil.Handle) error {
	return dev.EvictControl(hierarchy.Handle, object.Handle, hierarchy.AuthCommand(), persistent)
}
