package main

import (
	"github.com/spf13/cobra"

	"github.com/trustedctl/tpmctl/tpm2tool"
)

type evictOpts struct {
	hierarchy     string
	hierarchyAuth string
	objectRef     string
	persistent    string
}

func evictCommand() *cobra.Command {
	opts := evictOpts{hierarchy: "o"}

	cmd := &cobra.Command{
		Use:   "evict",
		Short: "persist a transient object, or delete a persistent one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvict(&opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.objectRef, "object-context", "c", "", "object to persist or delete")
	f.StringVarP(&opts.hierarchy, "hierarchy", "a", opts.hierarchy, "hierarchy authorizing the operation (o|p)")
	f.StringVarP(&opts.hierarchyAuth, "auth-hierarchy", "P", "", "authorization for the hierarchy")
	f.StringVarP(&opts.persistent, "persistent-handle", "S", "", "persistent handle to assign (defaults to the object's own handle, deleting it)")

	return cmd
}

func runEvict(opts *evictOpts) error {
	if opts.objectRef == "" {
		return tpm2tool.OptionErrorf("expected --object-context")
	}

	dev, err := openDevice()
	if err != nil {
		return err
	}
	defer dev.Close()

	hierarchy, err := loadObjectWithAuth(dev, opts.hierarchy, opts.hierarchyAuth)
	if err != nil {
		return err
	}
	defer hierarchy.Close()

	object, err := tpm2tool.LoadObject(dev, opts.objectRef)
	if err != nil {
		return err
	}
	defer object.Close()

	persistent := object.Handle
	if opts.persistent != "" {
		h, ok := tpm2tool.ParseHandle(opts.persistent)
		if !ok {
			return tpm2tool.OptionErrorf("could not convert persistent handle to number, got %q", opts.persistent)
		}
		persistent = h
	}

	return tpm2tool.EvictControl(dev, hierarchy, object, persistent)
}
