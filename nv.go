package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/trustedctl/tpmctl/tpm2tool"
)

func nvCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nv",
		Short: "non-volatile storage commands",
	}
	cmd.AddCommand(nvDefineCommand())
	cmd.AddCommand(nvReadCommand())
	return cmd
}

type nvDefineOpts struct {
	index         string
	hierarchy     string
	hierarchyAuth string
	indexAuth     string
	size          uint16
	attributes    string
	policyFile    string
}

func nvDefineCommand() *cobra.Command {
	opts := nvDefineOpts{
		hierarchy: "o",
		size:      tpm2tool.MaxNVBufferSize,
	}

	cmd := &cobra.Command{
		Use:   "define",
		Short: "define an NV index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNVDefine(&opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.index, "index", "x", "", "NV index to define")
	f.StringVarP(&opts.hierarchy, "hierarchy", "a", opts.hierarchy, "hierarchy authorizing the definition (o|p)")
	f.StringVarP(&opts.hierarchyAuth, "auth-hierarchy", "P", "", "authorization for the hierarchy")
	f.StringVarP(&opts.indexAuth, "auth-index", "p", "", "authorization value of the new index")
	f.Uint16VarP(&opts.size, "size", "s", opts.size, "declared data size")
	f.StringVarP(&opts.attributes, "attributes", "b", "", "NV attribute mask (numeric)")
	f.StringVarP(&opts.policyFile, "policy-file", "L", "", "file holding the index authorization policy digest")

	return cmd
}

func runNVDefine(opts *nvDefineOpts) error {
	index, ok := tpm2tool.ParseHandle(opts.index)
	if !ok {
		return tpm2tool.OptionErrorf("could not convert NV index to number, got %q", opts.index)
	}

	var attributes uint64
	if opts.attributes != "" {
		var err error
		attributes, err = strconv.ParseUint(opts.attributes, 0, 32)
		if err != nil {
			return tpm2tool.OptionErrorf("could not convert NV attributes to number, got %q", opts.attributes)
		}
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

	// The index's own auth value is a plain secret: sessions are rejected.
	indexAuth, err := resolveAuthSpec(dev, opts.indexAuth, true)
	if err != nil {
		return err
	}
	defer indexAuth.Close()

	cfg := tpm2tool.NVDefineConfig{
		Index:      index,
		Size:       opts.size,
		Attributes: uint32(attributes),
		NVAuth:     indexAuth.AuthValue(),
		PolicyFile: opts.policyFile,
	}
	return tpm2tool.NVDefine(dev, hierarchy, &cfg)
}

type nvReadOpts struct {
	index      string
	authRef    string
	auth       string
	outputFile string
}

func nvReadCommand() *cobra.Command {
	var opts nvReadOpts

	cmd := &cobra.Command{
		Use:   "read",
		Short: "read the contents of an NV index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNVRead(&opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.index, "index", "x", "", "NV index to read")
	f.StringVarP(&opts.authRef, "auth-handle", "a", "", "handle authorizing the read (defaults to the index itself)")
	f.StringVarP(&opts.auth, "auth", "P", "", "password authorizing the read")
	f.StringVarP(&opts.outputFile, "out-file", "o", "", "output file for the data")

	return cmd
}

func runNVRead(opts *nvReadOpts) error {
	index, ok := tpm2tool.ParseHandle(opts.index)
	if !ok {
		return tpm2tool.OptionErrorf("could not convert NV index to number, got %q", opts.index)
	}

	dev, err := openDevice()
	if err != nil {
		return err
	}
	defer dev.Close()

	authHandle := index
	if opts.authRef != "" {
		auth, err := tpm2tool.LoadObject(dev, opts.authRef)
		if err != nil {
			return err
		}
		defer auth.Close()
		authHandle = auth.Handle
	}

	session, err := resolveAuthSpec(dev, opts.auth, true)
	if err != nil {
		return err
	}
	defer session.Close()

	data, err := tpm2tool.NVRead(dev, index, authHandle, string(session.AuthValue()))
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", hex.EncodeToString(data))
	if opts.outputFile != "" {
		return tpm2tool.SaveBytesToFile(opts.outputFile, data)
	}
	return nil
}
