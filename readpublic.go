package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trustedctl/tpmctl/tpm2tool"
)

type readPublicOpts struct {
	objectRef  string
	outputFile string
}

func readPublicCommand() *cobra.Command {
	var opts readPublicOpts

	cmd := &cobra.Command{
		Use:   "read-public",
		Short: "read an object's public area and name",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReadPublic(&opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.objectRef, "object-context", "c", "", "object to read")
	f.StringVarP(&opts.outputFile, "out-file", "o", "", "output file for the encoded public area")

	return cmd
}

func runReadPublic(opts *readPublicOpts) error {
	if opts.objectRef == "" {
		return tpm2tool.OptionErrorf("expected --object-context")
	}

	dev, err := openDevice()
	if err != nil {
		return err
	}
	defer dev.Close()

	object, err := tpm2tool.LoadObject(dev, opts.objectRef)
	if err != nil {
		return err
	}
	defer object.Close()

	pub, name, err := dev.ReadPublic(object.Handle)
	if err != nil {
		return err
	}

	fmt.Printf("name: %s\n", hex.EncodeToString(name))
	fmt.Printf("type: 0x%x\n", uint16(pub.Type))

	if opts.outputFile != "" {
		encoded, err := pub.Encode()
		if err != nil {
			return fmt.Errorf("encode public area: %w", err)
		}
		return tpm2tool.SaveBytesToFile(opts.outputFile, encoded)
	}
	return nil
}
