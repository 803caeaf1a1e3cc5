package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/trustedctl/tpmctl/tpm2tool"
)

type hmacOpts struct {
	keyRef     string
	keyAuth    string
	hashName   string
	outputFile string
}

func hmacCommand() *cobra.Command {
	var opts hmacOpts

	cmd := &cobra.Command{
		Use:   "hmac [input-file]",
		Short: "compute an HMAC over a file or stdin with a TPM-resident key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHmac(&opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.keyRef, "key-context", "C", "", "context of the HMAC key")
	f.StringVarP(&opts.keyAuth, "auth-key", "P", "", "authorization for the HMAC key")
	f.StringVarP(&opts.hashName, "halg", "g", "", "hash algorithm")
	f.StringVarP(&opts.outputFile, "out-file", "o", "", "output file for the HMAC bytes")

	return cmd
}

func runHmac(opts *hmacOpts, args []string) error {
	if opts.keyRef == "" {
		return tpm2tool.OptionErrorf("expected --key-context")
	}
	hashName := opts.hashName
	if hashName == "" {
		hashName = conf.DefaultHash
	}
	halg, err := tpm2tool.HashAlgFromName(hashName)
	if err != nil {
		return err
	}

	var input io.Reader = os.Stdin
	size := int64(-1)
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open %s: %w", args[0], err)
		}
		defer f.Close()
		// Pipes and other non-regular files keep the unknown-size streaming
		// path.
		if fi, err := f.Stat(); err == nil && fi.Mode().IsRegular() {
			size = fi.Size()
		}
		input = f
	}

	dev, err := openDevice()
	if err != nil {
		return err
	}
	defer dev.Close()

	key, err := loadObjectWithAuth(dev, opts.keyRef, opts.keyAuth)
	if err != nil {
		return err
	}
	defer key.Close()

	digest, err := tpm2tool.Hmac(dev, key, halg, input, size)
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", hex.EncodeToString(digest))
	if opts.outputFile != "" {
		return tpm2tool.SaveBytesToFile(opts.outputFile, digest)
	}
	return nil
}
