package main

import (
	"github.com/spf13/cobra"

	"github.com/trustedctl/tpmctl/tpm2tool"
)

type certifyOpts struct {
	objectRef  string
	objectAuth string
	keyRef     string
	keyAuth    string
	hashName   string
	attestPath string
	sigPath    string
}

func certifyCommand() *cobra.Command {
	var opts certifyOpts

	cmd := &cobra.Command{
		Use:   "certify",
		Short: "attest that an object is loaded in the TPM, signed by a key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCertify(&opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.objectRef, "obj-context", "C", "", "context of the object to certify")
	f.StringVarP(&opts.keyRef, "key-context", "c", "", "context of the signing key")
	f.StringVarP(&opts.objectAuth, "auth-object", "P", "", "authorization for the certified object")
	f.StringVarP(&opts.keyAuth, "auth-key", "p", "", "authorization for the signing key")
	f.StringVarP(&opts.hashName, "halg", "g", "", "hash algorithm for the signature scheme")
	f.StringVarP(&opts.attestPath, "out-attest-file", "o", "", "output file for the attestation structure")
	f.StringVarP(&opts.sigPath, "sig-file", "s", "", "output file for the signature")

	return cmd
}

func runCertify(opts *certifyOpts) error {
	if opts.objectRef == "" || opts.keyRef == "" || opts.attestPath == "" || opts.sigPath == "" {
		return tpm2tool.OptionErrorf("expected --obj-context, --key-context, --out-attest-file and --sig-file")
	}
	hashName := opts.hashName
	if hashName == "" {
		hashName = conf.DefaultHash
	}
	halg, err := tpm2tool.HashAlgFromName(hashName)
	if err != nil {
		return err
	}

	dev, err := openDevice()
	if err != nil {
		return err
	}
	defer dev.Close()

	object, err := loadObjectWithAuth(dev, opts.objectRef, opts.objectAuth)
	if err != nil {
		return err
	}
	defer object.Close()

	key, err := loadObjectWithAuth(dev, opts.keyRef, opts.keyAuth)
	if err != nil {
		return err
	}
	defer key.Close()

	attest, sig, err := tpm2tool.Certify(dev, object, key, halg)
	if err != nil {
		return err
	}

	if err := tpm2tool.SaveBytesToFile(opts.attestPath, attest); err != nil {
		return err
	}
	return tpm2tool.SaveBytesToFile(opts.sigPath, sig)
}
