package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trustedctl/tpmctl/tpm2tool"
)

type activateCredentialOpts struct {
	credentialedKeyRef  string
	credentialedKeyAuth string
	credentialKeyRef    string
	credentialKeyAuth   string
	credentialFile      string
	outputFile          string
}

func activateCredentialCommand() *cobra.Command {
	var opts activateCredentialOpts

	cmd := &cobra.Command{
		Use:   "activate-credential",
		Short: "recover the secret wrapped for a key by a credential provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runActivateCredential(&opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.credentialedKeyRef, "credentialedkey-context", "c", "", "context of the credentialed key (typically an AK)")
	f.StringVarP(&opts.credentialKeyRef, "credentialkey-context", "C", "", "context of the credential key (typically the EK)")
	f.StringVarP(&opts.credentialedKeyAuth, "credentialedkey-auth", "P", "", "authorization for the credentialed key")
	f.StringVarP(&opts.credentialKeyAuth, "credentialkey-auth", "E", "", "authorization for the endorsement hierarchy")
	f.StringVarP(&opts.credentialFile, "credential-secret", "i", "", "credential file from the provider")
	f.StringVarP(&opts.outputFile, "certinfo-data", "o", "", "output file for the recovered certification info")

	return cmd
}

func runActivateCredential(opts *activateCredentialOpts) error {
	if opts.credentialedKeyRef == "" || opts.credentialKeyRef == "" ||
		opts.credentialFile == "" || opts.outputFile == "" {
		return tpm2tool.OptionErrorf("expected --credentialedkey-context, --credentialkey-context, --credential-secret and --certinfo-data")
	}

	credential, secret, err := tpm2tool.ReadCredentialFile(opts.credentialFile)
	if err != nil {
		return err
	}

	dev, err := openDevice()
	if err != nil {
		return err
	}
	defer dev.Close()

	credentialedKey, err := loadObjectWithAuth(dev, opts.credentialedKeyRef, opts.credentialedKeyAuth)
	if err != nil {
		return err
	}
	defer credentialedKey.Close()

	credentialKey, err := tpm2tool.LoadObject(dev, opts.credentialKeyRef)
	if err != nil {
		return err
	}
	defer credentialKey.Close()

	// Authorizes the endorsement hierarchy for the PolicySecret assertion.
	endorseSession, err := resolveAuthSpec(dev, opts.credentialKeyAuth, false)
	if err != nil {
		return err
	}
	defer endorseSession.Close()

	certInfo, err := tpm2tool.ActivateCredential(dev, credentialedKey, credentialKey,
		endorseSession, credential, secret)
	if err != nil {
		return err
	}

	fmt.Printf("certinfodata:%s\n", hex.EncodeToString(certInfo))
	return tpm2tool.SaveBytesToFile(opts.outputFile, certInfo)
}
