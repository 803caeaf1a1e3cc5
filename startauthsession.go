package main

import (
	"github.com/google/go-tpm/tpm2"
	"github.com/spf13/cobra"

	"github.com/trustedctl/tpmctl/tpm2tool"
)

type startSessionOpts struct {
	policy      bool
	hashName    string
	sessionFile string
}

func startSessionCommand() *cobra.Command {
	var opts startSessionOpts

	cmd := &cobra.Command{
		Use:   "start-session",
		Short: "start an authorization session and save it for later use",
		Long: "Starts an HMAC (default) or policy session and saves its context\n" +
			"to a file, to be referenced later as session:<file> in auth\n" +
			"specifications.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStartSession(&opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.policy, "policy-session", false, "start a policy session instead of an HMAC session")
	f.StringVarP(&opts.hashName, "halg", "g", "", "session hash algorithm")
	f.StringVarP(&opts.sessionFile, "session", "S", "", "output file for the session context")

	return cmd
}

func runStartSession(opts *startSessionOpts) error {
	if opts.sessionFile == "" {
		return tpm2tool.OptionErrorf("expected --session")
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

	sessionType := tpm2.SessionHMAC
	if opts.policy {
		sessionType = tpm2.SessionPolicy
	}
	data := tpm2tool.NewSessionData(sessionType)
	data.SetAuthHash(halg)

	session, err := tpm2tool.StartSession(dev, data)
	if err != nil {
		return err
	}
	// The session intentionally outlives this invocation; saving the context
	// is what hands it to the next tool.
	return session.Save(opts.sessionFile)
}
