package main

import (
	"github.com/google/go-tpm/tpm2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/trustedctl/tpmctl/tpm2tool"
)

type flushOpts struct {
	all bool
}

func flushCommand() *cobra.Command {
	var opts flushOpts

	cmd := &cobra.Command{
		Use:   "flush [handle...]",
		Short: "flush transient objects and sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlush(&opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.all, "all", false, "flush every loaded object, sequence and session")

	return cmd
}

func runFlush(opts *flushOpts, args []string) error {
	if !opts.all && len(args) == 0 {
		return tpm2tool.OptionErrorf("expected --all or at least one handle")
	}

	dev, err := openDevice()
	if err != nil {
		return err
	}
	defer dev.Close()

	if opts.all {
		types := []tpm2.HandleType{
			tpm2.HandleTypeLoadedSession,
			tpm2.HandleTypeSavedSession,
			tpm2.HandleTypeTransient,
		}
		for _, t := range types {
			handles, err := dev.Handles(t)
			if err != nil {
				return err
			}
			for _, h := range handles {
				if err := dev.FlushContext(h); err != nil {
					return err
				}
				log.Debugf("flushed 0x%x", uint32(h))
			}
		}
		return nil
	}

	for _, arg := range args {
		h, ok := tpm2tool.ParseHandle(arg)
		if !ok {
			return tpm2tool.OptionErrorf("could not convert handle to number, got %q", arg)
		}
		if err := dev.FlushContext(h); err != nil {
			return err
		}
	}
	return nil
}
