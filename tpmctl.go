package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/trustedctl/tpmctl/tpm2tool"
)

var rootCmd = &cobra.Command{
	Use:           "tpmctl",
	Short:         "TPM 2.0 command-line toolkit",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	conf       Config
	devicePath string
)

func main() {
	conf = loadConfig()

	rootCmd.PersistentFlags().StringVar(&devicePath, "device", "", "TPM device path (overrides config)")

	rootCmd.AddCommand(certifyCommand())
	rootCmd.AddCommand(activateCredentialCommand())
	rootCmd.AddCommand(hmacCommand())
	rootCmd.AddCommand(nvCommand())
	rootCmd.AddCommand(evictCommand())
	rootCmd.AddCommand(startSessionCommand())
	rootCmd.AddCommand(readPublicCommand())
	rootCmd.AddCommand(flushCommand())

	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(tpm2tool.ExitCode(err))
	}
}

func openDevice() (tpm2tool.Device, error) {
	path := devicePath
	if path == "" {
		path = conf.Device
	}
	return tpm2tool.OpenDevice(path)
}

// resolveAuthSpec handles the interactive "prompt" source before handing the
// spec to the resolver: the secret read from pinentry becomes a literal.
func resolveAuthSpec(dev tpm2tool.Device, spec string, restricted bool) (*tpm2tool.Session, error) {
	if spec == "prompt" {
		pin, err := getPin("Enter authorization value")
		if err != nil {
			return nil, err
		}
		spec = "str:" + pin
	}
	return tpm2tool.ResolveAuth(dev, spec, restricted)
}

// loadObjectWithAuth is LoadObjectWithAuth plus the prompt interception.
func loadObjectWithAuth(dev tpm2tool.Device, ref, authSpec string) (*tpm2tool.LoadedObject, error) {
	obj, err := tpm2tool.LoadObject(dev, ref)
	if err != nil {
		return nil, err
	}
	session, err := resolveAuthSpec(dev, authSpec, false)
	if err != nil {
		obj.Close()
		return nil, err
	}
	obj.Session = session
	return obj, nil
}
