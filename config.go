package main

import (
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Device      string `toml:"device"`
	DefaultHash string `toml:"default-hash"`
}

func confDir() string {
	u, err := user.Current()
	if err != nil {
		panic(err)
	}
	return filepath.Join(u.HomeDir, ".tpmctl")
}

// loadConfig reads ~/.tpmctl/config.toml. The file is optional; a missing
// file means defaults.
func loadConfig() Config {
	conf := Config{
		Device:      "/dev/tpmrm0",
		DefaultHash: "sha256",
	}

	confPath := filepath.Join(confDir(), "config.toml")
	tml, err := ioutil.ReadFile(confPath)
	if os.IsNotExist(err) {
		return conf
	}
	if err != nil {
		log.Fatalf("read config: %v", err)
	}
	if err := toml.Unmarshal(tml, &conf); err != nil {
		log.Fatalf("parse %s: %v", confPath, err)
	}
	if conf.Device == "" {
		conf.Device = "/dev/tpmrm0"
	}
	if conf.DefaultHash == "" {
		conf.DefaultHash = "sha256"
	}
	return conf
}
