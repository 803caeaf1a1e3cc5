package main

import (
	"fmt"

	"github.com/foxcpp/go-assuan/pinentry"
)

func getPin(prompt string) (string, error) {
	p, err := pinentry.Launch()
	if err != nil {
		return "", fmt.Errorf("failed to start pinentry: %w", err)
	}
	defer p.Shutdown()
	p.SetTitle("tpmctl")
	p.SetPrompt("tpmctl")
	p.SetDesc(prompt)
	pin, err := p.GetPIN()
	return pin, err
}
