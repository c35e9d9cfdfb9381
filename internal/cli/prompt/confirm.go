// Package prompt provides interactive confirmation prompts for
// sessionfleetd's destructive admin commands.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the operator cancels a prompt with Ctrl+C.
var ErrAborted = errors.New("prompt: aborted by operator")

// Confirm asks a yes/no question, defaulting to defaultYes on empty input.
func Confirm(label string, defaultYes bool) (bool, error) {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}

	p := promptui.Prompt{Label: fmt.Sprintf("%s [%s]", label, hint)}
	result, err := p.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return false, ErrAborted
		}
		return false, err
	}
	if result == "" {
		return defaultYes, nil
	}
	return strings.EqualFold(result, "y") || strings.EqualFold(result, "yes"), nil
}

// ConfirmWithForce skips the prompt entirely when force is true, the pattern
// every destructive sessionfleetd admin command follows so it can run
// unattended in scripts with --force.
func ConfirmWithForce(label string, force bool) (bool, error) {
	if force {
		return true, nil
	}
	return Confirm(label, false)
}
