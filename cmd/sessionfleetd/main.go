// Command sessionfleetd runs the multi-tenant WhatsApp-style session fleet
// controller: CredentialStore, SessionStore, ConnectionFactory,
// SessionController, FleetManager, WebHandoverCoordinator, and the thin
// REST surface, wired together per the documented external interfaces.
package main

import (
	"fmt"
	"os"

	"github.com/marmos91/sessionfleet/cmd/sessionfleetd/commands"
)

func main() {
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
