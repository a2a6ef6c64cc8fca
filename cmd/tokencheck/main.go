// Command tokencheck validates bearer tokens against OpenID Connect providers
// from the command line, and can serve a small token-protected HTTP API.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
