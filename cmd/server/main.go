// Zera Pilot - classroom boss-fight server with a hidden support channel.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
