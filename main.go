package main

import (
	_ "github.com/manifest-network/tracksync/internal/alpnfix" // Disable ALPN enforcement for peers that don't negotiate it

	"github.com/manifest-network/tracksync/cmd/tracksync"
)

func main() {
	tracksync.Execute()
}
