// Package alpnfix disables grpc-go's ALPN enforcement so that TLS peers (--peer-tls)
// whose terminators don't negotiate h2 can still be reached.
// Import with blank identifier before any grpc imports: _ "github.com/manifest-network/tracksync/internal/alpnfix"
package alpnfix

import "os"

// EnvVar is read by grpc-go when its credentials package is initialized.
const EnvVar = "GRPC_ENFORCE_ALPN_ENABLED"

func init() {
	// An explicit setting from the environment wins.
	if _, ok := os.LookupEnv(EnvVar); ok {
		return
	}
	os.Setenv(EnvVar, "false")
}
