package utils

import (
	"fmt"
	"strings"
)

// ParseMethodFullName splits a fully qualified method name such as
// "tracksync.p2p.v1.Sync.Headers" into its service and method parts.
func ParseMethodFullName(methodFullName string) (string, string, error) {
	if methodFullName == "" {
		return "", "", fmt.Errorf("method full name is empty")
	}

	dot := strings.LastIndex(methodFullName, ".")
	if dot == -1 {
		return "", "", fmt.Errorf("invalid method full name %q: no dot found", methodFullName)
	}

	service, method := methodFullName[:dot], methodFullName[dot+1:]
	if service == "" || method == "" {
		return "", "", fmt.Errorf("invalid method full name format: %q", methodFullName)
	}
	return service, method, nil
}

// MethodPath returns the gRPC request path ("/service/method") of a fully qualified method name.
func MethodPath(methodFullName string) (string, error) {
	service, method, err := ParseMethodFullName(methodFullName)
	if err != nil {
		return "", err
	}
	return "/" + service + "/" + method, nil
}
