package iyzico

import "github.com/odemehub/odemehub/provider"

// Register the iyzico provider with the gateway registry
func init() {
	provider.Register("iyzico", NewProvider)
}
