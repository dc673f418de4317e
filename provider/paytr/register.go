package paytr

import "github.com/odemehub/odemehub/provider"

// Register the PayTR provider with the gateway registry
func init() {
	provider.Register("paytr", NewProvider)
}
