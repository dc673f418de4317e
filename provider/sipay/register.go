package sipay

import "github.com/odemehub/odemehub/provider"

// Register the sipay provider with the gateway registry
func init() {
	provider.Register("sipay", NewProvider)
}
