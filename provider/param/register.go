package param

import "github.com/odemehub/odemehub/provider"

// Register the Param provider with the gateway registry
func init() {
	provider.Register("param", NewProvider)
}
