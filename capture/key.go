package capture

import "github.com/hazyhaar/pageshot/artifact"

// deriveOutputKey delegates to the artifact key-derivation rule so batch
// output keys and stored artifact keys always agree.
func deriveOutputKey(rawURL string, v Viewport) string {
	return artifact.DeriveKey(rawURL, v.Width, v.Height, v.Mobile)
}
