package assets

import _ "embed"

// ConfigExample holds the embedded example config.
//
//go:embed config_example_embed.yaml
var ConfigExample []byte
