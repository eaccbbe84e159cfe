// Package appfs embeds the static files shipped with the binaries.
package appfs

import "embed"

//go:embed migrations assets assets/templates/email/_*
var FS embed.FS
