// Package scripts embeds the default Risor rule scripts shipped with grove.
// Users can override or extend them with --scripts-dir.
package scripts

import "embed"

//go:embed *.risor
var FS embed.FS
