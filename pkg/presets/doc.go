// Package presets stores named weight tables. Presets are configuration,
// not history: they can be deleted, and applying one is an ordinary audited
// batch mutation performed by the weights service.
package presets
