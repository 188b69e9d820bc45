// Package confloader loads ArchVault configuration with koanf.
//
// Priority (highest to lowest):
//
//  1. Command-line flags (LoadMap)
//  2. Environment variables (ARCHVAULT_SECTION_KEY)
//  3. Configuration file (YAML)
//  4. Default values (the target struct's existing contents)
//
// Watcher reports edits of the configuration file so the interactive
// shell can pick up a new log level without restarting.
package confloader
