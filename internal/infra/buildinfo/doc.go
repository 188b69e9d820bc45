// Package buildinfo provides build information for archvault.
//
// Values are injected via ldflags; anything left unset is filled from
// runtime/debug build information where available:
//
//	go build -ldflags "-X github.com/Legendarykuga/archVault/internal/infra/buildinfo.Version=v1.0.0"
package buildinfo
