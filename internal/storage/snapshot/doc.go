// Package snapshot stores the ledger as single-file binary snapshots.
//
// Every save writes a complete snapshot; there is no incremental log.
// File layout:
//
//	archvault-<sequence:20 digits>-<YYYYMMDDhhmmss>.snap
//	[magic:8 "ARCHVSNP"]
//	[HeaderLen:4][HeaderJSON:HeaderLen]
//	[DataLen:4][Data:DataLen]   (JSON ledger, or AEAD-sealed bytes)
//	[checksum:32 SHA-256 of all bytes above]
//
// The sequence is one above the highest in the directory and is also
// stored in the header. Snapshots are ordered by sequence, never by the
// timestamp, so a clock step cannot make an older save look newer.
//
// A snapshot is written to <id>.tmp, fsynced and renamed, so a crash
// leaves either the previous snapshot set or the new one.
//
// Loading is strict: if the newest snapshot is damaged, Load fails.
// Config.AllowFallback opts into loading the newest intact older
// snapshot instead; the skipped IDs are reported in Info.Skipped.
package snapshot
