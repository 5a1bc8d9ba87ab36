// Package compat implements the mod compatibility payload exchanged when a
// client connects to a server: the data model, its backward and forward
// compatible binary encoding, and the policy queries the handshake layer
// uses to accept or reject a peer.
//
// # Data Model
//
//   - [CompatibilityLevel]: whether a module's absence on a peer blocks the connection
//   - [VersionStrictness]: how deep a version mismatch must go to count
//   - [Module]: one mod's identity and policy
//   - [VersionData]: game version plus the ordered module list
//   - [ServerVersionData]: a received payload indexed by module ID
//
// # Layouts
//
// Module records come in two shapes. The legacy shape has no tag and no
// GUID. The current shape starts with a data layout tag. A payload carries
// every module twice, once per shape, so that older peers can stop reading
// after the legacy block:
//
//	vd, _ := compat.NewVersionData(game, "0.217.46", 34, modules)
//	data, _ := vd.Encode()
//
//	peer, err := compat.DecodeVersionData(data)
//	if err != nil {
//	    // peer is populated as far as it could be read
//	}
//
// A record with an unknown layout tag stops decoding of the module list; the
// payload then reports IsSupportedDataLayout() == false.
//
// # Concurrency
//
// Module and VersionData are immutable. ServerVersionData may be Reset by
// the connection handler; its accessors synchronize with Reset.
package compat
