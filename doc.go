// Package mpx is an ergonomic, type-safe facade for MPI-style distributed
// runtimes. It converts the runtime's opaque handles, out-parameter
// protocols and sentinel-based error discipline into Go value types with
// deterministic resource lifetimes, checked operations and strong
// invariants.
//
// The facade has two centers of gravity:
//
//   - InfoMap, an ordered key/value attribute container backed by the
//     runtime's native attribute object, with explicit ownership (the
//     freeable flag), a read/write-disambiguating Proxy, and a random
//     access iterator family; and
//   - the spawner pair SingleSpawner/MultiSpawner, which aggregate and
//     validate launch configuration and produce a SpawnResult carrying the
//     intercommunicator and per-rank start codes.
//
// A process opens the facade with Init, which negotiates thread support
// and installs the active session; everything else is valid only inside
// the Init/Finalize window:
//
//	sess, err := mpx.Init(ctx, mpx.ThreadFunneled)
//	if err != nil { ... }
//	defer sess.Finalize(ctx)
//
//	info := mpx.NewInfoMapFromPairs(mpx.Pair{Key: "wdir", Value: "/tmp"})
//	defer info.Free()
//
//	res, err := mpx.NewSingleSpawner("worker", 4).
//		SetSpawnInfo(info).
//		AddArgv("--shard", 7).
//		Spawn(ctx)
//
// Error discipline follows the underlying standard's split: violated
// preconditions (illegal keys, null-handle access, iterator misuse,
// bulk-setter size mismatches) are contract violations and panic, while
// expected failures (absent keys, out-of-range indexed accessors, unknown
// enum names, unsatisfied thread support) return typed errors carrying a
// source location.
//
// The runtime primitives themselves live behind an internal interface; the
// default implementation is a conforming single-host runtime that starts
// spawned ranks as local processes and connects them to the parent over a
// gRPC control plane.
package mpx
