// Package offsync keeps an application usable while its network is away.
//
// Components:
//   - Cache[V]: per-namespace in-memory map. Reads are synchronous; every write
//     lands in memory first and is then posted, fire-and-forget, over the SyncBridge.
//   - SyncBridge (package bridge): one-way CACHE_SYNC messages towards the background
//     and SYNC_* notifications back to every foreground client.
//   - CacheSyncHandler (package syncer): applies messages to the DurableStore.
//   - DurableStore (packages store, durable): ordered key-value backends
//     (memory, SQLite, Redis, BigCache, Ristretto read-through).
//   - RequestReplayQueue (package replay): durable FIFO of mutating requests that
//     failed in transport, replayed in order when connectivity returns.
//   - ConnectivityMonitor (package connectivity): online/offline state and relayed
//     lifecycle notifications.
//
// Keys:
//
//	<namespace>:<key>  - one durable entry of a cache namespace
//	<queue>:<seq>      - one queued request (zero-padded sequence)
//
// Wiring:
//
//	rt, _ := offsync.NewRuntime(ctx, offsync.RuntimeOptions{Open: sqlite.Opener(dir)})
//	_ = rt.Start(ctx)
//	defer rt.Close(ctx)
//	drafts, _ := offsync.OpenCache[Draft](ctx, rt, "drafts", codec.JSON[Draft]{})
//	drafts.Set("d1", Draft{Title: "x"}) // memory now, durable soon
package offsync
