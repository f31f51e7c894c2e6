// Package sync reconciles the local task store with remote calendar servers.
//
// Overview
//
// A full cycle walks every account and calendar in sequence:
//
//	Engine.SyncAll
//	     ├── reconnect accounts without a session
//	     ├── CalendarReconciler.Reconcile   (per account)
//	     └── TaskReconciler.Reconcile       (per calendar)
//	              ├── DeletionQueue.Drain
//	              ├── push tasks with synced=false
//	              ├── fetch the server list
//	              └── diff by uid, resolving CATEGORIES via TagResolver
//
// Conflict policy
//
// A local task with synced=false is never overwritten from the server; the
// next push wins. A synced task takes the server version whenever the etag
// differs. There is no field-level merge.
//
// Deletions queued locally are attempted exactly once. The queue entry is
// cleared even when the server call fails.
//
// Error handling
//
// Failures are isolated per account and per calendar. They are logged,
// recorded in CycleResult.Errors as *UnitError and the cycle moves on. Only
// a failure to enumerate accounts ends the cycle and sets
// Status.LastSyncError. A cycle requested while offline fails fast with
// ErrOffline and sets OfflineMessage.
//
// Concurrency
//
// At most one full cycle is in flight; an overlapping SyncAll returns
// ErrSyncInProgress immediately. SyncCalendar, PushTask and
// RemoveTaskFromServer wait for the running unit instead.
//
// Usage:
//
//	engine, err := sync.New(sync.Config{
//	    Store:        db,
//	    Client:       remote.NewPool(nil),
//	    Connectivity: monitor,
//	})
//	if err != nil {
//	    return err
//	}
//	result, err := engine.SyncAll(ctx)
package sync
