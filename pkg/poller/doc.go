// Package poller implements the periodic sample collection loop.
//
// The poller fetches the account's device list, polls each device's latest
// samples through a bounded worker pool, and persists devices, samples, and
// per-run bookkeeping to the store. Retryable API failures are retried with
// exponential backoff per device; throttled responses back off harder so the
// rate limit can recover. One poll cycle is recorded as one poll run, with
// per-device outcomes appended to the event log.
package poller
