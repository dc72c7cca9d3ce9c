// Package dedupgate admits at most one ballot per voter and election.
//
// The gate consumes function=submit messages, reserves the voter's dedup key
// with a single conditional write, strips the voter identity and forwards the
// ballot as function=record. Any later ballot for the same key is answered
// with an AlreadyVoted result addressed to the originating machine.
package dedupgate
