// Package voterecorder commits admitted ballots to the durable ledger.
//
// Each function=record message becomes one row in votes, keyed by the ballot
// UUID so redeliveries are no-ops. The "successful" result for the
// originating machine is written to vote_result_outbox in the same
// transaction, published right away, and republished by a relay if that
// first publish fails. The module also serves per-election tallies.
package voterecorder
