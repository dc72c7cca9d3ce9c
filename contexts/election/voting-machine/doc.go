// Package votingmachine casts ballots for one machine and waits for the
// result correlated to each one.
package votingmachine
