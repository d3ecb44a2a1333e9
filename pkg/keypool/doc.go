// Package keypool holds the authoritative table of upstream keys.
//
// The pool publishes immutable View values through an atomic pointer.
// Request paths call CurrentView and never block; every change goes through
// ApplyMutation, Mutate or Replace. These run one at a time, validate the
// whole change-set, write one audit record per changed key and only then
// swap in the new view. Mutate builds its change-set from the view it
// commits against, so relative edits are never lost to a concurrent writer. A failed validation or audit write leaves the pool exactly
// as it was.
//
// Keys are never deleted while the process runs. A key dropped from
// configuration is kept disabled so its audit history stays resolvable.
package keypool
