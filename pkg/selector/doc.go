// Package selector chooses which key serves a request.
//
// Select reads the current key pool view, keeps keys that are enabled,
// carry positive weight and have rate budget, and draws one with
// probability proportional to weight using a cumulative-weight prefix array
// and binary search. The chosen key's budget is reserved before returning.
// If the reservation loses a race, the key is removed and the draw repeats
// over the remaining keys, at most once per eligible key.
//
//	sel, err := s.Select(ctx)
//	if errors.Is(err, selector.ErrAllKeysExhausted) {
//		// back off and retry later
//	}
//	resp, err := callUpstream(ctx, sel.Credential)
//	sel.Done(outcomeOf(err), time.Since(sel.ReservedAt))
package selector
