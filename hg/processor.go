package hg

// dispatch is the processor: registry lookup followed by either invoking
// the registered handler (the one piece of user code hg.Trigger calls on
// the target side) or, when no handler is registered for the request's id,
// synthesizing a NoMatch response so the origin doesn't hang waiting on a
// recv that will never arrive.
func (c *Class) dispatch(h *Handle) {
	info, ok := c.lookup(h.id)
	if !ok {
		h.status = StatusNoMatch
		respondNoMatch(h)
		return
	}
	// Bumped only on a successful match, matching the reference processor's
	// own ordering: a NoMatch handle never reaches the user handler, so it
	// must not receive the extra reference that handler is entitled to
	// release - Respond's single internal release is the only one coming.
	h.refcount.Add(1)
	info.handler(h)
}

// respondNoMatch sends back a bare response header carrying StatusNoMatch;
// there is no registered handler to call Respond for it, and Respond itself
// releases h's processing-list slot and reference regardless of outcome.
func respondNoMatch(h *Handle) {
	_ = Respond(h, StatusNoMatch)
}
