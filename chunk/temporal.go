package chunk

// Temporal chunks implement a one-step delay line: the source chunk's means,
// captured by Remember, become this chunk's clamped value on the next clamp.

// Remember captures the source chunk's current means, once per clamp cycle.
// The first capture since the last clamp wins; later calls before the next
// clamp are ignored.
func (c *Chunk) Remember() {
	if c.kind != Temporal || c.hasHeld {
		return
	}
	copy(c.held[:c.stripes*c.size], c.source.means.data())
	c.hasHeld = true
}

// RestoreRemembered replaces nodes with the held buffer and clears the held
// flag. Called at clamp time, before new inputs are applied elsewhere.
func (c *Chunk) RestoreRemembered() {
	if c.kind != Temporal || !c.hasHeld {
		return
	}
	copy(c.nodes.data(), c.held[:c.stripes*c.size])
	c.SnapshotMeans()
	c.hasHeld = false
	c.BumpVersion()
}

// Source returns the chunk a Temporal chunk remembers, or nil.
func (c *Chunk) Source() *Chunk { return c.source }
