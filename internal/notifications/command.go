package notifications

// command is an optimistic local change with its compensating action
type command interface {
	// apply flips local state; it reports false when there was nothing to do
	apply(f *Feed) bool
	undo(f *Feed)
}

// markReadCommand marks one notification read
type markReadCommand struct {
	id string
}

func (c *markReadCommand) apply(f *Feed) bool {
	i := f.indexLocked(c.id)
	if i < 0 || f.items[i].Read {
		return false
	}

	f.items[i].Read = true
	return true
}

func (c *markReadCommand) undo(f *Feed) {
	if i := f.indexLocked(c.id); i >= 0 {
		f.items[i].Read = false
	}
}

// markAllCommand marks every unread notification read and remembers which
// ones it flipped
type markAllCommand struct {
	flipped []string
}

func (c *markAllCommand) apply(f *Feed) bool {
	for i := range f.items {
		if !f.items[i].Read {
			f.items[i].Read = true
			c.flipped = append(c.flipped, f.items[i].ID)
		}
	}

	return len(c.flipped) > 0
}

func (c *markAllCommand) undo(f *Feed) {
	for _, id := range c.flipped {
		if i := f.indexLocked(id); i >= 0 {
			f.items[i].Read = false
		}
	}
}
