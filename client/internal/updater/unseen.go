package updater

// unseenFlag implements the nag-once-per-session rule for the tray badge.
// The flag is raised the first time an update is found in this process run
// and stays down for the rest of the run once the user acknowledged it,
// even if the same or another update is reported again.
type unseenFlag struct {
	unseen bool
	seen   bool
}

// markFound raises the flag unless the user already acknowledged an update
// this session. Reports whether the flag changed.
func (f *unseenFlag) markFound() bool {
	if f.seen || f.unseen {
		return false
	}
	f.unseen = true
	return true
}

// acknowledge lowers the flag and pins it down for the rest of the run.
// Reports whether the flag changed.
func (f *unseenFlag) acknowledge() bool {
	changed := f.unseen
	f.unseen = false
	f.seen = true
	return changed
}
