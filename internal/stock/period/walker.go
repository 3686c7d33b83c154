package period

// Walker yields periods backward in time, starting at a given period, for at
// most a fixed number of steps. A Walker is single use; build a new one to
// restart.
type Walker struct {
	next      Period
	remaining int
}

// NewWalker returns a walker whose first value is start.
func NewWalker(start Period, limit int) *Walker {
	if limit < 0 {
		limit = 0
	}
	return &Walker{next: start, remaining: limit}
}

// Next returns the next period and true, or false once the limit is reached.
func (w *Walker) Next() (Period, bool) {
	if w.remaining == 0 {
		return Period{}, false
	}
	p := w.next
	w.next = p.Previous()
	w.remaining--
	return p, true
}

// Remaining reports how many periods the walker can still yield.
func (w *Walker) Remaining() int {
	return w.remaining
}
