package updater

// accumulator tracks cumulative bytes received against an expected total for
// a single download attempt. An expected total of zero means the server did
// not announce a length; the fraction stays at zero until a real total
// arrives.
type accumulator struct {
	received int64
	expected int64
}

func (a *accumulator) reset() {
	a.received = 0
	a.expected = 0
}

func (a *accumulator) setExpected(n int64) {
	a.expected = n
}

func (a *accumulator) add(n int64) {
	a.received += n
}

// fraction reports download completion in [0, 1], clamped once the received
// bytes pass the announced total.
func (a *accumulator) fraction() float64 {
	if a.expected <= 0 {
		return 0
	}
	f := float64(a.received) / float64(a.expected)
	if f > 1 {
		return 1
	}
	return f
}
