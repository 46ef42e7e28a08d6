package backtrace

// Reverse returns stack with frame order flipped, converting backtrace(3)'s
// innermost-caller-first convention into the outer-most-to-inner-most order
// §3/§4.3 require for stacktree.Intern. It does not mutate stack.
func Reverse(stack []uint64) []uint64 {
	out := make([]uint64, len(stack))
	for i, ip := range stack {
		out[len(stack)-1-i] = ip
	}
	return out
}
