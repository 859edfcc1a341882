package generic

// Void is the zero-size "nothing" type, used as a set value and as the value of error-only results.
type Void struct{}

func NewVoid() Void {
	return Void{}
}
