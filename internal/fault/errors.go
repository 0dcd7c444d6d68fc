package fault

import "errors"

var (
	errNoIncrement = errors.New("fault: no quantity increment available for symbol")
	errNoLevels    = errors.New("fault: frame carries no bid/ask levels to perturb")
)
