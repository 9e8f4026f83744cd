package ballot

import "errors"

var (
	ErrSchema     = errors.New("contest blob violates the contest schema")
	ErrValidation = errors.New("cast ballot disagrees with its blank ballot")
)
