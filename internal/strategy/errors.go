package strategy

import "errors"

// ErrInvalidInput — входные данные не прошли проверку.
var ErrInvalidInput = errors.New("invalid input")
