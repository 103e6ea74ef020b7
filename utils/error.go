package utils

import "errors"

var ErrorUnauthorized = errors.New("unauthorized")
