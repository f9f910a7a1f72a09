package cache

import "errors"

// errSlowCall marks a computation that returned a value but took longer
// than the slow-call threshold. It never leaves the package.
var errSlowCall = errors.New("slow call")
