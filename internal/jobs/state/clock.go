package state

import "time"

// now is swappable in tests to keep reducer output deterministic
var now = time.Now
