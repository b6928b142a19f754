package interfaces

import "time"

// Clock abstracts wall time so lease and expiry logic is testable. The
// production implementation returns time.Now; fakes advance manually.
type Clock interface {
	Now() time.Time
}
