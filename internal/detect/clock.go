package detect

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies run start and finish times and error artifact timestamps.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator names runs in the log and the run history.
type IDGenerator interface {
	New() string
}

// UUIDGenerator names each run with a random UUID.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.NewString() }
