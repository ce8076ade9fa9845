package engine

import (
	"time"

	"github.com/chronoflux/tsengine/meas"
)

func wallClock() meas.Time { return meas.Time(time.Now().UnixMilli()) }
