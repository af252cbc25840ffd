package ethstats

// uptimeTracker counts poll attempts against liveness failures and collects
// the errors of the current cycle.
type uptimeTracker struct {
	inc  int
	down int

	errors []StatsError
}

func newUptimeTracker() *uptimeTracker {
	return &uptimeTracker{errors: []StatsError{}}
}

// recordAttempt starts a new cycle.
func (u *uptimeTracker) recordAttempt() {
	u.inc++
	u.errors = []StatsError{}
}

// recordFailure marks the cycle as a liveness failure and degrades the stats.
func (u *uptimeTracker) recordFailure(stats *Stats, code ErrorCode, msg string) {
	u.recordError(code, msg)
	u.down++

	stats.Active = false
	stats.Listening = false
	stats.Mining = false
	stats.Peers = 0
}

// recordError appends an error that does not count as downtime.
func (u *uptimeTracker) recordError(code ErrorCode, msg string) {
	u.errors = append(u.errors, StatsError{Code: code, Msg: msg})
}

// uptimePercent is 0 until the first attempt is recorded.
func (u *uptimeTracker) uptimePercent() float64 {
	if u.inc == 0 {
		return 0
	}
	return float64(u.inc-u.down) / float64(u.inc) * 100
}

func (u *uptimeTracker) uptime() Uptime {
	return Uptime{
		Down:  u.down,
		Inc:   u.inc,
		Total: u.uptimePercent(),
	}
}

func (u *uptimeTracker) currentErrors() []StatsError {
	return append([]StatsError{}, u.errors...)
}
