package returns

// dayIndex is floor(ts / SecondsPerDay), also for timestamps before the epoch.
func dayIndex(ts int64) int64 {
	d := ts / SecondsPerDay
	if ts%SecondsPerDay != 0 && ts < 0 {
		d--
	}
	return d
}

// DayTimestamps lists the start of every day to report on, ascending.
//
// Reporting starts on start's day, or on the earliest snapshot's day when the position
// was opened later. Days before the pool's creation are skipped and the current day,
// which has not closed yet, is never included. A pool without a creation time or a
// position without snapshots yields no days.
func DayTimestamps(start, createdAt, now int64, snapshots []PositionSnapshot) []int64 {
	if createdAt == 0 || len(snapshots) == 0 {
		return nil
	}

	earliest := snapshots[0].Timestamp
	for _, s := range snapshots[1:] {
		earliest = min(earliest, s.Timestamp)
	}

	day := dayIndex(start)
	if earliest > start {
		day = dayIndex(earliest)
	}
	today := dayIndex(now)

	var out []int64
	for ; day < today; day++ {
		bucket := day * SecondsPerDay
		if bucket < createdAt {
			continue
		}
		out = append(out, bucket)
	}
	return out
}
