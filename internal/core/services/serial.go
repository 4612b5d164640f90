package services

import "time"

// NextSerial returns the serial to use after previous. Serials are date based
// (YYYYMMDDnn): the first change of a day gets YYYYMMDD00 and later changes
// increment. A serial already at or past today's value is incremented, so the
// result is always greater than previous in RFC 1982 serial arithmetic:
// math.MaxUint32 wraps to 0, which secondaries treat as newer.
func NextSerial(previous uint32, now time.Time) uint32 {
	now = now.UTC()
	today := int64(now.Year())*1000000 + int64(now.Month())*10000 + int64(now.Day())*100

	if int64(previous)-today >= 0 {
		return previous + 1
	}
	return uint32(today) // #nosec G115 -- YYYYMMDD00 fits until year 4294
}
