package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var isoDuration = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// HumanizeDuration renders an ISO-8601 duration such as "PT1H30M" as
// "1 hr 30 min". Values that are not ISO durations are returned trimmed, and
// an all-zero duration becomes "".
func HumanizeDuration(raw string) string {
	s := strings.TrimSpace(raw)
	m := isoDuration.FindStringSubmatch(strings.ToUpper(s))
	if m == nil || s == "P" || strings.HasSuffix(strings.ToUpper(s), "T") {
		return s
	}

	days, _ := strconv.Atoi(m[1])
	hours, _ := strconv.Atoi(m[2])
	minutes, _ := strconv.Atoi(m[3])
	seconds, _ := strconv.ParseFloat(m[4], 64)

	// Normalize overflowing minutes ("PT90M") into hours.
	hours += minutes / 60
	minutes %= 60

	var parts []string
	if days > 0 {
		unit := "day"
		if days > 1 {
			unit = "days"
		}
		parts = append(parts, fmt.Sprintf("%d %s", days, unit))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%d hr", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%d min", minutes))
	}
	if seconds > 0 && len(parts) == 0 {
		parts = append(parts, strconv.FormatFloat(seconds, 'f', -1, 64)+" sec")
	}
	return strings.Join(parts, " ")
}
