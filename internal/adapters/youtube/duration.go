package youtube

import (
	"regexp"
	"strconv"
)

var durationRe = regexp.MustCompile(`PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?`)

// ParseISODuration разбирает длительность формата PT[nH][nM][nS] в секунды.
// Любая некорректная строка даёт 0, ошибок парсер не возвращает.
func ParseISODuration(raw string) int {
	match := durationRe.FindStringSubmatch(raw)
	if match == nil {
		return 0
	}
	hours := atoiOrZero(match[1])
	minutes := atoiOrZero(match[2])
	seconds := atoiOrZero(match[3])
	return hours*3600 + minutes*60 + seconds
}

func atoiOrZero(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
