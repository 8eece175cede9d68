package telemetry

import (
	"runtime/debug"
	"strings"
)

// noiseFrames — подстроки кадров, не интересных при диагностике
// упавшей миграции.
var noiseFrames = []string{
	"runtime/",
	"runtime.",
	"testing.",
	"created by ",
	"/internal/telemetry/",
}

// Backtrace возвращает очищенный стек текущей горутины.
func Backtrace() []string {
	return CleanBacktrace(strings.Split(string(debug.Stack()), "\n"))
}

// CleanBacktrace убирает из стека служебные кадры рантайма и самого
// движка, оставляя кадры пользовательского кода.
func CleanBacktrace(raw []string) []string {
	cleaned := make([]string, 0, len(raw))
	skipNext := false

	for _, line := range raw {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if skipNext {
			// строка с файлом и номером после отфильтрованного кадра
			skipNext = false
			if strings.HasPrefix(line, "\t") {
				continue
			}
		}
		if isNoise(trimmed) {
			skipNext = true
			continue
		}
		cleaned = append(cleaned, trimmed)
	}
	return cleaned
}

func isNoise(frame string) bool {
	for _, noise := range noiseFrames {
		if strings.Contains(frame, noise) {
			return true
		}
	}
	return false
}
