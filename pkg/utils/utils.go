package utils

import "time"

type number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// SetDefaultNum sets p to d if p is zero (or negative).
func SetDefaultNum[T number](p *T, d T) {
	if *p <= 0 {
		*p = d
	}
}

func SetDefaultString(p *string, d string) {
	if len(*p) == 0 {
		*p = d
	}
}

// Millis converts a config value in milliseconds to a time.Duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Seconds converts a config value in seconds to a time.Duration.
func Seconds(s int) time.Duration {
	return time.Duration(s) * time.Second
}
