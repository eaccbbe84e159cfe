package school

import (
	"sort"
	"strconv"
	"strings"
)

// OrderKey maps a class display name to its position in the promotion sequence:
// "nursery" -> -2, "prep" -> -1, else the first number in the name, else 0.
func OrderKey(name string) int {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "nursery"):
		return -2
	case strings.Contains(lower, "prep"):
		return -1
	}

	start := strings.IndexFunc(name, isDigit)
	if start < 0 {
		return 0
	}
	end := start
	for end < len(name) && isDigit(rune(name[end])) {
		end++
	}
	n, err := strconv.Atoi(name[start:end])
	if err != nil { // overflow
		return 0
	}
	return n
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// SortClasses sorts classes by OrderKey, ascending.
// Classes with equal keys keep their input order.
func SortClasses(classes []Class) {
	sort.SliceStable(classes, func(i, j int) bool {
		return classes[i].OrderKey() < classes[j].OrderKey()
	})
}

// Neighbours returns the classes right before and right after classID in sorted classes.
func Neighbours(classes []Class, classID string) (prev, next *Class, found bool) {
	for i := range classes {
		if classes[i].ID != classID {
			continue
		}
		if i > 0 {
			prev = &classes[i-1]
		}
		if i < len(classes)-1 {
			next = &classes[i+1]
		}
		return prev, next, true
	}
	return nil, nil, false
}

// lessRollNo compares roll numbers numerically when both are numbers.
func lessRollNo(a, b string) bool {
	na, errA := strconv.Atoi(strings.TrimSpace(a))
	nb, errB := strconv.Atoi(strings.TrimSpace(b))
	if errA == nil && errB == nil {
		return na < nb
	}
	if (errA == nil) != (errB == nil) {
		return errA == nil
	}
	return a < b
}
