package archive

import (
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"
	"time"
)

// cachedRunID memoizes RunID's result: hostname and boot time are
// constant for one process lifetime.
var cachedRunID = ""

func timeToUnix(t time.Time) int64 {
	return int64(t.Sub(time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)).Seconds())
}

// getBoottimeWithRaceCondition has a race condition between reading
// /proc/uptime and calling time.Now(): if a second-granularity boundary
// is crossed between the two syscalls the result is off by one. Call it
// repeatedly until it returns the same answer twice (see getBoottime).
func getBoottimeWithRaceCondition() (int64, error) {
	procUptime, err := ioutil.ReadFile("/proc/uptime")
	if err != nil {
		return -1, err
	}
	fields := strings.Split(string(procUptime), " ")
	if len(fields) != 2 {
		return -1, fmt.Errorf("could not split /proc/uptime into two fields")
	}
	uptime, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return -1, fmt.Errorf("could not parse /proc/uptime: %w", err)
	}
	return timeToUnix(time.Now().Add(time.Duration(-1 * uptime * float64(time.Second)))), nil
}

func getBoottime() (int64, error) {
	var prev, curr int64
	curr, err := getBoottimeWithRaceCondition()
	if err != nil {
		return curr, err
	}
	for prev != curr {
		prev = curr
		curr, err = getBoottimeWithRaceCondition()
		if err != nil {
			return curr, err
		}
	}
	return curr, nil
}

// RunID returns a string that globally identifies this boot of this
// host: "<hostname>_<boottime>". Two archives sharing a RunID came from
// the same uninterrupted kernel uptime on the same host, the same
// uniqueness guarantee the teacher's uuid package gives a socket
// cookie, applied here to a whole host boot instead of one connection.
// A daemon restarted without a reboot gets the same RunID.
func RunID() (string, error) {
	if cachedRunID != "" {
		return cachedRunID, nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "", err
	}
	boottime, err := getBoottime()
	if err != nil {
		return "", err
	}
	cachedRunID = fmt.Sprintf("%s_%d", hostname, boottime)
	return cachedRunID, nil
}
