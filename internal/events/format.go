package events

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Format renders a one-line, human readable description of e. Missing
// payload slots read as 0; Format never fails.
func Format(e Event) string {
	who := subject(e)
	v := e.Value
	switch e.Kind {
	case KindTemperatureReached:
		return fmt.Sprintf("%s - Temperature reached: %s°C", who, num(v(0)))
	case KindTemperatureOutOfRange:
		return fmt.Sprintf("%s - Out of range: %s°C (range: %s°C - %s°C)", who, num(v(2)), num(v(1)), num(v(0)))
	case KindTemperatureSetting:
		return fmt.Sprintf("%s - Temperature set to %s°C", who, num(v(0)))
	case KindDoorOpen:
		return who + " - Door opened"
	case KindDoorClose:
		return who + " - Door closed"
	case KindPlateAdded:
		return who + " - Plate added"
	case KindPlateRemoved:
		return who + " - Plate removed"
	case KindShakerState:
		return who + " - " + shakerPhrase(v(0), v(1), v(2), v(3))
	case KindAlarmArmed:
		return who + " - Alarm armed"
	case KindAlarmDisarmed:
		return who + " - Alarm disarmed"
	case KindScan:
		if t := strings.TrimSpace(e.Text); t != "" {
			return who + " - Barcode scanned: " + t
		}
		return who + " - Barcode scanned"
	}
	return unknownPhrase(e)
}

// shakerPhrase describes a shaker state payload: on flag, speed, cycle
// length and active time per cycle, both in seconds. A zero cycle length
// means the shaker runs continuously.
func shakerPhrase(on, rpm, cycle, active float64) string {
	if on == 0 {
		return "Shaker stopped"
	}
	if cycle == 0 {
		return fmt.Sprintf("Shaker on: continuous at %s RPM", num(rpm))
	}
	return fmt.Sprintf("Shaker on: periodic at %s RPM, %ss active every %ss", num(rpm), num(active), num(cycle))
}

func subject(e Event) string {
	if e.Channel == nil {
		return "Incubator"
	}
	return "Shelf " + strconv.Itoa(*e.Channel)
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func unknownPhrase(e Event) string {
	if name := Humanize(e.TypeName); name != "" {
		if e.Channel != nil {
			return subject(e) + " - " + name
		}
		return name
	}
	if t := strings.TrimSpace(e.Text); t != "" {
		return t
	}
	return "Unknown event"
}

// Humanize strips the firmware's type prefixes from a type name and splits
// its camel case into space separated words: "IncubatorEventLidLocked"
// becomes "Lid Locked".
func Humanize(typeName string) string {
	name := trimTypeName(typeName)
	if name == "" {
		return ""
	}
	var words []string
	var cur []rune
	runes := []rune(name)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == ' ' || r == '.':
			flush()
			continue
		case unicode.IsUpper(r) && len(cur) > 0:
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			// Split "lidLocked" before L, and "USBPort" before P.
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	for i, w := range words {
		rs := []rune(w)
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}
