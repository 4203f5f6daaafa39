package expr

import (
	"strings"
	"time"
)

// defaultTimeFormat is the strftime form of RFC3339 UTC, the default for
// timefmt and parsetime.
const defaultTimeFormat = "%FT%TZ"

// strftimeToLayout converts the supported strftime directives to a Go time
// layout. Unknown directives pass through literally.
func strftimeToLayout(fmt string) string {
	var b strings.Builder
	for i := 0; i < len(fmt); i++ {
		if fmt[i] != '%' || i+1 == len(fmt) {
			b.WriteByte(fmt[i])
			continue
		}
		i++
		switch fmt[i] {
		case 'Y':
			b.WriteString("2006")
		case 'y':
			b.WriteString("06")
		case 'm':
			b.WriteString("01")
		case 'd':
			b.WriteString("02")
		case 'H':
			b.WriteString("15")
		case 'M':
			b.WriteString("04")
		case 'S':
			b.WriteString("05")
		case 'F':
			b.WriteString("2006-01-02")
		case 'T':
			b.WriteString("15:04:05")
		case 'Z':
			b.WriteString("MST")
		case 'a':
			b.WriteString("Mon")
		case 'A':
			b.WriteString("Monday")
		case 'b':
			b.WriteString("Jan")
		case 'B':
			b.WriteString("January")
		case 'j':
			b.WriteString("002")
		case 's':
			// Seconds since epoch has no layout token; handled by callers.
			b.WriteString("%s")
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(fmt[i])
		}
	}
	return b.String()
}

// All date functions interpret timestamps as seconds since epoch in UTC.

func tsTime(o Value) (time.Time, bool) {
	d, ok := o.AsDouble()
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(d), 0).UTC(), true
}

func timeField(name string, f func(time.Time) float64) func(Value) Value {
	return func(o Value) Value {
		t, ok := tsTime(o)
		if !ok {
			return Nil(name + ": timestamp not a number")
		}
		return Double(f(t))
	}
}

var (
	funcDayOfWeek   = timeField("dayofweek", func(t time.Time) float64 { return float64(t.Weekday()) })
	funcDayOfMonth  = timeField("dayofmonth", func(t time.Time) float64 { return float64(t.Day()) })
	funcDayOfYear   = timeField("dayofyear", func(t time.Time) float64 { return float64(t.YearDay() - 1) })
	funcMonthOfYear = timeField("monthofyear", func(t time.Time) float64 { return float64(int(t.Month()) - 1) })
	funcYear        = timeField("year", func(t time.Time) float64 { return float64(t.Year()) })
)

// Truncation functions round a timestamp down to the containing minute,
// hour, day or month and return it as seconds since epoch.

func timeTruncate(name string, f func(time.Time) time.Time) func(Value) Value {
	return func(o Value) Value {
		t, ok := tsTime(o)
		if !ok {
			return Nil(name + ": timestamp not a number")
		}
		return Double(float64(f(t).Unix()))
	}
}

var (
	funcMinute = timeTruncate("minute", func(t time.Time) time.Time { return t.Truncate(time.Minute) })
	funcHour   = timeTruncate("hour", func(t time.Time) time.Time { return t.Truncate(time.Hour) })
	funcDay    = timeTruncate("day", func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	})
	funcMonth = timeTruncate("month", func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	})
)

func funcTimefmt(ts, format Value) Value {
	t, ok := tsTime(ts)
	if !ok {
		return Nil("timefmt: timestamp was not a number")
	}
	return String(t.Format(strftimeToLayout(format.AsString())))
}

func funcParsetime(str, format Value) Value {
	t, err := time.ParseInLocation(strftimeToLayout(format.AsString()), str.AsString(), time.UTC)
	if err != nil {
		return Nil("parsetime: " + err.Error())
	}
	return Double(float64(t.Unix()))
}
