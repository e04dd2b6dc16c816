package cronexpr

// monthNames and dowNames are the three-letter, case-insensitive prefixes
// entry.c's get_number accepts in the month and day-of-week fields.
var monthNames = []string{
	"jan", "feb", "mar", "apr", "may", "jun",
	"jul", "aug", "sep", "oct", "nov", "dec",
}

var dowNames = []string{
	"sun", "mon", "tue", "wed", "thu", "fri", "sat",
}

// aliasFields maps an @alias to the 5-field schedule it is defined to be
// bitwise identical to. @reboot/@restart are handled separately since they
// carry no field matrix at all.
var aliasFields = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}
