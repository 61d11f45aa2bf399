package sqlforge

import "fmt"

// ScanEnum converts a stored value into the string form of an enum and
// checks it against the domain. Generated enum types call it from Scan.
func ScanEnum(typ string, src any, valid func(string) bool) (string, error) {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case nil:
		return "", NewEnumError(typ, "NULL")
	default:
		s = fmt.Sprint(v)
	}
	if !valid(s) {
		return "", NewEnumError(typ, s)
	}
	return s, nil
}
