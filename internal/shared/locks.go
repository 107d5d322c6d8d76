package shared

import "fmt"

// IntegrityLockKey builds the redis key guarding the ledger integrity scan.
func IntegrityLockKey(companyID int64) string {
	if companyID == 0 {
		return "o2c:integrity:lock"
	}
	return fmt.Sprintf("o2c:integrity:%d:lock", companyID)
}

// AdvisoryKey builds the text hashed into pg_advisory_xact_lock for numbering scopes.
func AdvisoryKey(parts ...any) string {
	key := "o2c"
	for _, p := range parts {
		key += fmt.Sprintf(":%v", p)
	}
	return key
}
