package main

import (
	"fmt"

	"github.com/loykin/cronman/internal/registry"
)

// printJobClassDetail formats one job class's registry.Entry for the
// "cronman worker info <name>" CLI verb (spec.md §9 supplemented "info
// operation").
func printJobClassDetail(e registry.Entry) {
	fmt.Printf("name: %s\n", e.Name)
	if e.Doc != "" {
		fmt.Printf("doc: %s\n", e.Doc)
	}
	fmt.Printf("lock_regime: %s\n", e.LockRegime)
	if e.LockNameOverride != "" {
		fmt.Printf("lock_name: %s\n", e.LockNameOverride)
	}
	fmt.Printf("lock_check_attempts: %d\n", e.LockCheckAttempts)
	fmt.Printf("lock_ignore_errors: %t\n", e.LockIgnoreErrors)
	fmt.Printf("can_resume: %t\n", e.CanResume)
	if e.CronitorID != "" {
		fmt.Printf("cronitor_id: %s\n", e.CronitorID)
	}
	fmt.Printf("slack_notify_done: %t\n", e.SlackNotifyDone)
}
