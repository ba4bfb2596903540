//go:build !tasksched_debuglocks

package tasksched_internal

// BeforeLock/AfterUnlock are no-ops unless built with -tags
// tasksched_debuglocks; see lock_order.go.
func BeforeLock(name string)  {}
func AfterUnlock(name string) {}
