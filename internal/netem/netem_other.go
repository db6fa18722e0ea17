//go:build !linux

package netem

// TCController is only meaningful on Linux (tc/netem is a Linux kernel
// qdisc facility); on other platforms it behaves as NoopController so
// set_netem requests degrade gracefully instead of failing outright.
type TCController = NoopController
