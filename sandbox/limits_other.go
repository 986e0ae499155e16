//go:build !linux && !darwin

package sandbox

import "errors"

// applyResourceLimits fails closed on platforms without kernel resource
// limits: a worker that cannot constrain itself must not run at all.
func applyResourceLimits(ResourceLimits) error {
	return errors.New("OS resource limits are not supported on this platform")
}
