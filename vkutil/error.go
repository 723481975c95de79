// Package vkutil bundles the small Vulkan helpers shared by all the exercise
// programs: the platform error type, synchronisation objects, command pool
// plumbing, buffers, images and shader modules.
package vkutil

import (
	"errors"
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// Error is a failure reported by a Vulkan entry point. It records the name of
// the operation which failed together with the status code the platform
// returned, so that callers may switch on the code without string matching.
type Error struct {
	Op   string
	Code vk.Result
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, vk.Error(e.Code))
}

// Check converts a non-success result of op into an *Error. It returns nil
// for vk.Success.
func Check(op string, res vk.Result) error {
	if res == vk.Success {
		return nil
	}
	return &Error{Op: op, Code: res}
}

// ResultOf extracts the Vulkan status code when err is, or wraps, an *Error.
func ResultOf(err error) (vk.Result, bool) {
	var vkErr *Error
	if errors.As(err, &vkErr) {
		return vkErr.Code, true
	}
	return vk.Success, false
}
