package handler

import "strings"

// Messages the browser emits when a page, context, or browser went away under
// an in-flight operation. These are the only failures the download loop may
// transparently retry with a fresh page.
var targetClosedMessages = []string{
	"Target page, context or browser has been closed",
	"target closed",
	"session closed",
}

// IsTargetClosedError reports whether err describes a closed target rather
// than a genuine page failure.
func IsTargetClosedError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, known := range targetClosedMessages {
		if strings.Contains(msg, strings.ToLower(known)) {
			return true
		}
	}
	return false
}
