package async

import "unicode/utf8"

const (
	// DefaultMessageLimit is the Telegram message size, in characters
	DefaultMessageLimit = 4096

	truncationMarker = "\n\n[truncated]"
)

// DeliveryHeader prefixes every delivered message
func DeliveryHeader(job *Job) string {
	return "[job " + job.ShortID() + "]\n\n"
}

// FormatDelivery joins header and body so the result fits in limit characters.
// A body that does not fit is cut and marked; the header is never split.
func FormatDelivery(header, body string, limit int) string {
	headerLen := utf8.RuneCountInString(header)
	if headerLen+utf8.RuneCountInString(body) <= limit {
		return header + body
	}

	room := limit - headerLen - utf8.RuneCountInString(truncationMarker)
	if room <= 0 {
		return header
	}

	// cut on a rune boundary
	cut, n := 0, 0
	for i := range body {
		if n == room {
			cut = i
			break
		}
		n++
	}
	return header + body[:cut] + truncationMarker
}

// FailureNotice is the one message sent when a job fails
func FailureNotice(job *Job, errText string, limit int) string {
	return FormatDelivery(DeliveryHeader(job), "failed: "+errText, limit)
}
