package batteryinfo

import (
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
)

// noticeFormatter prints bare messages, error entries get the "ERROR: " prefix and
// their cause appended.
type noticeFormatter struct{}

func (noticeFormatter) Format(entry *log.Entry) ([]byte, error) {
	msg := entry.Message
	if cause, ok := entry.Data[log.ErrorKey]; ok {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	if entry.Level <= log.ErrorLevel {
		msg = "ERROR: " + msg
	}
	return []byte(msg + "\n"), nil
}

// NewNoticeLogger returns the logger for progress and error notices shown to the user.
func NewNoticeLogger(w io.Writer) *log.Logger {
	notices := log.New()
	notices.SetOutput(w)
	notices.SetFormatter(noticeFormatter{})
	notices.SetLevel(log.InfoLevel)
	return notices
}
