package diff

import "fmt"

// ConfigurationError reports a fatal misconfiguration: an unknown feature, a
// feature that is declared both primitive and link-based, or similar. It is
// never retried and is surfaced to the caller as is.
type ConfigurationError struct {
	msg string
}

func (e ConfigurationError) Error() string {
	return e.msg
}

// ConfigurationErrorf builds a ConfigurationError.
func ConfigurationErrorf(format string, args ...interface{}) error {
	return ConfigurationError{msg: fmt.Sprintf(format, args...)}
}

// DataError reports a problem with one annotator's container, e.g. a relation
// whose endpoint cannot be resolved. Batch callers skip the document.
type DataError struct {
	Annotator string
	msg       string
}

func (e DataError) Error() string {
	return fmt.Sprintf("annotator %s: %s", e.Annotator, e.msg)
}

func dataErrorf(annotator, format string, args ...interface{}) error {
	return DataError{Annotator: annotator, msg: fmt.Sprintf(format, args...)}
}
