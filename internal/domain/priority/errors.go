package priority

import "errors"

// ErrSubjectUnknown is returned by a Directory that has no entry for a subject.
var ErrSubjectUnknown = errors.New("subject unknown")
