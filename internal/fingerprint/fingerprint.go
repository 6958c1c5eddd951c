// Package fingerprint computes the stable digest used to group
// Occurrences into Issues.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"errwatch/internal/model"
)

// Fingerprinter produces a stable hex digest from a message and the
// top-3 stack frames. MD5 is used only for bucketing, not as a
// security primitive.
type Fingerprinter struct{}

// New returns a ready-to-use Fingerprinter.
func New() *Fingerprinter {
	return &Fingerprinter{}
}

// Compute returns the fingerprint for message and stackTrace. Frames
// beyond index 2 never affect the result; each of the top 3 frames is
// normalized to "file:line:column:function" with missing fields as
// empty strings.
func (f *Fingerprinter) Compute(message string, stackTrace []model.StackFrame) string {
	h := md5.New()
	h.Write([]byte(message))
	h.Write([]byte{0})

	top := stackTrace
	if len(top) > 3 {
		top = top[:3]
	}
	for _, frame := range top {
		h.Write([]byte(fmt.Sprintf("%s:%d:%d:%s", frame.File, frame.Line, frame.Column, frame.Function)))
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))
}
