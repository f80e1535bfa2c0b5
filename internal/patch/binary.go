package patch

import (
	"bytes"
	"fmt"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// ApplyBinary produces the new content of a binary patch from old.
func (p *Patch) ApplyBinary(old []byte) ([]byte, error) {
	if p.Binary == nil || p.Binary.BinaryFragment == nil {
		return nil, fmt.Errorf("cannot apply binary patch to '%s' without full index line", p.Name())
	}
	var out bytes.Buffer
	if err := gitdiff.Apply(&out, bytes.NewReader(old), p.Binary); err != nil {
		return nil, fmt.Errorf("binary patch does not apply to '%s': %w", p.Name(), err)
	}
	return out.Bytes(), nil
}
