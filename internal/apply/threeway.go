package apply

import (
	"bytes"

	"go.uber.org/zap"

	"tigapply/internal/image"
	"tigapply/internal/merge"
	"tigapply/internal/patch"
	"tigapply/internal/whitespace"
)

// threeWay rebuilds the result of p by applying its fragments to the blob
// the patch was made from and merging that with the current content. When
// no merge is possible cause is returned unchanged.
func (s *Session) threeWay(fr *FileResult, pre preimage, cause error) error {
	p := fr.Patch
	if s.index == nil || p.IsDelete.True() {
		return cause
	}
	blobs := s.index.Blobs()

	var base []byte
	var baseOID string
	if !p.IsNew.True() && p.OldName != "" {
		oid, err := blobs.Resolve(p.OldOID)
		if err == nil {
			base, err = blobs.Get(oid)
		}
		if err != nil {
			s.warn(fr, "repository lacks the necessary blob to fall back on 3-way merge.")
			return cause
		}
		baseOID = oid
	}

	img := image.New(bytes.Clone(base))
	applier := image.NewApplier(p.Name(), whitespace.Rule(p.WSRule), nil, s.opts.imageOptions(s.logger))
	if _, err := applier.Apply(img, p.Fragments); err != nil {
		s.warn(fr, "cannot apply the patch to its own ancestor %s", baseOID)
		return cause
	}
	theirs := img.Bytes()

	ours := pre.content
	if !pre.exists && p.NewName != "" {
		// A creation patch for a path that is already there.
		st, err := s.target.Stat(p.NewName)
		if err != nil {
			return err
		}
		if ours, err = s.target.Read(p.NewName); err != nil {
			return err
		}
		if p.NewMode == 0 {
			p.NewMode = st.Mode
		}
		if p.OldMode == 0 {
			p.OldMode = st.Mode
		}
	}
	if p.NewMode == 0 {
		p.NewMode = patch.ModeRegular
	}

	oursOID, err := blobs.Store(ours)
	if err != nil {
		return err
	}
	theirsOID, err := blobs.Store(theirs)
	if err != nil {
		return err
	}
	p.ThreewayStage = [3]string{baseOID, oursOID, theirsOID}

	res := merge.ThreeWay(base, ours, theirs, s.opts.Labels)
	fr.result = res.Content
	fr.Conflicts = res.Conflicts
	fr.Hunks = nil

	s.logger.Debug("three-way merge",
		zap.String("path", p.Name()),
		zap.String("base", baseOID),
		zap.Int("conflicts", res.Conflicts))
	if res.Clean() {
		s.warn(fr, "Applied patch to '%s' cleanly.", p.Name())
	} else {
		s.warn(fr, "Applied patch to '%s' with conflicts.", p.Name())
	}
	return nil
}
