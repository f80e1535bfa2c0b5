package apply

import (
	"go.uber.org/zap"

	"tigapply/internal/index"
	"tigapply/internal/patch"
	"tigapply/internal/target"
)

// write commits every checked file. Removals and rename sources go first
// so that a later write may reuse their paths.
func (s *Session) write() error {
	var ready []*FileResult
	for _, fr := range s.files {
		if fr.State == SymlinkChecked {
			ready = append(ready, fr)
		}
	}

	refs := make(map[string]int)
	for _, fr := range ready {
		refs[fr.Patch.OldName]++
		if fr.Patch.NewName != fr.Patch.OldName {
			refs[fr.Patch.NewName]++
		}
	}

	for _, fr := range ready {
		p := fr.Patch
		switch {
		case fr.deletion:
			name := p.OldName
			if name == "" {
				name = p.Name()
			}
			if err := s.remove(name); err != nil {
				return err
			}
		case p.IsRename:
			// Moving keeps the file's identity, but only when no other file
			// of the batch touches either side.
			if !fr.superseded && refs[p.OldName] == 1 && refs[p.NewName] == 1 {
				if err := s.target.Rename(p.OldName, p.NewName); err != nil {
					return err
				}
				continue
			}
			if err := s.remove(p.OldName); err != nil {
				return err
			}
		}
	}

	for _, fr := range ready {
		p := fr.Patch
		if fr.deletion || fr.superseded {
			continue
		}
		mode := p.NewMode
		if mode == 0 {
			mode = patch.ModeRegular
		}
		var err error
		if fr.Conflicts > 0 && s.index != nil {
			err = s.writeConflict(fr, mode)
		} else {
			err = s.target.Write(p.NewName, fr.result, mode)
		}
		if err != nil {
			return err
		}
	}

	for _, fr := range ready {
		fr.Outcome = Clean
		if fr.Conflicts > 0 {
			fr.Outcome = Conflicted
		}
		s.transition(fr, Committed)
	}
	s.logger.Info("patches written", zap.Int("files", len(ready)))
	return nil
}

func (s *Session) remove(name string) error {
	if err := s.target.Remove(name); err != nil && !target.IsNotFound(err) {
		return err
	}
	return nil
}

// writeConflict leaves the merged content with markers in the working tree
// and records the three sides as unmerged index stages.
func (s *Session) writeConflict(fr *FileResult, mode uint32) error {
	p := fr.Patch
	if s.worktree != nil {
		if err := s.worktree.Write(p.NewName, fr.result, mode); err != nil {
			return err
		}
	}
	oursMode := p.OldMode
	if oursMode == 0 {
		oursMode = mode
	}
	stage := p.ThreewayStage
	s.index.Entries().SetConflict(p.NewName,
		index.Entry{OID: stage[0], Mode: oursMode},
		index.Entry{OID: stage[1], Mode: oursMode},
		index.Entry{OID: stage[2], Mode: mode})
	return nil
}
