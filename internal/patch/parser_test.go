package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tigapply/internal/errors"
)

func parse(t *testing.T, input string, opts Options) []*Patch {
	t.Helper()
	patches, err := Parse([]byte(input), opts)
	require.NoError(t, err)
	return patches
}

func TestParseGitModification(t *testing.T) {
	input := `diff --git a/hello.txt b/hello.txt
index 1234567..89abcde 100644
--- a/hello.txt
+++ b/hello.txt
@@ -1,3 +1,3 @@ section
 one
-two
+TWO
 three
`
	patches := parse(t, input, DefaultOptions())
	require.Len(t, patches, 1)

	p := patches[0]
	assert.Equal(t, "hello.txt", p.OldName)
	assert.Equal(t, "hello.txt", p.NewName)
	assert.Equal(t, "hello.txt", p.DefName)
	assert.True(t, p.IsToplevelRelative)
	assert.Equal(t, No, p.IsNew)
	assert.Equal(t, No, p.IsDelete)
	assert.Equal(t, "1234567", p.OldOID)
	assert.Equal(t, "89abcde", p.NewOID)
	assert.Equal(t, ModeRegular, p.OldMode)
	assert.Equal(t, 1, p.Added)
	assert.Equal(t, 1, p.Deleted)

	require.Len(t, p.Fragments, 1)
	frag := p.Fragments[0]
	assert.Equal(t, 1, frag.OldPos)
	assert.Equal(t, 3, frag.OldLines)
	assert.Equal(t, 1, frag.NewPos)
	assert.Equal(t, 3, frag.NewLines)
	assert.Equal(t, 1, frag.Leading)
	assert.Equal(t, 1, frag.Trailing)
	assert.Equal(t, "section", frag.Section)
	assert.Equal(t, 5, frag.LineNr)

	context, removed, added := frag.Counts()
	assert.Equal(t, frag.OldLines, context+removed)
	assert.Equal(t, frag.NewLines, context+added)
	assert.Equal(t, Line{Kind: Removed, Text: []byte("two\n")}, frag.Lines[1])
}

func TestParseGitHeaders(t *testing.T) {
	t.Run("new file", func(t *testing.T) {
		input := `diff --git a/new.txt b/new.txt
new file mode 100755
index 0000000..e69de29
--- /dev/null
+++ b/new.txt
@@ -0,0 +1,2 @@
+a
+b
`
		p := parse(t, input, DefaultOptions())[0]
		assert.Equal(t, Yes, p.IsNew)
		assert.Empty(t, p.OldName)
		assert.Equal(t, "new.txt", p.NewName)
		assert.Equal(t, ModeExecutable, p.NewMode)
	})

	t.Run("deleted file", func(t *testing.T) {
		input := `diff --git a/gone.txt b/gone.txt
deleted file mode 100644
--- a/gone.txt
+++ /dev/null
@@ -1 +0,0 @@
-bye
`
		p := parse(t, input, DefaultOptions())[0]
		assert.Equal(t, Yes, p.IsDelete)
		assert.Equal(t, "gone.txt", p.OldName)
		assert.Empty(t, p.NewName)
		assert.Equal(t, "gone.txt", p.Name())
	})

	t.Run("pure rename", func(t *testing.T) {
		input := `diff --git a/old.txt b/new.txt
similarity index 100%
rename from old.txt
rename to new.txt
`
		p := parse(t, input, DefaultOptions())[0]
		assert.True(t, p.IsRename)
		assert.Equal(t, "old.txt", p.OldName)
		assert.Equal(t, "new.txt", p.NewName)
		assert.Equal(t, 100, p.Score)
		assert.True(t, p.HasMetadataOnly())
	})

	t.Run("mode change", func(t *testing.T) {
		input := `diff --git a/run.sh b/run.sh
old mode 100644
new mode 100755
`
		p := parse(t, input, DefaultOptions())[0]
		assert.Equal(t, "run.sh", p.OldName)
		assert.Equal(t, "run.sh", p.NewName)
		assert.Equal(t, ModeRegular, p.OldMode)
		assert.Equal(t, ModeExecutable, p.NewMode)
	})

	t.Run("quoted names", func(t *testing.T) {
		input := `diff --git "a/sp ace.txt" "b/sp ace.txt"
--- "a/sp ace.txt"
+++ "b/sp ace.txt"
@@ -1 +1 @@
-x
+y
`
		p := parse(t, input, DefaultOptions())[0]
		assert.Equal(t, "sp ace.txt", p.DefName)
		assert.Equal(t, "sp ace.txt", p.NewName)
	})

	t.Run("inconsistent names", func(t *testing.T) {
		input := `diff --git a/one.txt b/one.txt
--- a/one.txt
+++ b/two.txt
@@ -1 +1 @@
-x
+y
`
		_, err := Parse([]byte(input), DefaultOptions())
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeMalformedPatch))
		assert.Contains(t, err.Error(), "inconsistent new filename on line 3")
	})
}

func TestParseTraditional(t *testing.T) {
	t.Run("timestamps are stripped", func(t *testing.T) {
		input := "--- a/file.c\t2024-01-02 10:00:00.000000000 +0100\n" +
			"+++ b/file.c\t2024-01-03 10:00:00.000000000 +0100\n" +
			"@@ -1 +1 @@\n-x\n+y\n"
		p := parse(t, input, DefaultOptions())[0]
		assert.Equal(t, "file.c", p.OldName)
		assert.Equal(t, "file.c", p.NewName)
		assert.False(t, p.IsToplevelRelative)
		assert.Equal(t, No, p.IsNew)
		assert.Equal(t, No, p.IsDelete)
	})

	t.Run("space separated timestamp", func(t *testing.T) {
		input := "--- a/file.c 2024-01-02 10:00:00 +0100\n" +
			"+++ b/file.c 2024-01-03 10:00:00 +0100\n" +
			"@@ -1 +1 @@\n-x\n+y\n"
		p := parse(t, input, DefaultOptions())[0]
		assert.Equal(t, "file.c", p.NewName)
	})

	t.Run("epoch marks creation", func(t *testing.T) {
		input := "--- a/new.c\t1970-01-01 00:00:00.000000000 +0000\n" +
			"+++ b/new.c\t2024-01-03 10:00:00.000000000 +0100\n" +
			"@@ -0,0 +1 @@\n+hello\n"
		p := parse(t, input, DefaultOptions())[0]
		assert.Equal(t, Yes, p.IsNew)
		assert.Empty(t, p.OldName)
		assert.Equal(t, "new.c", p.NewName)
	})

	t.Run("epoch west of utc marks deletion", func(t *testing.T) {
		input := "--- a/old.c\t2024-01-03 10:00:00.000000000 +0100\n" +
			"+++ b/old.c\t1969-12-31 19:00:00.000000000 -0500\n" +
			"@@ -1 +0,0 @@\n-bye\n"
		p := parse(t, input, DefaultOptions())[0]
		assert.Equal(t, Yes, p.IsDelete)
		assert.Equal(t, "old.c", p.OldName)
		assert.Empty(t, p.NewName)
	})

	t.Run("shorter name wins", func(t *testing.T) {
		input := "--- a/file.c\n+++ b/file.c~\n@@ -1 +1 @@\n-x\n+y\n"
		p := parse(t, input, DefaultOptions())[0]
		assert.Equal(t, "file.c", p.NewName)
	})

	t.Run("insertion into empty file stays undecided", func(t *testing.T) {
		input := "--- a/maybe.txt\n+++ b/maybe.txt\n@@ -0,0 +1 @@\n+line\n"
		p := parse(t, input, DefaultOptions())[0]
		assert.Equal(t, Unknown, p.IsNew)
		assert.Equal(t, No, p.IsDelete)
	})
}

func TestParseNoNewlineMarkers(t *testing.T) {
	input := `--- a/f
+++ b/f
@@ -1 +1 @@
-old
\ No newline at end of file
+new
\ No newline at end of file
`
	p := parse(t, input, DefaultOptions())[0]
	frag := p.Fragments[0]
	require.Len(t, frag.Lines, 2)
	assert.Equal(t, "old", string(frag.Lines[0].Text))
	assert.False(t, frag.Lines[0].HasNewline())
	assert.Equal(t, "new", string(frag.Lines[1].Text))
	assert.False(t, frag.Lines[1].HasNewline())
}

func TestParseEmptyContextLine(t *testing.T) {
	input := "--- a/f\n+++ b/f\n@@ -1,3 +1,3 @@\n a\n\n-b\n+B\n"
	frag := parse(t, input, DefaultOptions())[0].Fragments[0]
	require.Len(t, frag.Lines, 4)
	assert.Equal(t, Context, frag.Lines[1].Kind)
	assert.Equal(t, "\n", string(frag.Lines[1].Text))
	assert.Equal(t, 2, frag.Leading)
	assert.Equal(t, 0, frag.Trailing)
}

func TestParseSkipsGarbageBetweenPatches(t *testing.T) {
	input := `From: someone
Subject: two files

diff --git a/a.txt b/a.txt
--- a/a.txt
+++ b/a.txt
@@ -1 +1 @@
-a
+A
some trailer text
diff --git a/b.txt b/b.txt
--- a/b.txt
+++ b/b.txt
@@ -1 +1 @@
-b
+B
--
2.40.0
`
	patches := parse(t, input, DefaultOptions())
	require.Len(t, patches, 2)
	assert.Equal(t, "a.txt", patches[0].NewName)
	assert.Equal(t, "b.txt", patches[1].NewName)
	assert.Equal(t, 4, patches[0].LineNr)
	assert.Equal(t, 11, patches[1].LineNr)
}

func TestParseNameOptions(t *testing.T) {
	traditional := "--- a/x/y.c\n+++ b/x/y.c\n@@ -1 +1 @@\n-x\n+y\n"
	git := "diff --git a/x/y.c b/x/y.c\n--- a/x/y.c\n+++ b/x/y.c\n@@ -1 +1 @@\n-x\n+y\n"

	t.Run("strip and root", func(t *testing.T) {
		p := parse(t, traditional, Options{StripComponents: 2, Root: "vendor"})[0]
		assert.Equal(t, "vendor/y.c", p.NewName)
	})

	t.Run("p0 keeps everything", func(t *testing.T) {
		p := parse(t, traditional, Options{StripComponents: 0})[0]
		assert.Equal(t, "b/x/y.c", p.OldName, "the second header line names both sides")
		assert.Equal(t, "b/x/y.c", p.NewName)
	})

	t.Run("prefix applies to traditional patches", func(t *testing.T) {
		p := parse(t, traditional, Options{StripComponents: 1, Prefix: "sub"})[0]
		assert.Equal(t, "sub/x/y.c", p.NewName)
	})

	t.Run("prefix skips top-level relative patches", func(t *testing.T) {
		p := parse(t, git, Options{StripComponents: 1, Prefix: "sub"})[0]
		assert.Equal(t, "x/y.c", p.NewName)
	})

	t.Run("too many components", func(t *testing.T) {
		_, err := Parse([]byte(git), Options{StripComponents: 5})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "when removing 5 leading pathname components")
	})
}

func TestParseReverse(t *testing.T) {
	input := `diff --git a/new.txt b/new.txt
new file mode 100644
--- /dev/null
+++ b/new.txt
@@ -0,0 +1,2 @@
+a
+b
`
	opts := DefaultOptions()
	opts.Reverse = true
	p := parse(t, input, opts)[0]
	assert.Equal(t, Yes, p.IsDelete)
	assert.Equal(t, No, p.IsNew)
	assert.Equal(t, "new.txt", p.OldName)
	assert.Empty(t, p.NewName)
	assert.Equal(t, 2, p.Deleted)

	frag := p.Fragments[0]
	assert.Equal(t, 2, frag.OldLines)
	assert.Equal(t, 0, frag.NewLines)
	assert.Equal(t, Removed, frag.Lines[0].Kind)
}

func TestParseRecount(t *testing.T) {
	input := "--- a/f\n+++ b/f\n@@ -1,7 +1,9 @@\n a\n-b\n+B\n c\n"
	_, err := Parse([]byte(input), DefaultOptions())
	require.Error(t, err)

	opts := DefaultOptions()
	opts.Recount = true
	frag := parse(t, input, opts)[0].Fragments[0]
	assert.Equal(t, 3, frag.OldLines)
	assert.Equal(t, 3, frag.NewLines)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  int
		msg   string
	}{
		{
			name:  "fragment without header",
			input: "@@ -1 +1 @@\n-a\n+b\n",
			line:  1,
			msg:   "patch fragment without header at line 1",
		},
		{
			name:  "truncated fragment",
			input: "--- a/f\n+++ b/f\n@@ -1,2 +1,2 @@\n a\n",
			line:  5,
			msg:   "corrupt patch at line 5",
		},
		{
			name:  "bad line start",
			input: "--- a/f\n+++ b/f\n@@ -1,2 +1,2 @@\n a\n*b\n",
			line:  5,
			msg:   "corrupt patch at line 5",
		},
		{
			name:  "new file with old contents",
			input: "--- /dev/null\n+++ b/f\n@@ -1 +1 @@\n-a\n+b\n",
			line:  1,
			msg:   "new file f depends on old contents",
		},
		{
			name:  "deleted file with contents",
			input: "--- a/f\n+++ /dev/null\n@@ -1 +1 @@\n-a\n+b\n",
			line:  1,
			msg:   "deleted file f still has contents",
		},
		{
			name:  "header without changes",
			input: "diff --git a/f b/f\nindex 1234567..1234567 100644\n",
			line:  1,
			msg:   "patch with only garbage",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input), DefaultOptions())
			require.Error(t, err)

			var perr *errors.Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, errors.ErrorTypeMalformedPatch, perr.Type)
			assert.Equal(t, tt.line, perr.Line)
			assert.Contains(t, perr.Message, tt.msg)
		})
	}
}

func TestParseContinuesAfterMalformedSection(t *testing.T) {
	input := "diff --git a/one.txt b/one.txt\n" +
		"--- a/one.txt\n" +
		"+++ b/one.txt\n" +
		"@@ -1 +1 @@\n" +
		"-one\n" +
		"+ONE\n" +
		"diff --git a/two.txt b/two.txt\n" +
		"--- a/two.txt\n" +
		"+++ b/two.txt\n" +
		"@@ -1,5 +1 @@\n" +
		"-two\n" +
		"diff --git a/three.txt b/three.txt\n" +
		"--- a/three.txt\n" +
		"+++ b/three.txt\n" +
		"@@ -1 +1 @@\n" +
		"-three\n" +
		"+THREE\n"

	patches, err := Parse([]byte(input), DefaultOptions())
	require.Error(t, err)
	require.Len(t, patches, 3)

	assert.NoError(t, patches[0].Err)
	assert.NoError(t, patches[2].Err)
	assert.Equal(t, "three.txt", patches[2].Name())
	require.Len(t, patches[2].Fragments, 1)

	bad := patches[1]
	assert.Empty(t, bad.Fragments)
	var perr *errors.Error
	require.ErrorAs(t, bad.Err, &perr)
	assert.Equal(t, errors.ErrorTypeMalformedPatch, perr.Type)
	assert.Equal(t, "two.txt", perr.Path)
	assert.Equal(t, 12, perr.Line)
	assert.Equal(t, "two.txt: corrupt patch at line 12", perr.Message)
	assert.ErrorIs(t, err, bad.Err)
}

func TestParseResumesAtTraditionalHeader(t *testing.T) {
	input := "@@ -1 +1 @@\n-a\n+b\n" +
		"--- a/f\n+++ b/f\n@@ -1 +1 @@\n-a\n+b\n"

	patches, err := Parse([]byte(input), DefaultOptions())
	require.Error(t, err)
	require.Len(t, patches, 2)
	assert.Error(t, patches[0].Err)
	assert.Equal(t, "", patches[0].Name())
	assert.NoError(t, patches[1].Err)
	assert.Equal(t, "f", patches[1].Name())
}

func TestParseNameWithTab(t *testing.T) {
	input := "--- a/tab\tname.txt\t2024-01-01 10:00:00.000000000 +0000\n" +
		"+++ b/tab\tname.txt\t2024-01-01 10:00:00.000000000 +0000\n" +
		"@@ -1 +1 @@\n-a\n+b\n"

	p := parse(t, input, DefaultOptions())[0]
	assert.Equal(t, "tab\tname.txt", p.OldName)
	assert.Equal(t, "tab\tname.txt", p.NewName)
}

func TestParseBinary(t *testing.T) {
	input := "diff --git a/bin.dat b/bin.dat\n" +
		"new file mode 100644\n" +
		"index 0000000..1111111\n" +
		"GIT binary patch\n" +
		"literal 14\n" +
		"Vc${NkOv=nlEUNsUl30?+1pp&t1u6gl\n" +
		"\n" +
		"literal 0\n" +
		"Hc$@<O00001\n" +
		"\n"

	patches := parse(t, input, DefaultOptions())
	require.Len(t, patches, 1)

	p := patches[0]
	assert.True(t, p.IsBinary)
	assert.Equal(t, Yes, p.IsNew)
	require.NotNil(t, p.Binary)

	out, err := p.ApplyBinary(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x00\x01binary\xffdata\n"), out)
}

func TestParseBinaryWithoutData(t *testing.T) {
	input := "diff --git a/img.png b/img.png\n" +
		"index 1234567..89abcde 100644\n" +
		"Binary files a/img.png and b/img.png differ\n"

	p := parse(t, input, DefaultOptions())[0]
	assert.True(t, p.IsBinary)
	assert.Nil(t, p.Binary)

	_, err := p.ApplyBinary([]byte("x"))
	assert.ErrorContains(t, err, "without full index line")
}

func TestSplitLines(t *testing.T) {
	recs := SplitLines([]byte("a\nbb\nlast"))
	require.Len(t, recs, 3)
	assert.Equal(t, "a\n", string(recs[0].Text))
	assert.Equal(t, 2, recs[1].Number)
	assert.Equal(t, 2, recs[1].Offset)
	assert.True(t, recs[1].HasNewline())
	assert.False(t, recs[2].HasNewline())
	assert.Equal(t, "last", string(recs[2].Body()))

	assert.Nil(t, SplitLines(nil))
}
