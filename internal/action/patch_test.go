package action_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"basegraph.app/warden/internal/action"
)

var _ = Describe("PatchApplier", func() {
	var (
		fs      afero.Fs
		applier *action.PatchApplier
	)

	BeforeEach(func() {
		fs = afero.NewMemMapFs()
		applier = action.NewPatchApplier(fs, "/work")
	})

	write := func(path, content string) {
		Expect(afero.WriteFile(fs, "/work/o/r/"+path, []byte(content), 0o644)).To(Succeed())
	}
	read := func(path string) string {
		data, err := afero.ReadFile(fs, "/work/o/r/"+path)
		Expect(err).NotTo(HaveOccurred())
		return string(data)
	}

	It("creates new files", func() {
		changed, err := applier.Apply("o", "r", `--- /dev/null
+++ b/requirements.txt
@@ -0,0 +1,2 @@
+foo==1.0
+bar==2.1
`)

		Expect(err).NotTo(HaveOccurred())
		Expect(changed).To(HaveLen(1))
		Expect(changed[0].Path).To(Equal("requirements.txt"))
		Expect(read("requirements.txt")).To(Equal("foo==1.0\nbar==2.1\n"))
	})

	It("applies several hunks in one file", func() {
		write("lib.py", "a\nb\nc\nd\ne\nf\ng\nh\n")

		_, err := applier.Apply("o", "r", `--- a/lib.py
+++ b/lib.py
@@ -1,2 +1,2 @@
-a
+A
 b
@@ -7,2 +7,3 @@
 g
 h
+i
`)

		Expect(err).NotTo(HaveOccurred())
		Expect(read("lib.py")).To(Equal("A\nb\nc\nd\ne\nf\ng\nh\ni\n"))
	})

	It("preserves a missing trailing newline", func() {
		write("VERSION", "1.0")

		_, err := applier.Apply("o", "r", `--- a/VERSION
+++ b/VERSION
@@ -1 +1 @@
-1.0
\ No newline at end of file
+1.1
\ No newline at end of file
`)

		Expect(err).NotTo(HaveOccurred())
		Expect(read("VERSION")).To(Equal("1.1"))
	})

	It("adds the final newline when the new side has one", func() {
		write("list.txt", "a\nb")

		_, err := applier.Apply("o", "r", `--- a/list.txt
+++ b/list.txt
@@ -1,2 +1,3 @@
 a
-b
\ No newline at end of file
+b
+c
`)

		Expect(err).NotTo(HaveOccurred())
		Expect(read("list.txt")).To(Equal("a\nb\nc\n"))
	})

	It("drops the final newline when the new side has none", func() {
		write("list.txt", "a\nb\n")

		_, err := applier.Apply("o", "r", `--- a/list.txt
+++ b/list.txt
@@ -1,2 +1,2 @@
 a
-b
+b
\ No newline at end of file
`)

		Expect(err).NotTo(HaveOccurred())
		Expect(read("list.txt")).To(Equal("a\nb"))
	})

	It("keeps the original ending when no hunk reaches the end of the file", func() {
		write("list.txt", "a\nb\nc\nd\ne\nf")

		_, err := applier.Apply("o", "r", `--- a/list.txt
+++ b/list.txt
@@ -1,2 +1,2 @@
-a
+A
 b
`)

		Expect(err).NotTo(HaveOccurred())
		Expect(read("list.txt")).To(Equal("A\nb\nc\nd\ne\nf"))
	})

	It("writes nothing when any file fails to apply", func() {
		write("one.txt", "x\n")
		write("two.txt", "y\n")

		_, err := applier.Apply("o", "r", `--- a/one.txt
+++ b/one.txt
@@ -1 +1 @@
-x
+X
--- a/two.txt
+++ b/two.txt
@@ -1 +1 @@
-not-y
+Y
`)

		var patchErr *action.PatchError
		Expect(errors.As(err, &patchErr)).To(BeTrue())
		Expect(patchErr.File).To(Equal("two.txt"))
		Expect(read("one.txt")).To(Equal("x\n"))
		Expect(read("two.txt")).To(Equal("y\n"))
	})

	It("fails for files missing from the tree", func() {
		_, err := applier.Apply("o", "r", `--- a/missing.go
+++ b/missing.go
@@ -1 +1 @@
-a
+b
`)
		Expect(err).To(MatchError(ContainSubstring("file does not exist")))
	})

	It("refuses paths outside the working tree", func() {
		_, err := applier.Apply("o", "r", `--- /dev/null
+++ b/../../etc/passwd
@@ -0,0 +1 @@
+root
`)
		Expect(err).To(MatchError(ContainSubstring("escapes the working tree")))
		exists, _ := afero.Exists(fs, "/etc/passwd")
		Expect(exists).To(BeFalse())
	})

	It("refuses repository names that leave the worktree root", func() {
		_, err := applier.Apply("..", "r", `--- /dev/null
+++ b/x.txt
@@ -0,0 +1 @@
+x
`)
		Expect(err).To(MatchError(ContainSubstring("invalid repository segment")))
		exists, _ := afero.Exists(fs, "/r/x.txt")
		Expect(exists).To(BeFalse())
	})

	It("rejects input with no diffs", func() {
		_, err := applier.Apply("o", "r", "just text\n")
		Expect(err).To(HaveOccurred())
	})
})
