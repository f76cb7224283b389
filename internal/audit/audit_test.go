package audit_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/warden/internal/audit"
	"basegraph.app/warden/internal/model"
)

func readLines(path string) []model.AuditRecord {
	f, err := os.Open(path)
	Expect(err).ToNot(HaveOccurred())
	defer f.Close()

	var out []model.AuditRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec model.AuditRecord
		Expect(json.Unmarshal(scanner.Bytes(), &rec)).To(Succeed())
		out = append(out, rec)
	}
	Expect(scanner.Err()).ToNot(HaveOccurred())
	return out
}

var _ = Describe("Logger", func() {
	var (
		ctx  context.Context
		path string
	)

	BeforeEach(func() {
		ctx = context.Background()
		path = filepath.Join(GinkgoT().TempDir(), "logs", "audit.log")
	})

	It("appends one JSON line per record with actor and path from context", func() {
		sink, err := audit.OpenFile(path)
		Expect(err).ToNot(HaveOccurred())
		l := audit.NewLogger(sink)
		defer l.Close()

		reqCtx := audit.WithRequest(ctx, "alice", "/approvals/resolve")
		Expect(l.Record(reqCtx, model.AuditApprovalResolved, map[string]any{"id": "github.pr-1"})).To(Succeed())
		Expect(l.Record(ctx, model.AuditActionExecuted, nil)).To(Succeed())

		recs := readLines(path)
		Expect(recs).To(HaveLen(2))
		Expect(recs[0].Event).To(Equal("approval.resolved"))
		Expect(recs[0].Actor).To(Equal("alice"))
		Expect(recs[0].Path).To(Equal("/approvals/resolve"))
		Expect(recs[0].Data).To(HaveKeyWithValue("id", "github.pr-1"))
		Expect(recs[1].Actor).To(Equal(audit.SystemActor))
		Expect(recs[1].Data).ToNot(BeNil())
	})

	It("never rewrites existing content when reopened", func() {
		first, err := audit.OpenFile(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(audit.NewLogger(first).Record(ctx, "one", nil)).To(Succeed())
		Expect(first.Close()).To(Succeed())

		second, err := audit.OpenFile(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(audit.NewLogger(second).Record(ctx, "two", nil)).To(Succeed())
		Expect(second.Close()).To(Succeed())

		recs := readLines(path)
		Expect(recs).To(HaveLen(2))
		Expect(recs[0].Event).To(Equal("one"))
		Expect(recs[1].Event).To(Equal("two"))
	})

	It("serializes concurrent writers into whole lines", func() {
		sink, err := audit.OpenFile(path)
		Expect(err).ToNot(HaveOccurred())
		l := audit.NewLogger(sink)
		defer l.Close()

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer GinkgoRecover()
				Expect(l.Record(ctx, "concurrent", map[string]any{"i": i})).To(Succeed())
			}(i)
		}
		wg.Wait()

		Expect(readLines(path)).To(HaveLen(50))
	})

	It("returns sink failures from Record but swallows them in RecordBestEffort", func() {
		mem := audit.NewMemorySink()
		mem.FailWith(errors.New("disk full"))
		l := audit.NewLogger(mem)

		err := l.Record(ctx, "x", nil)
		Expect(err).To(MatchError(ContainSubstring("disk full")))

		Expect(func() { l.RecordBestEffort(ctx, "x", nil) }).ToNot(Panic())
	})

	It("fails writes after close", func() {
		sink, err := audit.OpenFile(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(sink.Close()).To(Succeed())
		Expect(sink.Write(ctx, model.AuditRecord{Event: "late"})).ToNot(Succeed())
	})
})
