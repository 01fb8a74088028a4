package historycmder

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatstream/pkg/history"
)

var _ = Describe("History Command", func() {
	var (
		ctx    context.Context
		tmpDir string
		dbPath string
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		tmpDir, err = os.MkdirTemp("", "chatstream-history-test-*")
		Expect(err).NotTo(HaveOccurred())
		dbPath = filepath.Join(tmpDir, "history.db")
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	seed := func() []*history.Turn {
		store, err := history.NewSQLiteStore(dbPath)
		Expect(err).NotTo(HaveOccurred())
		defer store.Close()

		var turns []*history.Turn
		for _, t := range []struct{ session, prompt, reply string }{
			{"default", "hi", "Hello world"},
			{"default", "and then?", "Nothing else"},
			{"work", "summarize", "Done"},
		} {
			turn, err := store.Append(ctx, t.session, t.prompt, t.reply, "mistral-small")
			Expect(err).NotTo(HaveOccurred())
			turns = append(turns, turn)
		}
		return turns
	}

	runHistory := func(args ...string) (string, error) {
		cmd := NewHistoryCmd()
		out := &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(args)
		err := cmd.ExecuteContext(ctx)
		return out.String(), err
	}

	It("lists sessions with their turn counts", func() {
		seed()

		out, err := runHistory("--db", dbPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("default  2 turns  and then?"))
		Expect(out).To(ContainSubstring("work  1 turns  summarize"))
	})

	It("lists sessions as JSON", func() {
		seed()

		out, err := runHistory("--db", dbPath, "--json")
		Expect(err).NotTo(HaveOccurred())

		var summaries []sessionSummary
		Expect(json.Unmarshal([]byte(out), &summaries)).To(Succeed())
		Expect(summaries).To(Equal([]sessionSummary{
			{Session: "default", Turns: 2, LastPrompt: "and then?"},
			{Session: "work", Turns: 1, LastPrompt: "summarize"},
		}))
	})

	It("prints a session transcript", func() {
		turns := seed()

		out, err := runHistory("--db", dbPath, "--session", "default")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("**User:** hi\n\n**Chatbot:** Hello world"))
		Expect(out).To(ContainSubstring("**User:** and then?\n\n**Chatbot:** Nothing else"))
		Expect(out).To(ContainSubstring(turns[0].Hash[:12]))
		Expect(out).NotTo(ContainSubstring("summarize"))
	})

	It("limits the transcript to the most recent turns", func() {
		turns := seed()

		out, err := runHistory("--db", dbPath, "--session", "default", "--last", "1", "--json")
		Expect(err).NotTo(HaveOccurred())

		var got []*history.Turn
		Expect(json.Unmarshal([]byte(out), &got)).To(Succeed())
		Expect(got).To(HaveLen(1))
		Expect(got[0].Hash).To(Equal(turns[1].Hash))
		Expect(*got[0].ParentHash).To(Equal(turns[0].Hash))
	})

	It("reports an empty session", func() {
		seed()

		out, err := runHistory("--db", dbPath, "--session", "nobody")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("No turns recorded for session nobody."))
	})

	It("reports an empty archive", func() {
		store, err := history.NewSQLiteStore(dbPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Close()).To(Succeed())

		out, err := runHistory("--db", dbPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("No recorded sessions."))
	})

	It("fails when the archive does not exist", func() {
		_, err := runHistory("--db", filepath.Join(tmpDir, "missing.db"))
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("could not open history archive"))

		_, statErr := os.Stat(filepath.Join(tmpDir, "missing.db"))
		Expect(os.IsNotExist(statErr)).To(BeTrue())
	})

	It("requires --db", func() {
		_, err := runHistory()
		Expect(err).To(HaveOccurred())
	})
})
