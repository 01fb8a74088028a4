package history_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatstream/pkg/history"
)

var _ = Describe("Turn", func() {
	Describe("Render", func() {
		It("formats the exchange as displayed to the client", func() {
			Expect(history.Render("hi", "Hello world")).To(Equal("**User:** hi\n\n**Chatbot:** Hello world"))
		})
	})

	Describe("NewTurn", func() {
		Context("when creating the first turn of a session", func() {
			It("renders the text and leaves ParentHash nil", func() {
				turn := history.NewTurn("default", "hi", "Hello", "mistral-small", nil)

				Expect(turn.Text).To(Equal("**User:** hi\n\n**Chatbot:** Hello"))
				Expect(turn.ParentHash).To(BeNil())
				Expect(turn.CreatedAt).NotTo(BeZero())
			})

			It("produces a valid SHA-256 hex string (64 characters)", func() {
				turn := history.NewTurn("default", "hi", "Hello", "mistral-small", nil)

				Expect(turn.Hash).To(MatchRegexp("^[a-f0-9]{64}$"))
			})

			It("produces consistent hashes for the same exchange", func() {
				a := history.NewTurn("default", "hi", "Hello", "m", nil)
				b := history.NewTurn("default", "hi", "Hello", "m", nil)

				Expect(a.Hash).To(Equal(b.Hash))
			})

			It("produces different hashes in different sessions", func() {
				a := history.NewTurn("alice", "hi", "Hello", "m", nil)
				b := history.NewTurn("bob", "hi", "Hello", "m", nil)

				Expect(a.Hash).NotTo(Equal(b.Hash))
			})
		})

		Context("when chaining turns", func() {
			It("links each turn to the previous one", func() {
				first := history.NewTurn("default", "one", "1", "m", nil)
				second := history.NewTurn("default", "two", "2", "m", first)
				third := history.NewTurn("default", "three", "3", "m", second)

				Expect(*second.ParentHash).To(Equal(first.Hash))
				Expect(*third.ParentHash).To(Equal(second.Hash))
			})

			It("produces different hashes for the same exchange with different parents", func() {
				p1 := history.NewTurn("default", "a", "1", "m", nil)
				p2 := history.NewTurn("default", "b", "2", "m", nil)

				Expect(history.NewTurn("default", "x", "y", "m", p1).Hash).
					NotTo(Equal(history.NewTurn("default", "x", "y", "m", p2).Hash))
			})
		})
	})
})
