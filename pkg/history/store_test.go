package history_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatstream/pkg/history"
)

// describeStore runs the behaviour every Store implementation must share.
func describeStore(name string, newStore func() history.Store) {
	Describe(name, func() {
		var (
			store history.Store
			ctx   context.Context
		)

		BeforeEach(func() {
			ctx = context.Background()
			store = newStore()
		})

		AfterEach(func() {
			Expect(store.Close()).To(Succeed())
		})

		Describe("Append and Turns", func() {
			It("returns an empty transcript for an unknown session", func() {
				turns, err := store.Turns(ctx, "nobody", 0)
				Expect(err).NotTo(HaveOccurred())
				Expect(turns).To(BeEmpty())
			})

			It("stores a turn with its rendered text", func() {
				turn, err := store.Append(ctx, history.DefaultSession, "hi", "Hello world", "mistral-small")
				Expect(err).NotTo(HaveOccurred())
				Expect(turn.Text).To(Equal("**User:** hi\n\n**Chatbot:** Hello world"))

				turns, err := store.Turns(ctx, history.DefaultSession, 0)
				Expect(err).NotTo(HaveOccurred())
				Expect(turns).To(HaveLen(1))
				Expect(turns[0].Hash).To(Equal(turn.Hash))
				Expect(turns[0].Text).To(Equal(turn.Text))
				Expect(turns[0].Model).To(Equal("mistral-small"))
				Expect(turns[0].ParentHash).To(BeNil())
			})

			It("chains turns in append order", func() {
				first, err := store.Append(ctx, "s", "one", "1", "m")
				Expect(err).NotTo(HaveOccurred())
				second, err := store.Append(ctx, "s", "two", "2", "m")
				Expect(err).NotTo(HaveOccurred())
				third, err := store.Append(ctx, "s", "three", "3", "m")
				Expect(err).NotTo(HaveOccurred())

				Expect(*second.ParentHash).To(Equal(first.Hash))
				Expect(*third.ParentHash).To(Equal(second.Hash))

				turns, err := store.Turns(ctx, "s", 0)
				Expect(err).NotTo(HaveOccurred())
				Expect(turns).To(HaveLen(3))
				Expect(turns[0].Prompt).To(Equal("one"))
				Expect(turns[1].Prompt).To(Equal("two"))
				Expect(turns[2].Prompt).To(Equal("three"))
			})

			It("returns only the most recent turns when limited", func() {
				for _, p := range []string{"one", "two", "three"} {
					_, err := store.Append(ctx, "s", p, "r", "m")
					Expect(err).NotTo(HaveOccurred())
				}

				turns, err := store.Turns(ctx, "s", 2)
				Expect(err).NotTo(HaveOccurred())
				Expect(turns).To(HaveLen(2))
				Expect(turns[0].Prompt).To(Equal("two"))
				Expect(turns[1].Prompt).To(Equal("three"))
			})

			It("keeps sessions isolated", func() {
				_, err := store.Append(ctx, "alice", "hi", "hello alice", "m")
				Expect(err).NotTo(HaveOccurred())
				_, err = store.Append(ctx, "bob", "hi", "hello bob", "m")
				Expect(err).NotTo(HaveOccurred())

				turns, err := store.Turns(ctx, "alice", 0)
				Expect(err).NotTo(HaveOccurred())
				Expect(turns).To(HaveLen(1))
				Expect(turns[0].Reply).To(Equal("hello alice"))
				Expect(turns[0].ParentHash).To(BeNil())
			})
		})

		Describe("Get", func() {
			It("retrieves a turn by hash", func() {
				turn, err := store.Append(ctx, "s", "hi", "there", "m")
				Expect(err).NotTo(HaveOccurred())

				got, err := store.Get(ctx, turn.Hash)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Text).To(Equal(turn.Text))
				Expect(got.Session).To(Equal("s"))
			})

			It("returns ErrNotFound for an unknown hash", func() {
				_, err := store.Get(ctx, "nonexistent")
				Expect(err).To(HaveOccurred())

				var notFound history.ErrNotFound
				Expect(err).To(BeAssignableToTypeOf(notFound))
				Expect(err.Error()).To(ContainSubstring("nonexistent"))
			})
		})

		Describe("Sessions", func() {
			It("lists sessions sorted by name", func() {
				for _, s := range []string{"zed", "amy", "default"} {
					_, err := store.Append(ctx, s, "p", "r", "m")
					Expect(err).NotTo(HaveOccurred())
				}

				sessions, err := store.Sessions(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(sessions).To(Equal([]string{"amy", "default", "zed"}))
			})
		})
	})
}

var _ = Describe("Stores", func() {
	describeStore("MemoryStore", func() history.Store {
		return history.NewMemoryStore(0)
	})

	describeStore("SQLiteStore", func() history.Store {
		store, err := history.NewSQLiteStore(":memory:")
		Expect(err).NotTo(HaveOccurred())
		return store
	})
})

var _ = Describe("MemoryStore eviction", func() {
	It("keeps only the most recent turns per session", func() {
		ctx := context.Background()
		store := history.NewMemoryStore(2)

		first, err := store.Append(ctx, "s", "one", "1", "m")
		Expect(err).NotTo(HaveOccurred())
		_, err = store.Append(ctx, "s", "two", "2", "m")
		Expect(err).NotTo(HaveOccurred())
		third, err := store.Append(ctx, "s", "three", "3", "m")
		Expect(err).NotTo(HaveOccurred())

		turns, err := store.Turns(ctx, "s", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(turns).To(HaveLen(2))
		Expect(turns[1].Hash).To(Equal(third.Hash))

		_, err = store.Get(ctx, first.Hash)
		Expect(err).To(BeAssignableToTypeOf(history.ErrNotFound{}))
	})
})

var _ = Describe("MemoryStore.SetMaxTurns", func() {
	It("trims sessions to a lowered limit", func() {
		ctx := context.Background()
		store := history.NewMemoryStore(0)

		for _, p := range []string{"one", "two", "three"} {
			_, err := store.Append(ctx, "s", p, p, "m")
			Expect(err).NotTo(HaveOccurred())
		}

		store.SetMaxTurns(1)

		turns, err := store.Turns(ctx, "s", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(turns).To(HaveLen(1))
		Expect(turns[0].Prompt).To(Equal("three"))
	})

	It("stops evicting once the limit is lifted", func() {
		ctx := context.Background()
		store := history.NewMemoryStore(1)

		store.SetMaxTurns(0)
		for _, p := range []string{"one", "two"} {
			_, err := store.Append(ctx, "s", p, p, "m")
			Expect(err).NotTo(HaveOccurred())
		}

		turns, err := store.Turns(ctx, "s", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(turns).To(HaveLen(2))
	})
})

var _ = Describe("SQLiteStore on disk", func() {
	It("keeps the transcript across reopen", func() {
		ctx := context.Background()
		dbPath := filepath.Join(GinkgoT().TempDir(), "history.db")

		store, err := history.NewSQLiteStore(dbPath)
		Expect(err).NotTo(HaveOccurred())
		first, err := store.Append(ctx, "s", "one", "1", "m")
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Close()).To(Succeed())

		_, err = os.Stat(dbPath)
		Expect(err).NotTo(HaveOccurred())

		store, err = history.NewSQLiteStore(dbPath)
		Expect(err).NotTo(HaveOccurred())
		defer store.Close()

		second, err := store.Append(ctx, "s", "two", "2", "m")
		Expect(err).NotTo(HaveOccurred())
		Expect(*second.ParentHash).To(Equal(first.Hash))

		turns, err := store.Turns(ctx, "s", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(turns).To(HaveLen(2))
		Expect(turns[0].CreatedAt.UnixNano()).To(Equal(first.CreatedAt.UnixNano()))
	})
})
