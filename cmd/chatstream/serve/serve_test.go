package servecmder

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatstream/pkg/config"
)

// freeAddr returns a loopback address nothing is listening on.
func freeAddr() string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	addr := ln.Addr().String()
	Expect(ln.Close()).To(Succeed())
	return addr
}

var _ = Describe("Serve Command", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "chatstream-serve-test-*")
		Expect(err).NotTo(HaveOccurred())

		for _, key := range []string{config.EnvAPIKey, config.EnvBaseURL, config.EnvModel, config.EnvMaxTurns} {
			GinkgoT().Setenv(key, "")
		}
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("configuration", func() {
		It("uses the config file when no flags are given", func() {
			path := filepath.Join(tmpDir, "chatstream.toml")
			Expect(os.WriteFile(path, []byte(`
listen = "127.0.0.1:9100"
model = "from-file"
keepalive = "3s"
`), 0o600)).To(Succeed())

			cmder := &serveCommander{}
			cmd := newServeCmd(cmder)
			Expect(cmd.ParseFlags([]string{"--config", path})).To(Succeed())

			cfg, err := cmder.loadConfig(cmd)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Listen).To(Equal("127.0.0.1:9100"))
			Expect(cfg.Model).To(Equal("from-file"))
			Expect(cfg.KeepAlive.Duration).To(Equal(3 * time.Second))
		})

		It("lets explicit flags win over the config file", func() {
			path := filepath.Join(tmpDir, "chatstream.toml")
			Expect(os.WriteFile(path, []byte(`
model = "from-file"
[history]
max_turns = 4
`), 0o600)).To(Succeed())

			cmder := &serveCommander{}
			cmd := newServeCmd(cmder)
			Expect(cmd.ParseFlags([]string{
				"--config", path,
				"--model", "from-flag",
				"--max-turns", "9",
				"--keepalive", "250ms",
			})).To(Succeed())

			cfg, err := cmder.loadConfig(cmd)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Model).To(Equal("from-flag"))
			Expect(cfg.History.MaxTurns).To(Equal(9))
			Expect(cfg.KeepAlive.Duration).To(Equal(250 * time.Millisecond))
			Expect(cfg.Listen).To(Equal(":8000"))
		})

		It("rejects an invalid log format flag", func() {
			cmder := &serveCommander{}
			cmd := newServeCmd(cmder)
			Expect(cmd.ParseFlags([]string{"--log-format", "xml"})).To(Succeed())

			_, err := cmder.loadConfig(cmd)
			Expect(err).To(MatchError(ContainSubstring("log_format")))
		})
	})

	It("serves until its context is cancelled", func() {
		addr := freeAddr()
		dbPath := filepath.Join(tmpDir, "history.db")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		cmd := NewServeCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"--listen", addr, "--db", dbPath, "--keepalive", "50ms"})

		done := make(chan error, 1)
		go func() {
			defer GinkgoRecover()
			done <- cmd.ExecuteContext(ctx)
		}()

		Eventually(func() (map[string]any, error) {
			resp, err := http.Get("http://" + addr + "/health")
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			var health map[string]any
			err = json.NewDecoder(resp.Body).Decode(&health)
			return health, err
		}, 5*time.Second, 20*time.Millisecond).Should(HaveKeyWithValue("status", "ok"))

		cancel()
		Eventually(done, 5*time.Second).Should(Receive(BeNil()))

		_, err := os.Stat(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})
})
